// Package stepup runs the device verification a login falls into when the
// server does not recognise the device. A verified code yields the session;
// trusting the device locally follows and is best effort.
package stepup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/otp"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/validate"
)

// Truster records a device the server just trusted.
type Truster interface {
	Trust(ctx context.Context, userID string) error
}

// Service drives device-verify challenges.
type Service struct {
	otps     *otp.Manager
	sessions *session.Repository
	trust    Truster
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a step-up service.
func NewService(otps *otp.Manager, sessions *session.Repository, trust Truster, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		otps:     otps,
		sessions: sessions,
		trust:    trust,
		notifier: notifier,
		logger:   logging.Component(logger, "stepup"),
	}
}

// Begin opens the challenge for a code the server already sent with its
// new-device login response and starts the resend cooldown.
func (s *Service) Begin(phone string) {
	s.otps.Challenge(phone, otp.DeviceVerify).MarkSent()
}

// Request asks the server to deliver a device code.
func (s *Service) Request(ctx context.Context, phone string) remote.Result {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	return s.otps.Challenge(phone, otp.DeviceVerify).Request(ctx, nil)
}

// Resend asks for a new device code. Within the cooldown it returns
// RateLimited with the remaining seconds and sends nothing.
func (s *Service) Resend(ctx context.Context, phone string) remote.Result {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	return s.otps.Challenge(phone, otp.DeviceVerify).Resend(ctx, nil)
}

// CooldownRemaining returns the seconds until Resend reaches the network.
func (s *Service) CooldownRemaining(phone string) int {
	if ch, ok := s.otps.Lookup(phone, otp.DeviceVerify); ok {
		return ch.CooldownRemaining()
	}
	return 0
}

// Cancel abandons the challenge for phone and stops its countdown.
func (s *Service) Cancel(phone string) {
	s.otps.Release(phone, otp.DeviceVerify)
}

// Verify submits code for deviceID. On a verified code the session is stored
// before anything else; a failure to store it is returned as err and leaves
// no session behind. Trusting the device afterwards never fails the call.
//
// When err is non-nil the session was not stored, whatever the Result says.
// A success response without token or user becomes a ServerError.
func (s *Service) Verify(ctx context.Context, phone, code, deviceID string) (session.Session, remote.Result, error) {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return session.Session{}, remote.Invalid(err), nil
	}
	if deviceID == "" {
		return session.Session{}, &remote.ValidationError{Field: "deviceId", Message: "is required"}, nil
	}

	res := s.otps.Challenge(phone, otp.DeviceVerify).Verify(ctx, code, map[string]any{"deviceId": deviceID})
	ok, isOK := res.(*remote.Success)
	if !isOK {
		return session.Session{}, res, nil
	}

	sess, err := session.FromEnvelope(ok.Envelope, phone)
	if err != nil {
		s.logger.Error("device verification response unusable", slog.Any("error", err))
		return session.Session{}, malformed(ok), nil
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return session.Session{}, res, fmt.Errorf("device verification: %w", err)
	}
	notification.Publish(ctx, s.notifier, s.logger, notification.Message{
		Kind: notification.KindSessionEstablished, UserID: sess.User.ID, Phone: phone, Detail: "device verification",
	})

	if err := s.trust.Trust(ctx, sess.User.ID); err != nil {
		s.logger.Warn("trusting device failed", slog.String("user_id", sess.User.ID), slog.Any("error", err))
	} else {
		notification.Publish(ctx, s.notifier, s.logger, notification.Message{
			Kind: notification.KindDeviceTrusted, UserID: sess.User.ID, Phone: phone,
		})
	}
	return sess, res, nil
}

func malformed(ok *remote.Success) *remote.ServerError {
	return &remote.ServerError{
		Status:   ok.Status,
		Message:  "The service returned an incomplete response. Please try again.",
		Envelope: ok.Envelope,
	}
}

// IsPersistFailure reports whether err means the session could not be stored.
func IsPersistFailure(err error) bool {
	return errors.Is(err, session.ErrPersist)
}
