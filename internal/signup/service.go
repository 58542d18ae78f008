// Package signup registers new users and verifies their phone number.
package signup

import (
	"context"
	"log/slog"

	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/otp"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/validate"
)

// Input is the registration form.
type Input struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"required,phone11"`
}

// Service drives registration and the register-verify code.
type Service struct {
	client *remote.Client
	otps   *otp.Manager
	logger *slog.Logger
}

// NewService constructs a signup service.
func NewService(client *remote.Client, otps *otp.Manager, logger *slog.Logger) *Service {
	return &Service{client: client, otps: otps, logger: logging.Component(logger, "signup")}
}

// Register creates the account. The server texts a verification code on
// success, so the resend cooldown starts immediately.
func (s *Service) Register(ctx context.Context, in Input) remote.Result {
	if err := validate.Struct(in); err != nil {
		return remote.Invalid(err)
	}
	res := s.client.Request(ctx, "register", in, remote.ClassAuth)
	if _, ok := res.(*remote.Success); ok {
		s.otps.Challenge(in.Phone, otp.RegisterVerify).MarkSent()
	}
	s.logger.Info("register", slog.String("result", remote.Kind(res)))
	return res
}

// VerifyPhone submits the register-verify code for phone.
func (s *Service) VerifyPhone(ctx context.Context, phone, code string) remote.Result {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	return s.otps.Challenge(phone, otp.RegisterVerify).Verify(ctx, code, nil)
}

// ResendCode asks for a new register-verify code, subject to the cooldown.
func (s *Service) ResendCode(ctx context.Context, phone string) remote.Result {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	return s.otps.Challenge(phone, otp.RegisterVerify).Resend(ctx, nil)
}

// Abandon stops the register-verify countdown for phone.
func (s *Service) Abandon(phone string) {
	s.otps.Release(phone, otp.RegisterVerify)
}
