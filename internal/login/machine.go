// Package login is the login state machine. It decides whether an attempt
// yields a session directly, needs device step-up, or needs the phone
// verified first, and it never leaves a partial session behind.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/congo-pay/billpay/internal/device"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/signup"
	"github.com/congo-pay/billpay/internal/stepup"
	"github.com/congo-pay/billpay/internal/validate"
)

// ErrSuperseded is reported when Reset or another Submit overtook an
// attempt that was still waiting on the network.
var ErrSuperseded = errors.New("login attempt superseded")

const codePhoneNotVerified = "phone_not_verified"

var phoneNotVerifiedPattern = regexp.MustCompile(`(?i)phone .*not verified`)

// Devices supplies the installation's identity.
type Devices interface {
	GetOrCreateDeviceID(ctx context.Context) (string, error)
	Fingerprint(ctx context.Context) device.Fingerprint
}

// Dependencies are the collaborators of a Machine.
type Dependencies struct {
	Client   *remote.Client
	Devices  Devices
	Sessions *session.Repository
	StepUp   *stepup.Service
	Signup   *signup.Service
	Notifier notification.Notifier
	Logger   *slog.Logger
}

type credentials struct {
	Phone string `json:"phone" validate:"required,phone11"`
	Pin   string `json:"pin" validate:"required,loginpin"`
}

type loginPayload struct {
	Phone      string             `json:"phone"`
	Pin        string             `json:"pin"`
	DeviceID   string             `json:"deviceId"`
	DeviceInfo device.Fingerprint `json:"deviceInfo"`
}

// Machine runs one user's login flow.
type Machine struct {
	deps   Dependencies
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	phone   string
	attempt uint64
}

// NewMachine builds a Machine in the Idle state.
func NewMachine(deps Dependencies) *Machine {
	return &Machine{deps: deps, logger: logging.Component(deps.Logger, "login")}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Phone returns the phone number of the current attempt.
func (m *Machine) Phone() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phone
}

// Submit attempts a login. Malformed input is rejected without leaving the
// current state or touching the network.
func (m *Machine) Submit(ctx context.Context, phone, pin string) Outcome {
	if err := validate.Struct(credentials{Phone: phone, Pin: pin}); err != nil {
		return Rejected{Result: remote.Invalid(err)}
	}

	m.mu.Lock()
	if m.state == Submitting {
		m.mu.Unlock()
		return Rejected{Result: &remote.ValidationError{Message: "A login attempt is already in progress."}}
	}
	previous := m.phone
	m.attempt++
	attempt := m.attempt
	m.state = Submitting
	m.phone = phone
	m.mu.Unlock()
	m.releaseChallenges(previous)

	deviceID, err := m.deps.Devices.GetOrCreateDeviceID(ctx)
	if err != nil {
		m.logger.Error("device id unavailable", slog.Any("error", err))
		return m.finish(attempt, Failed, Failure{Err: fmt.Errorf("device id: %w", err), Retryable: true})
	}
	res := m.deps.Client.Request(ctx, "login", loginPayload{
		Phone:      phone,
		Pin:        pin,
		DeviceID:   deviceID,
		DeviceInfo: m.deps.Devices.Fingerprint(ctx),
	}, remote.ClassAuth)
	m.logger.Info("login response", slog.String("result", remote.Kind(res)))

	if !m.current(attempt) {
		return Failure{Err: ErrSuperseded}
	}
	return m.transition(ctx, attempt, phone, res)
}

func (m *Machine) transition(ctx context.Context, attempt uint64, phone string, res remote.Result) Outcome {
	switch r := res.(type) {
	case *remote.Success:
		if phoneNotVerified(r.Envelope) {
			return m.phoneUnverified(attempt, phone, r.Envelope.Message)
		}
		if r.Envelope.IsNewDevice {
			return m.deviceChallenge(ctx, attempt, phone, r.Envelope.Message)
		}
		sess, err := session.FromEnvelope(r.Envelope, phone)
		if err != nil {
			m.logger.Error("login response unusable", slog.Any("error", err))
			return m.finish(attempt, Failed, Failure{Result: &remote.ServerError{
				Status:   r.Status,
				Message:  "The service returned an incomplete response. Please try again.",
				Envelope: r.Envelope,
			}})
		}
		if err := m.deps.Sessions.Save(ctx, sess); err != nil {
			return m.finish(attempt, Failed, Failure{Err: err})
		}
		notification.Publish(ctx, m.deps.Notifier, m.logger, notification.Message{
			Kind: notification.KindSessionEstablished, UserID: sess.User.ID, Phone: phone, Detail: "login",
		})
		return m.finish(attempt, Success, LoggedIn{Session: sess})
	case *remote.ServerError:
		if phoneNotVerified(r.Envelope) || phoneNotVerifiedPattern.MatchString(r.Message) {
			return m.phoneUnverified(attempt, phone, r.Message)
		}
		// servers that withhold the token for an unknown device may answer
		// with success=false or a 403
		if r.Envelope.IsNewDevice {
			return m.deviceChallenge(ctx, attempt, phone, r.Message)
		}
		return m.finish(attempt, Failed, Failure{Result: res})
	default:
		return m.finish(attempt, Failed, Failure{Result: res, Retryable: remote.Retryable(res)})
	}
}

func (m *Machine) deviceChallenge(ctx context.Context, attempt uint64, phone, message string) Outcome {
	m.deps.StepUp.Begin(phone)
	notification.Publish(ctx, m.deps.Notifier, m.logger, notification.Message{
		Kind: notification.KindDeviceChallenge, Phone: phone,
	})
	return m.finish(attempt, DeviceChallenge, ChallengeIssued{
		Phone:             phone,
		Message:           message,
		CooldownRemaining: m.deps.StepUp.CooldownRemaining(phone),
	})
}

func (m *Machine) phoneUnverified(attempt uint64, phone, message string) Outcome {
	return m.finish(attempt, PhoneUnverified, PhoneNotVerified{Phone: phone, Message: message})
}

func phoneNotVerified(env remote.Envelope) bool {
	if env.Code == codePhoneNotVerified {
		return true
	}
	return env.PhoneVerified != nil && !*env.PhoneVerified
}

// VerifyDevice submits the device code from the DeviceChallenge state. A
// wrong or expired code keeps the challenge open; a session that cannot be
// stored moves the machine to Failed.
func (m *Machine) VerifyDevice(ctx context.Context, code string) Outcome {
	phone, attempt, ok := m.in(DeviceChallenge)
	if !ok {
		return notIn(DeviceChallenge)
	}
	deviceID, err := m.deps.Devices.GetOrCreateDeviceID(ctx)
	if err != nil {
		return Failure{Err: fmt.Errorf("device id: %w", err), Retryable: true}
	}

	sess, res, err := m.deps.StepUp.Verify(ctx, phone, code, deviceID)
	if err != nil {
		return m.finish(attempt, Failed, Failure{Err: err})
	}
	switch res.(type) {
	case *remote.Success:
		return m.finish(attempt, Success, LoggedIn{Session: sess})
	case *remote.ValidationError:
		return Rejected{Result: res}
	default:
		return Failure{Result: res, Retryable: remote.Retryable(res)}
	}
}

// ResendDeviceCode asks for another device code, subject to the cooldown.
func (m *Machine) ResendDeviceCode(ctx context.Context) remote.Result {
	phone, _, ok := m.in(DeviceChallenge)
	if !ok {
		return notIn(DeviceChallenge).Result
	}
	return m.deps.StepUp.Resend(ctx, phone)
}

// ResendRegistrationCode asks for another phone verification code.
func (m *Machine) ResendRegistrationCode(ctx context.Context) remote.Result {
	phone, _, ok := m.in(PhoneUnverified)
	if !ok {
		return notIn(PhoneUnverified).Result
	}
	return m.deps.Signup.ResendCode(ctx, phone)
}

// VerifyPhone submits the registration code from PhoneUnverified. On success
// the machine returns to Idle and the user logs in again.
func (m *Machine) VerifyPhone(ctx context.Context, code string) remote.Result {
	phone, attempt, ok := m.in(PhoneUnverified)
	if !ok {
		return notIn(PhoneUnverified).Result
	}
	res := m.deps.Signup.VerifyPhone(ctx, phone, code)
	if _, ok := res.(*remote.Success); ok {
		m.finish(attempt, Idle, nil)
	}
	return res
}

// Reset abandons the current flow, stops any countdown it owns and returns
// to Idle. An attempt still waiting on the network is discarded when it
// returns.
func (m *Machine) Reset() {
	m.mu.Lock()
	phone := m.phone
	m.attempt++
	m.state = Idle
	m.phone = ""
	m.mu.Unlock()
	m.releaseChallenges(phone)
}

// Logout clears the stored session and resets the machine.
func (m *Machine) Logout(ctx context.Context) error {
	sess, _ := m.deps.Sessions.Load(ctx)
	if err := m.deps.Sessions.Clear(ctx); err != nil {
		return err
	}
	m.Reset()
	notification.Publish(ctx, m.deps.Notifier, m.logger, notification.Message{
		Kind: notification.KindLoggedOut, UserID: sess.User.ID,
	})
	return nil
}

func (m *Machine) releaseChallenges(phone string) {
	if phone == "" {
		return
	}
	m.deps.StepUp.Cancel(phone)
	m.deps.Signup.Abandon(phone)
}

func (m *Machine) in(state State) (string, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phone, m.attempt, m.state == state
}

func (m *Machine) current(attempt uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt == attempt
}

// finish moves to next if attempt is still the live one and returns out.
func (m *Machine) finish(attempt uint64, next State, out Outcome) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != attempt {
		return Failure{Err: ErrSuperseded}
	}
	m.state = next
	return out
}

func notIn(state State) Rejected {
	return Rejected{Result: &remote.ValidationError{Message: "This action is only available in the " + state.String() + " step."}}
}
