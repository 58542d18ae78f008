// Package pin manages the two PIN domains and the gate in front of every
// payment. The login PIN (6 digits) and the transaction PIN (4 digits) are
// separate credentials with separate endpoints; neither is stored locally.
package pin

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

// Domain names which PIN an operation touches.
type Domain string

const (
	Login       Domain = "login"
	Transaction Domain = "transaction"
)

const (
	endpointSetPin               = "set-pin"
	endpointChangeLoginPin       = "change-login-pin"
	endpointResetLoginPin        = "reset-login-pin"
	endpointSetTransactionPin    = "set-transaction-pin"
	endpointChangeTransactionPin = "change-transaction-pin"
	endpointResetTransactionPin  = "reset-transaction-pin"
	endpointTransactionPinStatus = "transaction-pin-status"
	endpointUpdateRequirePin     = "update-require-pin"
)

// Manager performs PIN operations against the remote service.
type Manager struct {
	client   *remote.Client
	sessions *session.Repository
	otps     *otp.Manager
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewManager constructs a PIN manager.
func NewManager(client *remote.Client, sessions *session.Repository, otps *otp.Manager, notifier notification.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		client:   client,
		sessions: sessions,
		otps:     otps,
		notifier: notifier,
		logger:   logging.Component(logger, "pin"),
	}
}

type setLoginInput struct {
	UserID string `json:"userId" validate:"required"`
	Pin    string `json:"pin" validate:"required,loginpin"`
}

type changeInput struct {
	Current string `json:"currentPin" validate:"required"`
	Next    string `json:"newPin" validate:"required,nefield=Current"`
}

type resetInput struct {
	Phone string `json:"phone,omitempty"`
	Code  string `json:"code" validate:"required,otpcode"`
	Next  string `json:"newPin" validate:"required"`
}

type setTransactionInput struct {
	Current string `json:"currentPin,omitempty" validate:"omitempty,txnpin"`
	Next    string `json:"pin" validate:"required,txnpin,nefield=Current"`
}

// SetLoginPin sets the first login PIN for a freshly registered user.
func (m *Manager) SetLoginPin(ctx context.Context, userID, pin string) remote.Result {
	in := setLoginInput{UserID: userID, Pin: pin}
	if err := validate.Struct(in); err != nil {
		return remote.Invalid(err)
	}
	res := m.client.Request(ctx, endpointSetPin, in, remote.ClassAuth)
	m.changed(ctx, Login, userID, res)
	return res
}

// ChangeLoginPin replaces the login PIN, proving the current one.
func (m *Manager) ChangeLoginPin(ctx context.Context, current, next string) remote.Result {
	if err := checkPair(current, next, validate.TagLoginPIN); err != nil {
		return remote.Invalid(err)
	}
	return m.authorized(ctx, Login, endpointChangeLoginPin, changeInput{Current: current, Next: next})
}

// ResetLoginPin replaces a forgotten login PIN using a pin-reset code.
func (m *Manager) ResetLoginPin(ctx context.Context, phone, code, next string) remote.Result {
	in := resetInput{Phone: phone, Code: code, Next: next}
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	if err := validate.Struct(in); err != nil {
		return remote.Invalid(err)
	}
	if err := validate.Var("newPin", next, validate.TagLoginPIN); err != nil {
		return remote.Invalid(err)
	}
	res := m.client.Request(ctx, endpointResetLoginPin, in, remote.ClassAuth)
	if _, ok := res.(*remote.Success); ok {
		m.otps.Release(phone, otp.PinReset)
	}
	m.changed(ctx, Login, "", res)
	return res
}

// RequestReset asks the server to send a pin-reset code to phone.
func (m *Manager) RequestReset(ctx context.Context, phone string) remote.Result {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	return m.otps.Challenge(phone, otp.PinReset).Request(ctx, nil)
}

// VerifyResetCode checks a pin-reset code before a new PIN is chosen.
func (m *Manager) VerifyResetCode(ctx context.Context, phone, code string) remote.Result {
	if err := validate.Var("phone", phone, validate.TagPhone); err != nil {
		return remote.Invalid(err)
	}
	return m.otps.Challenge(phone, otp.PinReset).Verify(ctx, code, nil)
}

// SetTransactionPin sets the transaction PIN. current may be empty the first
// time; when both are given they must differ.
func (m *Manager) SetTransactionPin(ctx context.Context, current, next string) remote.Result {
	in := setTransactionInput{Current: current, Next: next}
	if err := validate.Struct(in); err != nil {
		return remote.Invalid(err)
	}
	return m.authorized(ctx, Transaction, endpointSetTransactionPin, in)
}

// ChangeTransactionPin replaces the transaction PIN, proving the current one.
func (m *Manager) ChangeTransactionPin(ctx context.Context, current, next string) remote.Result {
	if err := checkPair(current, next, validate.TagTxnPIN); err != nil {
		return remote.Invalid(err)
	}
	return m.authorized(ctx, Transaction, endpointChangeTransactionPin, changeInput{Current: current, Next: next})
}

// ResetTransactionPin replaces the transaction PIN using a one-time code.
func (m *Manager) ResetTransactionPin(ctx context.Context, code, next string) remote.Result {
	in := resetInput{Code: code, Next: next}
	if err := validate.Struct(in); err != nil {
		return remote.Invalid(err)
	}
	if err := validate.Var("newPin", next, validate.TagTxnPIN); err != nil {
		return remote.Invalid(err)
	}
	return m.authorized(ctx, Transaction, endpointResetTransactionPin, in)
}

// TransactionPinStatus asks the server whether the user has a transaction
// PIN. hasPin is meaningful only when the Result is *remote.Success.
func (m *Manager) TransactionPinStatus(ctx context.Context) (bool, remote.Result) {
	token, res := m.token(ctx)
	if res != nil {
		return false, res
	}
	res = m.client.RequestAuthorized(ctx, token, endpointTransactionPinStatus, nil, remote.ClassAuth)
	ok, isOK := res.(*remote.Success)
	if !isOK {
		return false, res
	}
	if ok.Envelope.HasPin == nil {
		return false, &remote.ServerError{Status: ok.Status, Message: "The service did not report PIN status.", Envelope: ok.Envelope}
	}
	return *ok.Envelope.HasPin, res
}

// UpdateRequirePin changes whether the app asks for the login PIN on open.
// After the server accepts it the stored session is rewritten with the new
// flag; err reports a failure of that local write.
func (m *Manager) UpdateRequirePin(ctx context.Context, require bool) (remote.Result, error) {
	token, res := m.token(ctx)
	if res != nil {
		return res, nil
	}
	res = m.client.RequestAuthorized(ctx, token, endpointUpdateRequirePin, map[string]bool{"requirePinOnOpen": require}, remote.ClassAuth)
	if _, ok := res.(*remote.Success); !ok {
		return res, nil
	}
	if err := m.sessions.SetRequirePin(ctx, require); err != nil {
		return res, fmt.Errorf("update require pin: %w", err)
	}
	return res, nil
}

func (m *Manager) authorized(ctx context.Context, domain Domain, endpoint string, payload any) remote.Result {
	token, res := m.token(ctx)
	if res != nil {
		return res
	}
	res = m.client.RequestAuthorized(ctx, token, endpoint, payload, remote.ClassAuth)
	m.changed(ctx, domain, "", res)
	return res
}

func (m *Manager) token(ctx context.Context) (string, remote.Result) {
	sess, err := m.sessions.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return "", &remote.AuthRequired{}
	}
	if err != nil {
		m.logger.Error("load session", slog.Any("error", err))
		return "", &remote.AuthRequired{Message: "Your session could not be read. Please log in again."}
	}
	return sess.Token, nil
}

func (m *Manager) changed(ctx context.Context, domain Domain, userID string, res remote.Result) {
	m.logger.Info("pin operation", slog.String("domain", string(domain)), slog.String("result", remote.Kind(res)))
	if _, ok := res.(*remote.Success); !ok {
		return
	}
	notification.Publish(ctx, m.notifier, m.logger, notification.Message{
		Kind: notification.KindPinChanged, UserID: userID, Detail: string(domain),
	})
}

// checkPair validates a current/next pair in one domain.
func checkPair(current, next, tag string) error {
	if err := validate.Var("currentPin", current, "required,"+tag); err != nil {
		return err
	}
	if err := validate.Var("newPin", next, "required,"+tag); err != nil {
		return err
	}
	if err := validate.Struct(changeInput{Current: current, Next: next}); err != nil {
		return err
	}
	return nil
}
