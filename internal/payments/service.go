// Package payments initiates bill payments. Every payment passes the
// transaction PIN gate first and carries an idempotency key that survives a
// suspension for PIN setup, so a retried or resumed payment is the same
// payment to the server.
package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/pin"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/validate"
)

// Outcome is the result of a payment attempt: Completed, PinSetupRequired
// or Rejected.
type Outcome interface {
	isOutcome()
}

// Completed means the server accepted the payment.
type Completed struct {
	Reference      string
	Message        string
	IdempotencyKey string
}

// PinSetupRequired means the payment is suspended until a transaction PIN
// is set; pass the continuation to Resume.
type PinSetupRequired struct {
	Continuation pin.Continuation
}

// Rejected carries the failure. When remote.Retryable(Result) holds, calling
// Submit with the same IdempotencyKey is safe.
type Rejected struct {
	Result         remote.Result
	IdempotencyKey string
}

func (Completed) isOutcome()        {}
func (PinSetupRequired) isOutcome() {}
func (Rejected) isOutcome()         {}

// Service initiates payments.
type Service struct {
	client   *remote.Client
	gate     *pin.Gate
	sessions *session.Repository
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service.
func NewService(client *remote.Client, gate *pin.Gate, sessions *session.Repository, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		client:   client,
		gate:     gate,
		sessions: sessions,
		notifier: notifier,
		logger:   logging.Component(logger, "payments"),
	}
}

type submission struct {
	pin.PaymentRequest
	TransactionPin string `json:"transactionPin"`
}

// Initiate runs req through the gate and submits it with transactionPin
// when the gate lets it through.
func (s *Service) Initiate(ctx context.Context, req pin.PaymentRequest, transactionPin string) (Outcome, error) {
	decision, err := s.gate.Check(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("payment gate: %w", err)
	}
	switch d := decision.(type) {
	case pin.Proceed:
		return s.Submit(ctx, d.Request, d.IdempotencyKey, transactionPin), nil
	case pin.SetupRequired:
		return PinSetupRequired{Continuation: d.Continuation}, nil
	case pin.Refused:
		return Rejected{Result: d.Result}, nil
	default:
		return nil, fmt.Errorf("payment gate: unexpected decision %T", decision)
	}
}

// Resume sets the transaction PIN for a suspended payment and submits the
// original request with the new PIN and the original idempotency key.
func (s *Service) Resume(ctx context.Context, cont pin.Continuation, transactionPin string) (Outcome, error) {
	decision, err := s.gate.Resume(ctx, cont, transactionPin)
	if err != nil {
		return nil, fmt.Errorf("resume payment: %w", err)
	}
	switch d := decision.(type) {
	case pin.Proceed:
		return s.Submit(ctx, d.Request, d.IdempotencyKey, transactionPin), nil
	case pin.Refused:
		return Rejected{Result: d.Result, IdempotencyKey: cont.IdempotencyKey}, nil
	default:
		return nil, fmt.Errorf("resume payment: unexpected decision %T", decision)
	}
}

// Submit sends an already gated request. Callers retrying a Rejected outcome
// pass its IdempotencyKey unchanged.
func (s *Service) Submit(ctx context.Context, req pin.PaymentRequest, idempotencyKey, transactionPin string) Outcome {
	if err := validate.Var("transactionPin", transactionPin, "required,"+validate.TagTxnPIN); err != nil {
		return Rejected{Result: remote.Invalid(err), IdempotencyKey: idempotencyKey}
	}
	if idempotencyKey == "" {
		return Rejected{Result: &remote.ValidationError{Field: "idempotencyKey", Message: "is required"}}
	}
	sess, err := s.sessions.Load(ctx)
	if err != nil {
		return Rejected{Result: &remote.AuthRequired{}, IdempotencyKey: idempotencyKey}
	}

	log := s.logger.With(slog.String("kind", req.Kind), slog.String("idempotency_key", idempotencyKey))
	res := s.client.RequestIdempotent(ctx, sess.Token, idempotencyKey, "payments/"+req.Kind, submission{
		PaymentRequest: req,
		TransactionPin: transactionPin,
	}, remote.ClassOTP)

	ok, isOK := res.(*remote.Success)
	if !isOK {
		log.Warn("payment not accepted", slog.String("result", remote.Kind(res)))
		return Rejected{Result: res, IdempotencyKey: idempotencyKey}
	}
	log.Info("payment accepted", slog.String("reference", ok.Envelope.Reference))
	notification.Publish(ctx, s.notifier, s.logger, notification.Message{
		Kind: notification.KindPaymentCompleted, UserID: sess.User.ID, Detail: ok.Envelope.Reference,
	})
	return Completed{
		Reference:      ok.Envelope.Reference,
		Message:        ok.Envelope.Message,
		IdempotencyKey: idempotencyKey,
	}
}
