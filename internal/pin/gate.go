package pin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/validate"
)

// Decision is what the gate says about a payment: Proceed, SetupRequired or
// Refused.
type Decision interface {
	isDecision()
}

// Proceed releases the payment. IdempotencyKey must be sent with it.
type Proceed struct {
	Request        PaymentRequest
	IdempotencyKey string
}

// SetupRequired suspends the payment until a transaction PIN is set.
type SetupRequired struct {
	Continuation Continuation
}

// Refused stops the payment with the Result explaining why.
type Refused struct {
	Result remote.Result
}

func (Proceed) isDecision()       {}
func (SetupRequired) isDecision() {}
func (Refused) isDecision()       {}

// Gate sits in front of every payment-initiating action.
type Gate struct {
	pins     *Manager
	sessions *session.Repository
	store    continuations
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewGate constructs a payment gate. Continuations are kept in kv.
func NewGate(pins *Manager, sessions *session.Repository, kv kvstore.Store, notifier notification.Notifier, logger *slog.Logger) *Gate {
	return &Gate{
		pins:     pins,
		sessions: sessions,
		store:    continuations{kv: kv},
		notifier: notifier,
		logger:   logging.Component(logger, "payment_gate"),
		now:      time.Now,
	}
}

// Check decides whether req may go ahead. A user without a transaction PIN
// gets SetupRequired holding a stored continuation. err reports local
// storage failures only.
func (g *Gate) Check(ctx context.Context, req PaymentRequest) (Decision, error) {
	if err := validate.Struct(req); err != nil {
		return Refused{Result: remote.Invalid(err)}, nil
	}
	sess, err := g.sessions.Load(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			g.logger.Error("load session", slog.Any("error", err))
		}
		return Refused{Result: &remote.AuthRequired{}}, nil
	}

	hasPin, res := g.pins.TransactionPinStatus(ctx)
	switch res.(type) {
	case *remote.Success:
	case *remote.AuthRequired:
		return Refused{Result: res}, nil
	default:
		hasPin = sess.User.HasTransactionPin
		g.logger.Warn("pin status unavailable, using stored profile",
			slog.String("result", remote.Kind(res)),
			slog.Bool("has_pin", hasPin),
		)
	}

	if hasPin {
		return Proceed{Request: req, IdempotencyKey: uuid.NewString()}, nil
	}

	cont, err := newContinuation(req, g.now())
	if err != nil {
		return nil, err
	}
	if err := g.store.save(ctx, cont); err != nil {
		return nil, err
	}
	g.logger.Info("payment suspended for pin setup", slog.String("continuation_id", cont.ID), slog.String("kind", req.Kind))
	notification.Publish(ctx, g.notifier, g.logger, notification.Message{
		Kind: notification.KindPaymentSuspended, UserID: sess.User.ID, Detail: req.Kind,
	})
	return SetupRequired{Continuation: cont}, nil
}

// Resume sets the transaction PIN and, once the server accepts it, releases
// the suspended payment with its original parameters and idempotency key.
// A rejected PIN keeps the continuation for another attempt.
func (g *Gate) Resume(ctx context.Context, cont Continuation, pin string) (Decision, error) {
	stored, err := g.store.load(ctx, cont.ID)
	if err != nil {
		return nil, err
	}
	if stored.Digest != cont.Digest || stored.IdempotencyKey != cont.IdempotencyKey {
		return nil, ErrContinuationTampered
	}
	req, err := stored.decode()
	if err != nil {
		return nil, err
	}

	res := g.pins.SetTransactionPin(ctx, "", pin)
	if _, ok := res.(*remote.Success); !ok {
		return Refused{Result: res}, nil
	}

	if err := g.store.delete(ctx, stored.ID); err != nil {
		g.logger.Warn("continuation not removed", slog.String("continuation_id", stored.ID), slog.Any("error", err))
	}
	g.logger.Info("payment resumed", slog.String("continuation_id", stored.ID), slog.String("kind", req.Kind))
	notification.Publish(ctx, g.notifier, g.logger, notification.Message{
		Kind: notification.KindPaymentResumed, Detail: req.Kind,
	})
	return Proceed{Request: req, IdempotencyKey: stored.IdempotencyKey}, nil
}

// Pending lists suspended payments, oldest first.
func (g *Gate) Pending(ctx context.Context) ([]Continuation, error) {
	list, err := g.store.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// Lookup returns a suspended payment by id.
func (g *Gate) Lookup(ctx context.Context, id string) (Continuation, error) {
	return g.store.load(ctx, id)
}

// Discard abandons a suspended payment.
func (g *Gate) Discard(ctx context.Context, id string) error {
	if _, err := g.store.load(ctx, id); err != nil {
		return err
	}
	if err := g.store.delete(ctx, id); err != nil {
		return fmt.Errorf("discard: %w", err)
	}
	return nil
}
