package pin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/billpay/internal/kvstore"
)

var (
	// ErrContinuationNotFound means no suspended payment has that id.
	ErrContinuationNotFound = errors.New("payment continuation not found")
	// ErrContinuationTampered means the stored request no longer matches its digest.
	ErrContinuationTampered = errors.New("payment continuation does not match its digest")
)

// Kinds of payment the client can initiate.
const (
	KindAirtime     = "airtime"
	KindData        = "data"
	KindElectricity = "electricity"
	KindTV          = "tv"
	KindBetting     = "betting"
	KindEducation   = "education"
)

// PaymentRequest is the payload of a payment-initiating action.
type PaymentRequest struct {
	Kind      string            `json:"kind" validate:"required,oneof=airtime data electricity tv betting education"`
	Amount    int64             `json:"amount" validate:"gt=0"`
	Recipient string            `json:"recipient" validate:"required"`
	Provider  string            `json:"provider,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Continuation is a payment suspended until a transaction PIN exists. It
// holds the exact request bytes so the resumed payment carries identical
// parameters and the same idempotency key.
type Continuation struct {
	ID             string          `json:"id"`
	Request        json.RawMessage `json:"request"`
	Digest         string          `json:"digest"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func canonical(req PaymentRequest) ([]byte, error) {
	// encoding/json writes map keys sorted, so equal requests encode equally.
	return json.Marshal(req)
}

func digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func newContinuation(req PaymentRequest, now time.Time) (Continuation, error) {
	raw, err := canonical(req)
	if err != nil {
		return Continuation{}, fmt.Errorf("encode payment request: %w", err)
	}
	return Continuation{
		ID:             uuid.NewString(),
		Request:        raw,
		Digest:         digest(raw),
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now.UTC(),
	}, nil
}

// decode returns the request after checking it against the digest.
func (c Continuation) decode() (PaymentRequest, error) {
	if digest(c.Request) != c.Digest {
		return PaymentRequest{}, ErrContinuationTampered
	}
	var req PaymentRequest
	if err := json.Unmarshal(c.Request, &req); err != nil {
		return PaymentRequest{}, fmt.Errorf("decode payment request: %w", err)
	}
	again, err := canonical(req)
	if err != nil || !bytes.Equal(again, c.Request) {
		return PaymentRequest{}, ErrContinuationTampered
	}
	return req, nil
}

type continuations struct {
	kv kvstore.Store
}

func (s continuations) save(ctx context.Context, c Continuation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode continuation: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.PaymentKey(c.ID), string(raw)); err != nil {
		return fmt.Errorf("store continuation: %w", err)
	}
	return nil
}

func (s continuations) load(ctx context.Context, id string) (Continuation, error) {
	raw, err := s.kv.Get(ctx, kvstore.PaymentKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return Continuation{}, ErrContinuationNotFound
	}
	if err != nil {
		return Continuation{}, fmt.Errorf("load continuation: %w", err)
	}
	var c Continuation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Continuation{}, fmt.Errorf("%w: %v", ErrContinuationTampered, err)
	}
	return c, nil
}

func (s continuations) delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, kvstore.PaymentKey(id)); err != nil {
		return fmt.Errorf("delete continuation: %w", err)
	}
	return nil
}

func (s continuations) list(ctx context.Context) ([]Continuation, error) {
	keys, err := s.kv.Keys(ctx, kvstore.PaymentPrefix())
	if err != nil {
		return nil, fmt.Errorf("list continuations: %w", err)
	}
	out := make([]Continuation, 0, len(keys))
	for _, key := range keys {
		c, err := s.load(ctx, strings.TrimPrefix(key, kvstore.PaymentPrefix()))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
