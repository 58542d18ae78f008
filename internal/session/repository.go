// Package session persists the authenticated session. The four parts (token,
// user, phone, require-PIN flag) are written together or not at all, and a
// load that finds only some of them reports no session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
)

var (
	// ErrNoSession means no complete session is stored.
	ErrNoSession = errors.New("no session")
	// ErrPersist means the session could not be written; nothing was kept.
	ErrPersist = errors.New("persist session")
	// ErrIncomplete means a session was missing a required part before saving.
	ErrIncomplete = errors.New("incomplete session")
)

// Repository reads and writes the session through the shared store.
type Repository struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewRepository builds a session repository on store.
func NewRepository(store kvstore.Store, logger *slog.Logger) *Repository {
	return &Repository{store: store, logger: logging.Component(logger, "session")}
}

// Save writes s atomically. On failure it removes whatever may have been
// written and returns an error wrapping ErrPersist.
func (r *Repository) Save(ctx context.Context, s Session) error {
	if s.Token == "" || s.User.ID == "" || s.Phone == "" {
		return ErrIncomplete
	}
	user, err := s.User.encode()
	if err != nil {
		return fmt.Errorf("%w: encode user: %v", ErrPersist, err)
	}

	values := map[string]string{
		kvstore.KeySessionToken:      s.Token,
		kvstore.KeySessionUser:       user,
		kvstore.KeySessionPhone:      s.Phone,
		kvstore.KeySessionRequirePin: strconv.FormatBool(s.RequirePinOnOpen),
	}
	if err := r.store.SetMany(ctx, values); err != nil {
		r.logger.Error("session write failed, rolling back", slog.Any("error", err))
		if delErr := r.store.Delete(ctx, kvstore.SessionKeys...); delErr != nil {
			r.logger.Error("session rollback failed", slog.Any("error", delErr))
		}
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	r.logger.Info("session stored", slog.String("user_id", s.User.ID))
	return nil
}

// Load returns the stored session. A partial or unreadable session is
// removed and reported as ErrNoSession.
func (r *Repository) Load(ctx context.Context) (Session, error) {
	parts := make(map[string]string, len(kvstore.SessionKeys))
	for _, key := range kvstore.SessionKeys {
		v, err := r.store.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return Session{}, fmt.Errorf("read %s: %w", key, err)
		}
		parts[key] = v
	}
	if len(parts) == 0 {
		return Session{}, ErrNoSession
	}
	if len(parts) < len(kvstore.SessionKeys) {
		r.discard(ctx, "partial session found")
		return Session{}, ErrNoSession
	}

	user, err := ParseProfile([]byte(parts[kvstore.KeySessionUser]))
	if err != nil {
		r.discard(ctx, "stored user unreadable")
		return Session{}, ErrNoSession
	}
	requirePin, err := strconv.ParseBool(parts[kvstore.KeySessionRequirePin])
	if err != nil {
		r.discard(ctx, "stored require-pin flag unreadable")
		return Session{}, ErrNoSession
	}
	if parts[kvstore.KeySessionToken] == "" {
		r.discard(ctx, "stored token empty")
		return Session{}, ErrNoSession
	}

	return Session{
		Token:            parts[kvstore.KeySessionToken],
		User:             user,
		Phone:            parts[kvstore.KeySessionPhone],
		RequirePinOnOpen: requirePin,
	}, nil
}

// Clear removes every part of the session.
func (r *Repository) Clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, kvstore.SessionKeys...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SetRequirePin rewrites the stored session with a new require-PIN flag.
func (r *Repository) SetRequirePin(ctx context.Context, require bool) error {
	s, err := r.Load(ctx)
	if err != nil {
		return err
	}
	s.RequirePinOnOpen = require
	return r.Save(ctx, s)
}

func (r *Repository) discard(ctx context.Context, reason string) {
	r.logger.Warn("discarding stored session", slog.String("reason", reason))
	if err := r.store.Delete(ctx, kvstore.SessionKeys...); err != nil {
		r.logger.Error("discard session", slog.Any("error", err))
	}
}
