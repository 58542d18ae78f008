// Package trust caches which device ids each user has verified. It mirrors
// grants the server already made after a device verification and never
// originates trust itself; the server's isNewDevice flag stays authoritative.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
)

// ErrUserRequired is returned when an operation is given an empty user id.
var ErrUserRequired = errors.New("user id is required")

// DeviceIDSource supplies the current installation's device id.
type DeviceIDSource interface {
	GetOrCreateDeviceID(ctx context.Context) (string, error)
}

// Store is the per-user trusted device set.
type Store struct {
	kv      kvstore.Store
	devices DeviceIDSource
	logger  *slog.Logger

	// mu serialises read-modify-write cycles within this process; other
	// processes sharing kv still resolve by last write wins.
	mu sync.Mutex
}

// NewStore builds a trust store.
func NewStore(kv kvstore.Store, devices DeviceIDSource, logger *slog.Logger) *Store {
	return &Store{kv: kv, devices: devices, logger: logging.Component(logger, "trust")}
}

// IsTrusted reports whether the current device is in userID's set.
func (s *Store) IsTrusted(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrUserRequired
	}
	deviceID, err := s.devices.GetOrCreateDeviceID(ctx)
	if err != nil {
		return false, err
	}
	set, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := set[deviceID]
	return ok, nil
}

// Trust adds the current device to userID's set. Repeating it is harmless.
func (s *Store) Trust(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	deviceID, err := s.devices.GetOrCreateDeviceID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := set[deviceID]; ok {
		return nil
	}
	set[deviceID] = struct{}{}
	if err := s.save(ctx, userID, set); err != nil {
		return err
	}
	s.logger.Info("device trusted", slog.String("user_id", userID))
	return nil
}

// Untrust removes deviceID (the current device when empty) from userID's set.
func (s *Store) Untrust(ctx context.Context, userID, deviceID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	if deviceID == "" {
		current, err := s.devices.GetOrCreateDeviceID(ctx)
		if err != nil {
			return err
		}
		deviceID = current
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := set[deviceID]; !ok {
		return nil
	}
	delete(set, deviceID)
	return s.save(ctx, userID, set)
}

// ListTrusted returns userID's trusted device ids in sorted order.
func (s *Store) ListTrusted(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	set, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sorted(set), nil
}

// ClearAll forgets every trusted device of userID.
func (s *Store) ClearAll(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, kvstore.TrustKey(userID)); err != nil {
		return fmt.Errorf("clear trusted devices: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, userID string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	raw, err := s.kv.Get(ctx, kvstore.TrustKey(userID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trusted devices: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("trusted device set unreadable, treating as empty", slog.String("user_id", userID), slog.Any("error", err))
		return set, nil
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *Store) save(ctx context.Context, userID string, set map[string]struct{}) error {
	raw, err := json.Marshal(sorted(set))
	if err != nil {
		return fmt.Errorf("encode trusted devices: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.TrustKey(userID), string(raw)); err != nil {
		return fmt.Errorf("write trusted devices: %w", err)
	}
	return nil
}

func sorted(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
