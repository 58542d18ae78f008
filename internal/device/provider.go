// Package device owns the installation's stable device identifier and the
// advisory fingerprint that accompanies it.
package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
)

const digestChars = 16

// ErrEmptyDeviceID is returned when another writer keeps storing an empty id.
var ErrEmptyDeviceID = errors.New("device: stored device id is empty")

// Provider hands out the device id, creating it on first use.
type Provider struct {
	store  kvstore.Store
	source MetadataSource
	logger *slog.Logger

	mu        sync.Mutex
	newSuffix func() string
}

// NewProvider builds a provider persisting into store. A nil source falls
// back to HostSource.
func NewProvider(store kvstore.Store, source MetadataSource, logger *slog.Logger) *Provider {
	if source == nil {
		source = HostSource{}
	}
	return &Provider{
		store:     store,
		source:    source,
		logger:    logging.Component(logger, "device"),
		newSuffix: uuid.NewString,
	}
}

// GetOrCreateDeviceID returns the persisted id, creating one if absent.
// Creation goes through an in-process mutex and a set-if-absent on the store
// key, so concurrent first calls, in this process or another sharing the
// store, all return the id that won.
func (p *Provider) GetOrCreateDeviceID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.store.Get(ctx, kvstore.KeyDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if err == nil {
		// an empty id blocks the set-if-absent below forever
		p.logger.Warn("empty device id in store, regenerating")
		if err := p.store.Delete(ctx, kvstore.KeyDeviceID); err != nil {
			return "", fmt.Errorf("clear empty device id: %w", err)
		}
	}

	candidate := p.synthesize(ctx)
	stored, err := p.store.SetNX(ctx, kvstore.KeyDeviceID, candidate)
	if err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	if stored {
		p.logger.Info("device id created")
		return candidate, nil
	}

	winner, err := p.store.Get(ctx, kvstore.KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("read device id after race: %w", err)
	}
	if winner == "" {
		return "", ErrEmptyDeviceID
	}
	p.logger.Info("device id created concurrently, adopting stored value")
	return winner, nil
}

// Record returns the device id together with its fingerprint.
func (p *Provider) Record(ctx context.Context) (Record, error) {
	id, err := p.GetOrCreateDeviceID(ctx)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Fingerprint: p.Fingerprint(ctx)}, nil
}

// Fingerprint collects whatever descriptors are readable. It never fails.
func (p *Provider) Fingerprint(_ context.Context) Fingerprint {
	read := func(name string, fn func() (string, error)) string {
		v, err := fn()
		if err != nil {
			p.logger.Debug("device descriptor unavailable", slog.String("field", name), slog.Any("error", err))
			return ""
		}
		return strings.TrimSpace(v)
	}
	return Fingerprint{
		Platform:  read("platform", p.source.Platform),
		OSVersion: read("os_version", p.source.OSVersion),
		ModelName: read("model_name", p.source.ModelName),
		Brand:     read("brand", p.source.Brand),
	}
}

// synthesize derives an id from the hardware descriptors plus a random
// suffix. The digest only makes ids readable in support tooling; the suffix
// is what makes them unique.
func (p *Provider) synthesize(ctx context.Context) string {
	fp := p.Fingerprint(ctx)
	sum := blake2b.Sum256([]byte(strings.Join([]string{fp.Platform, fp.OSVersion, fp.ModelName, fp.Brand}, "|")))
	return hex.EncodeToString(sum[:])[:digestChars] + "-" + p.newSuffix()
}
