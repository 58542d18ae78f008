// Package otp drives one-time code challenges for phone verification,
// device step-up and PIN reset. Each (phone, purpose) pair has at most one
// live challenge; challenges of different purposes never interact.
package otp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/remote"
)

// DefaultCooldown is the resend cooldown the server documents.
const DefaultCooldown = 60 * time.Second

type key struct {
	phone   string
	purpose Purpose
}

// Manager hands out challenges.
type Manager struct {
	client   *remote.Client
	cooldown int
	logger   *slog.Logger

	mu     sync.Mutex
	active map[key]*Challenge
}

// NewManager builds a Manager. A zero cooldown uses DefaultCooldown.
func NewManager(client *remote.Client, cooldown time.Duration, logger *slog.Logger) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{
		client:   client,
		cooldown: int(cooldown / time.Second),
		logger:   logging.Component(logger, "otp"),
		active:   make(map[key]*Challenge),
	}
}

// Challenge returns the live challenge for phone and purpose, creating it if
// needed. It panics on an unknown purpose, which is a programming error.
func (m *Manager) Challenge(phone string, purpose Purpose) *Challenge {
	eps, ok := EndpointsFor(purpose)
	if !ok {
		panic(fmt.Sprintf("otp: unknown purpose %q", purpose))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{phone: phone, purpose: purpose}
	if c, ok := m.active[k]; ok {
		return c
	}
	c := &Challenge{
		Phone:     phone,
		Purpose:   purpose,
		client:    m.client,
		endpoints: eps,
		cooldown:  m.cooldown,
		logger:    m.logger.With(slog.String("purpose", string(purpose))),
		release:   m.release,
	}
	m.active[k] = c
	return c
}

// Lookup returns the live challenge without creating one.
func (m *Manager) Lookup(phone string, purpose Purpose) (*Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[key{phone: phone, purpose: purpose}]
	return c, ok
}

// Release closes and forgets the challenge for phone and purpose, if any.
func (m *Manager) Release(phone string, purpose Purpose) {
	if c, ok := m.Lookup(phone, purpose); ok {
		c.Close()
	}
}

// Close stops every live challenge.
func (m *Manager) Close() {
	m.mu.Lock()
	live := make([]*Challenge, 0, len(m.active))
	for _, c := range m.active {
		live = append(live, c)
	}
	m.mu.Unlock()
	for _, c := range live {
		c.Close()
	}
}

func (m *Manager) release(c *Challenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{phone: c.Phone, purpose: c.Purpose}
	if m.active[k] == c {
		delete(m.active, k)
	}
}
