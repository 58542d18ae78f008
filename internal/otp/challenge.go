package otp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/validate"
)

// Challenge is one pending code for a (phone, purpose) pair. The client keeps
// no expiry for the code itself; the server decides when it is stale and its
// message is passed through unchanged.
type Challenge struct {
	Phone   string
	Purpose Purpose

	client    *remote.Client
	endpoints Endpoints
	cooldown  int
	logger    *slog.Logger
	release   func(*Challenge)

	mu        sync.Mutex
	countdown *Countdown
	// sending is set while a send is on the wire; generation moves on Close
	// so a send that finishes afterwards does not restart the countdown.
	sending    bool
	generation uint64
}

// Request asks the server to deliver a code. It is refused locally, without
// a network call, while the resend cooldown is running.
func (c *Challenge) Request(ctx context.Context, extra map[string]any) remote.Result {
	return c.deliver(ctx, "request", extra)
}

// Resend asks for a fresh code under the same cooldown rules as Request.
func (c *Challenge) Resend(ctx context.Context, extra map[string]any) remote.Result {
	return c.deliver(ctx, "resend", extra)
}

// MarkSent starts the cooldown for a code the server sent on its own, such
// as the device code issued alongside a new-device login response.
func (c *Challenge) MarkSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartLocked(c.cooldown)
}

func (c *Challenge) deliver(ctx context.Context, action string, extra map[string]any) remote.Result {
	c.mu.Lock()
	if c.countdown != nil && c.countdown.Active() {
		wait := c.countdown.Remaining()
		c.mu.Unlock()
		c.logger.Info("otp resend refused during cooldown", slog.String("action", action), slog.Int("wait_seconds", wait))
		return &remote.RateLimited{WaitSeconds: wait}
	}
	if c.sending {
		c.mu.Unlock()
		c.logger.Info("otp resend refused while a send is in flight", slog.String("action", action))
		return &remote.RateLimited{Message: "A code is already on its way."}
	}
	c.sending = true
	generation := c.generation
	c.mu.Unlock()

	res := c.client.Request(ctx, c.endpoints.Send, c.payload(extra), remote.ClassOTP)

	c.mu.Lock()
	c.sending = false
	if generation == c.generation {
		switch r := res.(type) {
		case *remote.Success:
			c.restartLocked(c.cooldown)
		case *remote.RateLimited:
			c.restartLocked(r.WaitSeconds)
		}
	}
	c.mu.Unlock()
	c.logger.Info("otp delivery", slog.String("action", action), slog.String("result", remote.Kind(res)))
	return res
}

// Verify checks code with the server. Codes that are not six digits are
// rejected locally. A successful verification ends the challenge.
func (c *Challenge) Verify(ctx context.Context, code string, extra map[string]any) remote.Result {
	if err := validate.Var("code", code, validate.TagOTP); err != nil {
		return remote.Invalid(err)
	}
	payload := c.payload(extra)
	payload["code"] = code

	res := c.client.Request(ctx, c.endpoints.Verify, payload, remote.ClassOTP)
	c.logger.Info("otp verification", slog.String("result", remote.Kind(res)))
	if _, ok := res.(*remote.Success); ok {
		c.Close()
	}
	return res
}

// CooldownRemaining returns the seconds until a resend is allowed.
func (c *Challenge) CooldownRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.countdown == nil {
		return 0
	}
	return c.countdown.Remaining()
}

// CanResend reports whether Request or Resend would reach the network.
func (c *Challenge) CanResend() bool {
	return c.CooldownRemaining() == 0
}

// Close stops the countdown and drops the challenge from its manager.
func (c *Challenge) Close() {
	c.mu.Lock()
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.generation++
	c.mu.Unlock()
	if c.release != nil {
		c.release(c)
	}
}

func (c *Challenge) restartLocked(seconds int) {
	if c.countdown != nil {
		c.countdown.Stop()
	}
	c.countdown = StartCountdown(context.Background(), seconds)
}

func (c *Challenge) payload(extra map[string]any) map[string]any {
	p := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		p[k] = v
	}
	p["phone"] = c.Phone
	return p
}
