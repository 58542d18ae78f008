package otp

import (
	"context"
	"sync"
	"time"
)

// Countdown is the resend cooldown. It ticks once a second down to zero and
// is owned by whoever started it: Stop must be called on every exit path,
// though reaching zero or cancelling the start context also ends it.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	stopped   bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartCountdown starts a countdown of seconds. A non-positive value yields
// a countdown that is already at zero.
func StartCountdown(ctx context.Context, seconds int) *Countdown {
	if seconds <= 0 {
		return finishedCountdown()
	}
	ticker := time.NewTicker(time.Second)
	return startCountdown(ctx, seconds, ticker.C, ticker.Stop)
}

func finishedCountdown() *Countdown {
	c := &Countdown{stop: make(chan struct{}), done: make(chan struct{})}
	close(c.done)
	return c
}

func startCountdown(ctx context.Context, seconds int, ticks <-chan time.Time, release func()) *Countdown {
	c := &Countdown{
		remaining: seconds,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.run(ctx, ticks, release)
	return c
}

func (c *Countdown) run(ctx context.Context, ticks <-chan time.Time, release func()) {
	defer close(c.done)
	defer release()
	for {
		select {
		case <-ticks:
			if c.tick() == 0 {
				return
			}
		case <-c.stop:
			return
		case <-ctx.Done():
			c.mu.Lock()
			c.stopped = true
			c.mu.Unlock()
			return
		}
	}
}

func (c *Countdown) tick() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining > 0 {
		c.remaining--
	}
	return c.remaining
}

// Remaining returns the seconds left before a resend is allowed.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// CanResend is true only once the countdown has reached zero.
func (c *Countdown) CanResend() bool {
	return c.Remaining() == 0
}

// Active reports whether the countdown is still ticking.
func (c *Countdown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining > 0 && !c.stopped
}

// Stop cancels the countdown. It is safe to call more than once and after
// the countdown has finished.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stop)
	})
	<-c.done
}

// Done is closed once the countdown goroutine has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
