// Package notification publishes auth and payment events so the UI layer can
// react to them (banners, analytics) without the flows knowing who listens.
package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindSessionEstablished follows a stored login or device verification.
	KindSessionEstablished = "session_established"
	// KindDeviceChallenge means the server asked for device step-up.
	KindDeviceChallenge = "device_challenge"
	// KindDeviceTrusted follows a successful device verification.
	KindDeviceTrusted = "device_trusted"
	// KindPinChanged follows any successful PIN set, change or reset.
	KindPinChanged = "pin_changed"
	// KindPaymentSuspended means a payment is waiting on transaction PIN setup.
	KindPaymentSuspended = "payment_suspended"
	// KindPaymentResumed means a suspended payment was released.
	KindPaymentResumed = "payment_resumed"
	// KindPaymentCompleted means the server accepted a payment.
	KindPaymentCompleted = "payment_completed"
	// KindLoggedOut follows a cleared session.
	KindLoggedOut = "logged_out"
)

// Message describes one event. Detail never carries tokens, PINs or codes.
type Message struct {
	Kind   string
	UserID string
	Phone  string
	Detail string
}

// Notifier delivers events to downstream listeners.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("user_id", message.UserID),
		slog.String("detail", message.Detail),
	)
	return nil
}

// Recorder keeps every message it receives. Useful in tests and for UI layers
// that poll for events.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send records message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of what was recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Kind
	}
	return out
}

// Publish sends message through n, logging rather than returning a failure.
// Notification is never allowed to fail the flow that produced it.
func Publish(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil && logger != nil {
		logger.Warn("notification failed", slog.String("kind", message.Kind), slog.Any("error", err))
	}
}
