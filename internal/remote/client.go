// Package remote is the request wrapper used by every network call of the
// auth subsystem (and by payment calls). It applies the per-class timeout and
// folds every outcome into a Result; nothing above it handles transport
// errors directly.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/congo-pay/billpay/internal/logging"
)

const (
	requestIDHeader      = "X-Request-ID"
	idempotencyKeyHeader = "Idempotency-Key"
)

// Class selects the timeout applied to a call.
type Class int

const (
	// ClassAuth covers registration, login and PIN calls.
	ClassAuth Class = iota
	// ClassOTP covers OTP, device verification and payment-adjacent calls.
	ClassOTP
)

func (c Class) String() string {
	if c == ClassOTP {
		return "otp"
	}
	return "auth"
}

// Options configures a Client.
type Options struct {
	AuthTimeout time.Duration
	OTPTimeout  time.Duration
}

// Client posts JSON envelopes to the service at baseURL.
type Client struct {
	baseURL  string
	timeouts map[Class]time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient builds a Client. Zero timeouts fall back to 15s and 30s.
func NewClient(baseURL string, opts Options, logger *slog.Logger) *Client {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 15 * time.Second
	}
	if opts.OTPTimeout <= 0 {
		opts.OTPTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeouts: map[Class]time.Duration{ClassAuth: opts.AuthTimeout, ClassOTP: opts.OTPTimeout},
		logger:   logging.Component(logger, "remote"),
		now:      time.Now,
	}
}

// Timeout returns the deadline applied to class.
func (c *Client) Timeout(class Class) time.Duration {
	return c.timeouts[class]
}

// Request posts payload to endpoint without credentials.
func (c *Client) Request(ctx context.Context, endpoint string, payload any, class Class) Result {
	return c.do(ctx, endpoint, payload, class, "", "")
}

// RequestAuthorized posts payload with the session token as a Bearer
// credential. A missing or expired token yields AuthRequired without sending
// anything.
func (c *Client) RequestAuthorized(ctx context.Context, token, endpoint string, payload any, class Class) Result {
	if !TokenUsable(token, c.now()) {
		c.logger.Info("protected call without usable session", slog.String("endpoint", endpoint))
		return &AuthRequired{}
	}
	return c.do(ctx, endpoint, payload, class, token, "")
}

// RequestIdempotent is RequestAuthorized with an Idempotency-Key header. The
// server answers a repeated key with the first response instead of acting
// twice, so retrying after a timeout is safe.
func (c *Client) RequestIdempotent(ctx context.Context, token, idempotencyKey, endpoint string, payload any, class Class) Result {
	if idempotencyKey == "" {
		return &ValidationError{Field: "idempotencyKey", Message: "is required"}
	}
	if !TokenUsable(token, c.now()) {
		c.logger.Info("protected call without usable session", slog.String("endpoint", endpoint))
		return &AuthRequired{}
	}
	return c.do(ctx, endpoint, payload, class, token, idempotencyKey)
}

func (c *Client) do(ctx context.Context, endpoint string, payload any, class Class, token, idempotencyKey string) Result {
	timeout := c.timeouts[class]
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{After: 0}
		}
		return &NetworkError{Err: err}
	}
	if payload == nil {
		payload = struct{}{}
	}

	reqID := uuid.NewString()
	log := c.logger.With(
		slog.String("endpoint", endpoint),
		slog.String("request_id", reqID),
		slog.String("class", class.String()),
	)

	agent := fiber.Post(c.baseURL + "/" + strings.TrimLeft(endpoint, "/"))
	agent.Timeout(timeout)
	agent.JSON(payload)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Set(requestIDHeader, reqID)
	if token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if idempotencyKey != "" {
		agent.Set(idempotencyKeyHeader, idempotencyKey)
	}
	if err := agent.Parse(); err != nil {
		log.Error("build request", slog.Any("error", err))
		return &NetworkError{Err: err}
	}

	start := time.Now()
	status, body, errs := agent.Bytes()
	duration := time.Since(start)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		if isTimeout(errs) {
			log.Warn("request timed out", slog.Duration("timeout", timeout))
			return &TimeoutError{After: timeout}
		}
		log.Warn("request failed", slog.Any("error", err), slog.Duration("duration", duration))
		return &NetworkError{Err: err}
	}

	res := normalize(status, body, token != "")
	if s, ok := res.(*Success); ok {
		s.RequestID = reqID
	}
	log.Info("request completed",
		slog.Int("status", status),
		slog.String("result", Kind(res)),
		slog.Duration("duration", duration),
	)
	return res
}

func isTimeout(errs []error) bool {
	for _, err := range errs {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return true
		}
	}
	return false
}

// normalize maps a status code and raw body onto a Result.
func normalize(status int, body []byte, authorized bool) Result {
	var env Envelope
	decodeErr := json.Unmarshal(body, &env)
	ok2xx := status >= 200 && status < 300

	if decodeErr != nil {
		if ok2xx {
			return &ServerError{Status: status, Message: genericServerMessage}
		}
		env = Envelope{}
	}

	if ok2xx && env.Success {
		return &Success{Status: status, Envelope: env}
	}

	code := status
	if ok2xx && env.StatusCode != 0 {
		code = env.StatusCode
	}
	wait := int(math.Ceil(env.WaitSeconds))
	switch {
	case code == http.StatusTooManyRequests || wait > 0:
		return &RateLimited{WaitSeconds: wait, Message: env.Message}
	case code == http.StatusUnauthorized && authorized:
		return &AuthRequired{Message: env.Message}
	}

	msg := env.Message
	if decodeErr != nil {
		msg = ""
	}
	return &ServerError{
		Status:   code,
		Code:     env.Code,
		Message:  msg,
		Errors:   env.ErrorMessages(),
		Envelope: env,
	}
}

// TokenUsable reports whether token can be sent. Opaque tokens are always
// usable; JWTs are checked for expiry without verifying the signature, which
// remains the server's job.
func TokenUsable(token string, now time.Time) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return now.Before(exp.Time)
}
