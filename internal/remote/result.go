package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/billpay/internal/validate"
)

// Result is the outcome of every call made through the Client. It is a closed
// set: Success, ValidationError, NetworkError, TimeoutError, ServerError,
// RateLimited and AuthRequired. Callers branch with a type switch.
type Result interface {
	isResult()
}

// Success is a 2xx response whose envelope reported success.
type Success struct {
	Status    int
	Envelope  Envelope
	RequestID string
}

// ValidationError is a local format rejection. No request was sent.
type ValidationError struct {
	Field   string
	Message string
}

// NetworkError means no response was received.
type NetworkError struct {
	Err error
}

// TimeoutError means the call was aborted at its deadline.
type TimeoutError struct {
	After time.Duration
}

// ServerError is a response the server marked as failed, or one whose body
// could not be understood.
type ServerError struct {
	Status   int
	Code     string
	Message  string
	Errors   []string
	Envelope Envelope
}

// RateLimited carries the server enforced (or locally known) wait.
type RateLimited struct {
	WaitSeconds int
	Message     string
}

// AuthRequired means a protected call had no usable session token.
type AuthRequired struct {
	Message string
}

func (*Success) isResult()         {}
func (*ValidationError) isResult() {}
func (*NetworkError) isResult()    {}
func (*TimeoutError) isResult()    {}
func (*ServerError) isResult()     {}
func (*RateLimited) isResult()     {}
func (*AuthRequired) isResult()    {}

const genericServerMessage = "The service returned an unexpected response. Please try again."

// Invalid converts a validate error into a ValidationError result.
func Invalid(err error) *ValidationError {
	var ve *validate.Error
	if errors.As(err, &ve) {
		return &ValidationError{Field: ve.Field, Message: ve.Message()}
	}
	return &ValidationError{Message: err.Error()}
}

// Message returns the text a UI should show for r.
func Message(r Result) string {
	switch r := r.(type) {
	case *Success:
		return r.Envelope.Message
	case *ValidationError:
		if r.Field == "" {
			return r.Message
		}
		return fmt.Sprintf("%s %s", r.Field, r.Message)
	case *NetworkError:
		return "Unable to reach the service. Check your connection and try again."
	case *TimeoutError:
		return "The request timed out. Please try again."
	case *ServerError:
		if r.Message != "" {
			return r.Message
		}
		if len(r.Errors) > 0 {
			return r.Errors[0]
		}
		return genericServerMessage
	case *RateLimited:
		if r.Message != "" {
			return r.Message
		}
		return fmt.Sprintf("Please wait %d seconds before trying again.", r.WaitSeconds)
	case *AuthRequired:
		if r.Message != "" {
			return r.Message
		}
		return "Your session has ended. Please log in again."
	default:
		return genericServerMessage
	}
}

// Retryable reports whether resubmitting the same request unchanged may succeed.
func Retryable(r Result) bool {
	switch r.(type) {
	case *NetworkError, *TimeoutError, *RateLimited:
		return true
	default:
		return false
	}
}

// Kind is a short stable name for r, used in logs and UI adapters.
func Kind(r Result) string {
	switch r.(type) {
	case *Success:
		return "success"
	case *ValidationError:
		return "validation_error"
	case *NetworkError:
		return "network_error"
	case *TimeoutError:
		return "timeout"
	case *ServerError:
		return "server_error"
	case *RateLimited:
		return "rate_limited"
	case *AuthRequired:
		return "auth_required"
	default:
		return "unknown"
	}
}
