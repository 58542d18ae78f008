package login

import (
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
)

// State is where the login flow currently stands.
type State int

const (
	Idle State = iota
	Submitting
	Success
	DeviceChallenge
	PhoneUnverified
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case DeviceChallenge:
		return "device_challenge"
	case PhoneUnverified:
		return "phone_unverified"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one action on the Machine: LoggedIn,
// ChallengeIssued, PhoneNotVerified, Rejected or Failure.
type Outcome interface {
	isOutcome()
}

// LoggedIn means a complete session was stored.
type LoggedIn struct {
	Session session.Session
}

// ChallengeIssued means the server wants the device verified with a code
// sent to Phone. No session exists yet.
type ChallengeIssued struct {
	Phone             string
	Message           string
	CooldownRemaining int
}

// PhoneNotVerified means the account's phone number still needs its
// registration code.
type PhoneNotVerified struct {
	Phone   string
	Message string
}

// Rejected means the action was refused locally and nothing was sent.
type Rejected struct {
	Result remote.Result
}

// Failure means the attempt did not succeed. Retryable attempts may be
// submitted again unchanged. Err is set for local failures such as a session
// that could not be stored; Result is set for remote ones.
type Failure struct {
	Result    remote.Result
	Err       error
	Retryable bool
}

func (LoggedIn) isOutcome()         {}
func (ChallengeIssued) isOutcome()  {}
func (PhoneNotVerified) isOutcome() {}
func (Rejected) isOutcome()         {}
func (Failure) isOutcome()          {}

// Message returns the text a UI should show for o.
func Message(o Outcome) string {
	switch o := o.(type) {
	case LoggedIn:
		return "Welcome back."
	case ChallengeIssued:
		if o.Message != "" {
			return o.Message
		}
		return "Enter the code sent to your phone to verify this device."
	case PhoneNotVerified:
		if o.Message != "" {
			return o.Message
		}
		return "Your phone number is not verified yet."
	case Rejected:
		return remote.Message(o.Result)
	case Failure:
		if o.Result != nil {
			return remote.Message(o.Result)
		}
		return "We could not save your session. Please try again."
	default:
		return ""
	}
}
