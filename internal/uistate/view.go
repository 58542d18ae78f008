// Package uistate flattens the tagged results of the auth and payment flows
// into the {success, data, error, loading} shape screens bind to.
package uistate

import (
	"github.com/congo-pay/billpay/internal/login"
	"github.com/congo-pay/billpay/internal/payments"
	"github.com/congo-pay/billpay/internal/remote"
)

// View is what a screen renders.
type View struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Loading bool   `json:"loading"`

	// Kind names the variant the view came from, e.g. "rate_limited" or
	// "device_challenge", so screens can route without parsing text.
	Kind        string `json:"kind"`
	Retryable   bool   `json:"retryable,omitempty"`
	WaitSeconds int    `json:"waitSeconds,omitempty"`
}

// Pending is the view shown while a call is in flight.
func Pending() View {
	return View{Loading: true, Kind: "loading"}
}

// FromResult maps a remote result.
func FromResult(r remote.Result) View {
	v := View{Kind: remote.Kind(r), Retryable: remote.Retryable(r)}
	switch r := r.(type) {
	case *remote.Success:
		v.Success = true
		if r.Envelope.Message != "" {
			v.Data = map[string]string{"message": r.Envelope.Message}
		}
	case *remote.RateLimited:
		v.WaitSeconds = r.WaitSeconds
		v.Error = remote.Message(r)
	default:
		v.Error = remote.Message(r)
	}
	return v
}

// FromLogin maps a login outcome.
func FromLogin(o login.Outcome) View {
	switch o := o.(type) {
	case login.LoggedIn:
		return View{Success: true, Kind: "logged_in", Data: map[string]string{
			"userId":    o.Session.User.ID,
			"firstName": o.Session.User.FirstName,
		}}
	case login.ChallengeIssued:
		return View{Success: true, Kind: "device_challenge", WaitSeconds: o.CooldownRemaining, Data: map[string]string{
			"phone":   o.Phone,
			"message": login.Message(o),
		}}
	case login.PhoneNotVerified:
		return View{Kind: "phone_unverified", Error: login.Message(o), Data: map[string]string{"phone": o.Phone}}
	case login.Rejected:
		return FromResult(o.Result)
	case login.Failure:
		if o.Result != nil {
			v := FromResult(o.Result)
			v.Retryable = o.Retryable
			return v
		}
		return View{Kind: "local_error", Error: login.Message(o), Retryable: o.Retryable}
	default:
		return View{Kind: "unknown"}
	}
}

// FromPayment maps a payment outcome.
func FromPayment(o payments.Outcome) View {
	switch o := o.(type) {
	case payments.Completed:
		return View{Success: true, Kind: "payment_completed", Data: map[string]string{
			"reference": o.Reference,
			"message":   o.Message,
		}}
	case payments.PinSetupRequired:
		return View{Kind: "pin_setup_required", Error: "Set a transaction PIN to continue.", Data: map[string]string{
			"continuationId": o.Continuation.ID,
		}}
	case payments.Rejected:
		v := FromResult(o.Result)
		if v.Retryable {
			v.Data = map[string]string{"idempotencyKey": o.IdempotencyKey}
		}
		return v
	default:
		return View{Kind: "unknown"}
	}
}
