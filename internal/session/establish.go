package session

import (
	"fmt"

	"github.com/congo-pay/billpay/internal/remote"
)

// FromEnvelope builds the session carried by a successful login or device
// verification response. It fails with ErrIncomplete when the token or user
// is missing.
func FromEnvelope(env remote.Envelope, phone string) (Session, error) {
	if env.Token == "" {
		return Session{}, fmt.Errorf("%w: response has no token", ErrIncomplete)
	}
	user, err := ParseProfile(env.User)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	if phone == "" {
		phone = user.Phone
	}
	return Session{
		Token:            env.Token,
		User:             user,
		Phone:            phone,
		RequirePinOnOpen: user.RequirePinOnOpen,
	}, nil
}
