package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/congo-pay/billpay/internal/remote"
)

func TestFromEnvelope(t *testing.T) {
	env := remote.Envelope{
		Success: true,
		Token:   "tok",
		User:    json.RawMessage(`{"id":"u1","phone":"08099998888","requirePinOnOpen":true}`),
	}

	s, err := FromEnvelope(env, "08011112222")
	if err != nil {
		t.Fatalf("from envelope: %v", err)
	}
	if s.Token != "tok" || s.User.ID != "u1" || s.Phone != "08011112222" || !s.RequirePinOnOpen {
		t.Fatalf("unexpected session %+v", s)
	}

	s, err = FromEnvelope(env, "")
	if err != nil {
		t.Fatalf("from envelope without phone: %v", err)
	}
	if s.Phone != "08099998888" {
		t.Fatalf("expected profile phone fallback, got %q", s.Phone)
	}
}

func TestFromEnvelopeRequiresTokenAndUser(t *testing.T) {
	if _, err := FromEnvelope(remote.Envelope{Success: true, User: json.RawMessage(`{"id":"u1"}`)}, "08011112222"); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete without token, got %v", err)
	}
	if _, err := FromEnvelope(remote.Envelope{Success: true, Token: "tok"}, "08011112222"); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete without user, got %v", err)
	}
}
