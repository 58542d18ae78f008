package session

import (
	"encoding/json"
	"fmt"
)

// Profile is the user snapshot returned by login and device verification.
// Raw keeps the server's object verbatim so fields this client does not know
// about survive a save and load.
type Profile struct {
	ID                string `json:"id"`
	FirstName         string `json:"firstName,omitempty"`
	LastName          string `json:"lastName,omitempty"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	HasTransactionPin bool   `json:"hasTransactionPin,omitempty"`
	RequirePinOnOpen  bool   `json:"requirePinOnOpen,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseProfile decodes a user object, accepting either id or _id.
func ParseProfile(raw json.RawMessage) (Profile, error) {
	if len(raw) == 0 {
		return Profile{}, fmt.Errorf("empty user object")
	}
	var p struct {
		Profile
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode user: %w", err)
	}
	profile := p.Profile
	if profile.ID == "" {
		profile.ID = p.MongoID
	}
	if profile.ID == "" {
		return Profile{}, fmt.Errorf("user object has no id")
	}
	profile.Raw = append(json.RawMessage(nil), raw...)
	return profile, nil
}

func (p Profile) encode() (string, error) {
	if len(p.Raw) > 0 {
		return string(p.Raw), nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Session is what a successful login or device verification leaves behind.
type Session struct {
	Token            string
	User             Profile
	Phone            string
	RequirePinOnOpen bool
}
