package remote

import (
	"encoding/json"
	"strings"
)

// Envelope is the response body shared by every endpoint of the auth and
// payment services. Optional fields are zero when absent.
type Envelope struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
	Token       string            `json:"token,omitempty"`
	User        json.RawMessage   `json:"user,omitempty"`
	IsNewDevice bool              `json:"isNewDevice,omitempty"`
	Errors      []json.RawMessage `json:"errors,omitempty"`
	WaitSeconds float64           `json:"waitSeconds,omitempty"`
	StatusCode  int               `json:"statusCode,omitempty"`

	Code          string `json:"code,omitempty"`
	PhoneVerified *bool  `json:"phoneVerified,omitempty"`
	HasPin        *bool  `json:"hasPin,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// ErrorMessages flattens the errors array. Entries may be plain strings or
// objects carrying msg/message fields.
func (e Envelope) ErrorMessages() []string {
	var out []string
	for _, raw := range e.Errors {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Msg     string `json:"msg"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			switch {
			case obj.Message != "":
				out = append(out, obj.Message)
			case obj.Msg != "":
				out = append(out, obj.Msg)
			}
		}
	}
	return out
}
