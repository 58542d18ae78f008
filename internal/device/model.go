package device

// Fingerprint is the advisory hardware bundle sent with login and device
// verification. It is a signal for the server, not a credential.
type Fingerprint struct {
	Platform  string `json:"platform,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`
	ModelName string `json:"modelName,omitempty"`
	Brand     string `json:"brand,omitempty"`
}

// Record is the installation's device identity.
type Record struct {
	ID          string      `json:"deviceId"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// MetadataSource reads OS-level device descriptors. Any method may fail;
// callers treat every field as best effort.
type MetadataSource interface {
	Platform() (string, error)
	OSVersion() (string, error)
	ModelName() (string, error)
	Brand() (string, error)
}
