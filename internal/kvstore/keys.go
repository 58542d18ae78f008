package kvstore

import "strconv"

// SchemaVersion is the current key layout version.
const SchemaVersion = 1

const prefix = "billpay:v1:"

// Key schema, version 1.
const (
	KeySessionToken      = prefix + "session:token"
	KeySessionUser       = prefix + "session:user"
	KeySessionPhone      = prefix + "session:phone"
	KeySessionRequirePin = prefix + "session:require_pin"
	KeyDeviceID          = prefix + "device:id"
	KeySchemaVersion     = prefix + "schema:version"

	trustPrefix   = prefix + "trust:"
	paymentPrefix = prefix + "payment:pending:"
)

// SessionKeys lists every key that makes up a persisted session.
var SessionKeys = []string{KeySessionToken, KeySessionUser, KeySessionPhone, KeySessionRequirePin}

// TrustKey is the key holding the trusted device set of userID.
func TrustKey(userID string) string {
	return trustPrefix + userID
}

// PaymentKey is the key holding a suspended payment continuation.
func PaymentKey(id string) string {
	return paymentPrefix + id
}

// PaymentPrefix is the prefix shared by all suspended payments.
func PaymentPrefix() string {
	return paymentPrefix
}

func schemaVersionValue() string {
	return strconv.Itoa(SchemaVersion)
}
