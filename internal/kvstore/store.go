// Package kvstore is the durable key-value repository shared by the session,
// device identity, trust and payment-continuation components. Keys follow a
// versioned schema (see keys.go) so the on-disk format can be migrated without
// touching call sites.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the process-wide persistent store. Implementations must be safe
// for concurrent use. Apart from SetNX and SetMany no operation is
// transactional; concurrent writers resolve by last write wins and every
// read is advisory.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string) (bool, error)
	// SetMany writes every pair or none of them.
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
