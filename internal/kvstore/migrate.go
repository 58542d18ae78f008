package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Keys written by releases that predate the versioned schema.
const (
	legacyToken      = "token"
	legacyUser       = "user"
	legacyPhone      = "phone"
	legacyRequirePin = "requirePinOnOpen"
	legacyDeviceID   = "deviceId"
	legacyTrustPref  = "trustedDevices_"
)

var legacySession = map[string]string{
	legacyToken:      KeySessionToken,
	legacyUser:       KeySessionUser,
	legacyPhone:      KeySessionPhone,
	legacyRequirePin: KeySessionRequirePin,
}

// Migrate upgrades an unversioned store to the current schema. It is a no-op
// once the schema version key is present. A legacy session is only carried
// over when all four of its parts exist; otherwise it is dropped.
func Migrate(ctx context.Context, s Store) error {
	if v, err := s.Get(ctx, KeySchemaVersion); err == nil && v == schemaVersionValue() {
		return nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("read schema version: %w", err)
	}

	next := map[string]string{KeySchemaVersion: schemaVersionValue()}
	var stale []string

	session := make(map[string]string, len(legacySession))
	for oldKey, newKey := range legacySession {
		v, err := s.Get(ctx, oldKey)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", oldKey, err)
		}
		session[newKey] = v
		stale = append(stale, oldKey)
	}
	if len(session) == len(legacySession) {
		for k, v := range session {
			next[k] = v
		}
	}

	if v, err := s.Get(ctx, legacyDeviceID); err == nil {
		if v != "" {
			next[KeyDeviceID] = v
		}
		stale = append(stale, legacyDeviceID)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("read %s: %w", legacyDeviceID, err)
	}

	trustKeys, err := s.Keys(ctx, legacyTrustPref)
	if err != nil {
		return fmt.Errorf("list legacy trust keys: %w", err)
	}
	for _, oldKey := range trustKeys {
		v, err := s.Get(ctx, oldKey)
		if err != nil {
			continue
		}
		var ids []string
		if err := json.Unmarshal([]byte(v), &ids); err != nil {
			// unreadable sets are dropped; trust is re-granted by the next device verify
			stale = append(stale, oldKey)
			continue
		}
		next[TrustKey(strings.TrimPrefix(oldKey, legacyTrustPref))] = v
		stale = append(stale, oldKey)
	}

	if err := s.SetMany(ctx, next); err != nil {
		return fmt.Errorf("write migrated keys: %w", err)
	}
	if err := s.Delete(ctx, stale...); err != nil {
		return fmt.Errorf("delete legacy keys: %w", err)
	}
	return nil
}
