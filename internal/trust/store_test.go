package trust

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
)

type fixedDevice string

func (d fixedDevice) GetOrCreateDeviceID(context.Context) (string, error) { return string(d), nil }

func TestTrustLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kvstore.NewMemory(), fixedDevice("dev-a"), logging.Discard())

	ok, err := s.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Trust(ctx, "u1"))
	require.NoError(t, s.Trust(ctx, "u1"))

	ok, err = s.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.ListTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-a"}, ids)

	ok, err = s.IsTrusted(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok, "trust is per user")

	require.NoError(t, s.Untrust(ctx, "u1", ""))
	require.NoError(t, s.Untrust(ctx, "u1", ""))
	ok, err = s.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUntrustOtherDeviceAndClearAll(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Set(ctx, kvstore.TrustKey("u1"), `["dev-b","dev-a"]`))
	s := NewStore(kv, fixedDevice("dev-a"), logging.Discard())

	require.NoError(t, s.Untrust(ctx, "u1", "dev-b"))
	ids, err := s.ListTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-a"}, ids)

	require.NoError(t, s.ClearAll(ctx, "u1"))
	ids, err = s.ListTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTrustPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	kv, err := kvstore.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, NewStore(kv, fixedDevice("dev-a"), logging.Discard()).Trust(ctx, "u1"))

	reopened, err := kvstore.OpenFile(path)
	require.NoError(t, err)
	ok, err := NewStore(reopened, fixedDevice("dev-a"), logging.Discard()).IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptSetIsTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Set(ctx, kvstore.TrustKey("u1"), "{"))
	s := NewStore(kv, fixedDevice("dev-a"), logging.Discard())

	ok, err := s.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Trust(ctx, "u1"))
	ok, err = s.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyUserRejected(t *testing.T) {
	s := NewStore(kvstore.NewMemory(), fixedDevice("dev-a"), logging.Discard())
	assert.ErrorIs(t, s.Trust(context.Background(), ""), ErrUserRequired)
	_, err := s.IsTrusted(context.Background(), "")
	assert.ErrorIs(t, err, ErrUserRequired)
}
