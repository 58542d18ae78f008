package pin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalEncodingIgnoresMapOrder(t *testing.T) {
	a := PaymentRequest{Kind: KindTV, Amount: 100, Recipient: "r", Extra: map[string]string{"b": "2", "a": "1"}}
	b := PaymentRequest{Kind: KindTV, Amount: 100, Recipient: "r", Extra: map[string]string{"a": "1", "b": "2"}}

	ra, err := canonical(a)
	require.NoError(t, err)
	rb, err := canonical(b)
	require.NoError(t, err)
	assert.Equal(t, digest(ra), digest(rb))
}

func TestContinuationRoundTrip(t *testing.T) {
	req := PaymentRequest{Kind: KindData, Amount: 1500, Recipient: "08011112222", Provider: "mtn"}
	c, err := newContinuation(req, time.Now())
	require.NoError(t, err)

	got, err := c.decode()
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.NotEqual(t, c.ID, c.IdempotencyKey)
}

func TestContinuationRejectsNonCanonicalBytes(t *testing.T) {
	raw := []byte(`{"recipient":"r","kind":"tv","amount":100}`)
	c := Continuation{Request: raw, Digest: digest(raw)}

	_, err := c.decode()
	assert.ErrorIs(t, err, ErrContinuationTampered)
}
