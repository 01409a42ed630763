package bundle

import (
	"testing"

	"dtnd/eid"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleID(t *testing.T) {
	b := &Bundle{
		Source:       eid.MustParse("dtn://node1/app"),
		Destination:  eid.MustParse("dtn://node2/inbox"),
		CreationTime: 1700000000,
		Sequence:     3,
	}
	assert.Equal(t, "dtn://node1/app-1700000000-3", b.ID())
}

func TestBundleExpired(t *testing.T) {
	b := &Bundle{CreationTime: 100, Lifetime: 10}
	assert.False(t, b.Expired(105))
	assert.True(t, b.Expired(110))

	b.Lifetime = 0
	assert.False(t, b.Expired(1<<40))
}

func TestBundleCBOR(t *testing.T) {
	b := &Bundle{
		Source:       eid.MustParse("ipn:1.2"),
		Destination:  eid.MustParse("dtn://node2/inbox"),
		CreationTime: 42,
		Lifetime:     3600,
		Payload:      []byte("hello"),
	}
	raw, err := cbor.Marshal(b)
	require.NoError(t, err)

	var b2 Bundle
	require.NoError(t, cbor.Unmarshal(raw, &b2))
	assert.Equal(t, b.ID(), b2.ID())
	assert.Equal(t, b.Destination, b2.Destination)
	assert.Equal(t, b.Payload, b2.Payload)
}
