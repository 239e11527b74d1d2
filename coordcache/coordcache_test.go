package coordcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Redis round trips need a live server; the sealer is where the
// correctness risk lives, so it gets direct coverage.

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := newSealer(testKey())
	require.NoError(t, err)

	plain := []byte(`{"chain":"nockchain","block_height":"12345"}`)
	sealed, err := s.seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	out, err := s.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestSealerEachSealIsUnique(t *testing.T) {
	s, err := newSealer(testKey())
	require.NoError(t, err)

	a, err := s.seal([]byte("same value"))
	require.NoError(t, err)
	b, err := s.seal([]byte("same value"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealerRejectsTampering(t *testing.T) {
	s, err := newSealer(testKey())
	require.NoError(t, err)

	sealed, err := s.seal([]byte("authentic"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = s.open(sealed)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSealerRejectsForeignKey(t *testing.T) {
	a, err := newSealer(testKey())
	require.NoError(t, err)
	otherKey := testKey()
	otherKey[0] ^= 0xff
	b, err := newSealer(otherKey)
	require.NoError(t, err)

	sealed, err := a.seal([]byte("authentic"))
	require.NoError(t, err)
	_, err = b.open(sealed)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSealerRejectsTruncated(t *testing.T) {
	s, err := newSealer(testKey())
	require.NoError(t, err)

	_, err = s.open([]byte("short"))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSealerKeyLength(t *testing.T) {
	_, err := newSealer([]byte("too short"))
	assert.ErrorIs(t, err, ErrBadKey)
}
