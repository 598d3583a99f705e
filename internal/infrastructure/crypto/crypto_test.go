package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAEAD(t *testing.T) *AEAD {
	t.Helper()
	a, err := New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return a
}

func TestSealOpen(t *testing.T) {
	a := newAEAD(t)

	sealed, err := a.Seal("Ana López", "handoff-1")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "Ana")

	again, err := a.Seal("Ana López", "handoff-1")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ")

	got, err := a.Open(sealed, "handoff-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana López", got)
}

func TestOpenRejectsOtherRecord(t *testing.T) {
	a := newAEAD(t)
	sealed, err := a.Seal("fade, short sides", "handoff-1")
	require.NoError(t, err)

	_, err = a.Open(sealed, "handoff-2")
	require.Error(t, err)
}

func TestEmptyAndMalformed(t *testing.T) {
	a := newAEAD(t)

	sealed, err := a.Seal("", "x")
	require.NoError(t, err)
	assert.Empty(t, sealed)
	got, err := a.Open("", "x")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = a.Open("***", "x")
	require.ErrorIs(t, err, ErrCiphertext)
	_, err = a.Open("AAAA", "x")
	require.ErrorIs(t, err, ErrCiphertext)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
}
