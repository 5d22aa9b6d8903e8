package kex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPair_DeriveSharedKey_BothSidesAgree(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	alicePub, err := alice.PublicKey()
	require.NoError(t, err)
	bobPub, err := bob.PublicKey()
	require.NoError(t, err)

	aliceKey, err := alice.DeriveSharedKey(bobPub)
	require.NoError(t, err)
	bobKey, err := bob.DeriveSharedKey(alicePub)
	require.NoError(t, err)

	require.Equal(t, aliceKey, bobKey)
	require.Len(t, aliceKey, 32)
}

func TestKeyPair_DeriveSharedKey_RejectsMalformedPeerKey(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)

	_, err = alice.DeriveSharedKey([]byte("not a valid SPKI blob"))
	require.Error(t, err)
}

func TestGenerate_ProducesDistinctKeyPairs(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	aPub, _ := a.PublicKey()
	bPub, _ := b.PublicKey()
	require.NotEqual(t, aPub, bPub)
}
