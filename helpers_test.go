package triviaroyale

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitmentDigest(t *testing.T) {
	d1 := CommitmentDigest("4", "s3cret", "addr1")
	d2 := CommitmentDigest("4", "s3cret", "addr1")
	assert.Equal(t, d1, d2, "same inputs must produce the same digest")

	assert.NotEqual(t, d1, CommitmentDigest("5", "s3cret", "addr1"))
	assert.NotEqual(t, d1, CommitmentDigest("4", "other", "addr1"))
	assert.NotEqual(t, d1, CommitmentDigest("4", "s3cret", "addr2"))

	// The party binding stops commitment copying: a player relaying another
	// player's hash cannot reveal it under its own address.
	stolen := CommitmentDigest("4", "s3cret", "addr1")
	own := CommitmentDigest("4", "s3cret", "addr2")
	assert.NotEqual(t, stolen, own)
}

func TestCommitmentDigestFieldShifting(t *testing.T) {
	// Separator keeps ("ab", "c") distinct from ("a", "bc").
	assert.NotEqual(t,
		CommitmentDigest("ab", "c", "p"),
		CommitmentDigest("a", "bc", "p"))
}

func TestDeriveChannelID(t *testing.T) {
	id1 := DeriveChannelID("aabb", "ccdd", "usdc", 7)
	id2 := DeriveChannelID("ccdd", "aabb", "usdc", 7)
	assert.Equal(t, id1, id2, "participant order must not matter")

	id3 := DeriveChannelID("AABB", "ccdd", "usdc", 7)
	assert.Equal(t, id1, id3, "address case must not matter")

	assert.NotEqual(t, id1, DeriveChannelID("aabb", "ccdd", "usdc", 8))
	assert.NotEqual(t, id1, DeriveChannelID("aabb", "ccdd", "dcr", 7))

	assert.True(t, strings.HasPrefix(id1, "ch"))
	_, err := hex.DecodeString(strings.TrimPrefix(id1, "ch"))
	assert.NoError(t, err)
}

func TestSignVerifyDigest(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	digest := CommitmentDigest("answer", "secret", "party")
	sig, err := SignDigest(priv, digest)
	require.NoError(t, err)

	assert.NoError(t, VerifyDigest(pubHex, sig, digest))

	// Wrong digest.
	other := CommitmentDigest("other", "secret", "party")
	assert.Error(t, VerifyDigest(pubHex, sig, other))

	// Wrong key.
	priv2, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub2Hex := hex.EncodeToString(priv2.PubKey().SerializeCompressed())
	assert.Error(t, VerifyDigest(pub2Hex, sig, digest))

	// Garbage inputs.
	assert.Error(t, VerifyDigest("zz", sig, digest))
	assert.Error(t, VerifyDigest(pubHex, "zz", digest))
}

func TestAddressFromPubKey(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	addr := AddressFromPubKey(priv.PubKey())

	assert.Len(t, addr, 40, "hash160 is 20 bytes")
	assert.Equal(t, strings.ToLower(addr), addr)
	_, err = hex.DecodeString(addr)
	assert.NoError(t, err)

	// Stable for the same key.
	assert.Equal(t, addr, AddressFromPubKey(priv.PubKey()))
}

func TestParsePubKeyHex(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	comp := priv.PubKey().SerializeCompressed()

	pub, err := ParsePubKeyHex(hex.EncodeToString(comp))
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(priv.PubKey()))

	_, err = ParsePubKeyHex("abcd")
	assert.Error(t, err)
	_, err = ParsePubKeyHex("not hex")
	assert.Error(t, err)
}
