// internal/custody/custody_test.go
package custody

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keeper, err := NewKeeper(testKey)
	require.NoError(t, err)

	plaintexts := []string{
		"0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"short",
		"key material with spaces and ünïcode",
	}

	for _, plaintext := range plaintexts {
		blob, err := keeper.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, blob)

		decrypted, err := keeper.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	keeper, err := NewKeeper(testKey)
	require.NoError(t, err)

	first, err := keeper.Encrypt("same input")
	require.NoError(t, err)
	second, err := keeper.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptTamperedBlob(t *testing.T) {
	keeper, err := NewKeeper(testKey)
	require.NoError(t, err)

	blob, err := keeper.Encrypt("secret signing key")
	require.NoError(t, err)

	raw, err := hex.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = keeper.Decrypt(hex.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecryptWithWrongKey(t *testing.T) {
	keeper, err := NewKeeper(testKey)
	require.NoError(t, err)
	other, err := NewKeeper("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)

	blob, err := keeper.Encrypt("secret signing key")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecryptGarbage(t *testing.T) {
	keeper, err := NewKeeper(testKey)
	require.NoError(t, err)

	_, err = keeper.Decrypt("not hex at all!")
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = keeper.Decrypt("abcd")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestNewKeeperShortKey(t *testing.T) {
	_, err := NewKeeper("too short")
	assert.Error(t, err)
}

func TestEncryptEmptyKeyMaterial(t *testing.T) {
	keeper, err := NewKeeper(testKey)
	require.NoError(t, err)

	_, err = keeper.Encrypt("")
	assert.Error(t, err)
}
