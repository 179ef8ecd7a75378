package credential

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store, err := NewStore(testKey)
	require.NoError(t, err)

	token, err := store.Encrypt([]byte(`{"access_key_id":"AKIA"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v1."))

	plaintext, err := store.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, `{"access_key_id":"AKIA"}`, string(plaintext))

	other, err := store.Encrypt([]byte(`{"access_key_id":"AKIA"}`))
	require.NoError(t, err)
	assert.NotEqual(t, token, other, "nonce must differ per token")
}

func TestDecryptRejectsTampering(t *testing.T) {
	store, err := NewStore(testKey)
	require.NoError(t, err)
	token, err := store.Encrypt([]byte("secret"))
	require.NoError(t, err)

	flipped := []byte(token)
	flipped[len(flipped)-2] ^= 0x01

	for _, bad := range []string{"", "v2.abc", "v1.!!!", "v1.AAAA", string(flipped)} {
		_, err := store.Decrypt(bad)
		assert.ErrorIs(t, err, ErrDecrypt, bad)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	store, err := NewStore(testKey)
	require.NoError(t, err)
	token, err := store.Encrypt([]byte("secret"))
	require.NoError(t, err)

	otherKey := base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
	other, err := NewStore(otherKey)
	require.NoError(t, err)

	_, err = other.Decrypt(token)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewStoreValidatesKey(t *testing.T) {
	_, err := NewStore("")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewStore(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
