package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewService(testKey(t))
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt("a-very-secret-access-token")
	require.NoError(t, err)
	assert.NotEqual(t, "a-very-secret-access-token", ciphertext)

	plaintext, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "a-very-secret-access-token", plaintext)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	svc, err := NewService(testKey(t))
	require.NoError(t, err)

	c1, err := svc.Encrypt("same-plaintext")
	require.NoError(t, err)
	c2, err := svc.Encrypt("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	svc1, err := NewService(testKey(t))
	require.NoError(t, err)
	svc2, err := NewService(testKey(t))
	require.NoError(t, err)

	ciphertext, err := svc1.Encrypt("token")
	require.NoError(t, err)

	_, err = svc2.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestNewServiceRejectsBadKeys(t *testing.T) {
	_, err := NewService("not-base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewService(short)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	svc, err := NewService(testKey(t))
	require.NoError(t, err)

	_, err = svc.Decrypt("%%%")
	assert.Error(t, err)

	_, err = svc.Decrypt(base64.StdEncoding.EncodeToString([]byte("xy")))
	assert.Error(t, err)
}
