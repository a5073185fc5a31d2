package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthwise/sessionguard/keystore"
)

func testHandle(t *testing.T) keystore.KeyHandle {
	t.Helper()
	keys := keystore.NewMemoryStore()
	h, err := keys.Generate("test-key", keystore.PolicyWhenUnlocked)
	require.NoError(t, err)
	return h
}

func TestAESGCM_RoundTrip(t *testing.T) {
	svc := AESGCM{}
	handle := testHandle(t)

	env, err := svc.Encrypt([]byte("payload"), []byte("aad"), handle)
	require.NoError(t, err)

	plain, err := svc.Decrypt(env, []byte("aad"), handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)
}

func TestAESGCM_WrongAAD(t *testing.T) {
	svc := AESGCM{}
	handle := testHandle(t)

	env, err := svc.Encrypt([]byte("payload"), []byte("aad-1"), handle)
	require.NoError(t, err)

	_, err = svc.Decrypt(env, []byte("aad-2"), handle)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestAESGCM_WrongKey(t *testing.T) {
	svc := AESGCM{}

	env, err := svc.Encrypt([]byte("payload"), nil, testHandle(t))
	require.NoError(t, err)

	_, err = svc.Decrypt(env, nil, testHandle(t))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestAESGCM_InvalidHandle(t *testing.T) {
	svc := AESGCM{}
	var handle keystore.KeyHandle

	_, err := svc.Encrypt([]byte("payload"), nil, handle)
	assert.ErrorIs(t, err, keystore.ErrInvalidHandle)
}
