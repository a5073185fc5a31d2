// Package crypto defines the symmetric AEAD encryption service consumed by
// the session core. The service is deliberately thin: key resolution is the
// caller's job (via keystore), and the ciphertext layout is the storage
// envelope, opaque to everything else.
package crypto

import (
	"errors"
	"fmt"

	"github.com/wealthwise/sessionguard/keystore"
	"github.com/wealthwise/sessionguard/storage"
)

// ErrDecrypt is returned when an envelope fails to decrypt or authenticate.
var ErrDecrypt = errors.New("decryption failed")

// Service encrypts and decrypts opaque payloads under a keystore handle.
type Service interface {
	Encrypt(plaintext, aad []byte, handle keystore.KeyHandle) (*storage.Envelope, error)
	Decrypt(envelope *storage.Envelope, aad []byte, handle keystore.KeyHandle) ([]byte, error)
}

// AESGCM implements Service with AES-256-GCM. The key handle is opened for
// the duration of a single call and destroyed before returning.
type AESGCM struct{}

var _ Service = AESGCM{}

func (AESGCM) Encrypt(plaintext, aad []byte, handle keystore.KeyHandle) (*storage.Envelope, error) {
	buf, err := handle.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	env, err := storage.Seal(buf.Bytes(), plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return env, nil
}

func (AESGCM) Decrypt(envelope *storage.Envelope, aad []byte, handle keystore.KeyHandle) ([]byte, error) {
	buf, err := handle.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	plaintext, err := storage.Open(buf.Bytes(), envelope, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
