package storage

import (
	"fmt"

	"github.com/wealthwise/sessionguard/internal/util"
)

const (
	envelopeVersion = 1
	envelopeScheme  = "aes256gcm"
)

// Envelope is a sealed record containing AES-256-GCM encrypted data.
// It is the only shape that crosses the Repository boundary.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts plaintext into an Envelope using the given key and AAD.
func Seal(rawKey, plaintext, aad []byte) (*Envelope, error) {
	sealed, err := util.SealAESGCM(plaintext, rawKey, aad)
	if err != nil {
		return nil, err
	}

	// util.SealAESGCM returns nonce || ciphertext.
	return &Envelope{
		Ver:        envelopeVersion,
		Scheme:     envelopeScheme,
		Nonce:      sealed[:util.GCMNonceSize],
		Ciphertext: sealed[util.GCMNonceSize:],
	}, nil
}

// Open decrypts an Envelope using the given key and AAD.
func Open(rawKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != envelopeScheme {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	sealed := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(sealed, envelope.Nonce)
	copy(sealed[len(envelope.Nonce):], envelope.Ciphertext)

	return util.OpenAESGCM(sealed, rawKey, aad)
}

// Clone returns an independent deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		Ver:        e.Ver,
		Scheme:     e.Scheme,
		Nonce:      util.CopyBytes(e.Nonce),
		Ciphertext: util.CopyBytes(e.Ciphertext),
	}
}
