// Package token builds, encrypts, decrypts, and validates session tokens.
// A token is an encrypted payload plus minimal unencrypted metadata (ID,
// expiry, assurance) kept outside encryption so expiry can be inspected
// without a decrypt. The metadata is always cross-checked against the
// payload on validation.
package token

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wealthwise/sessionguard/authn"
	"github.com/wealthwise/sessionguard/storage"
)

// ErrIntegrity is returned when any validation check fails: wrapper/payload
// mismatch, device mismatch, or integrity hash mismatch. Callers must treat
// it as a possible tampering signal, never as a soft warning.
var ErrIntegrity = errors.New("token integrity check failed")

// DeviceIdentity supplies the stable per-installation device identifier the
// token payload is bound to.
type DeviceIdentity interface {
	CurrentDeviceID() (string, error)
}

// Token is the durable, transmissible session artifact.
type Token struct {
	ID               uuid.UUID         `json:"id"`
	EncryptedPayload *storage.Envelope `json:"payload"`
	IssuedAt         time.Time         `json:"issued_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
	Assurance        authn.Assurance   `json:"assurance"`
}

// Expired reports whether the token is expired at now. The boundary is
// inclusive: a token is invalid at the exact expiry instant.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Expected carries the identity fields Validate cross-checks the decrypted
// payload against.
type Expected struct {
	IdentityID string
	Assurance  authn.Assurance
}
