package token

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wealthwise/sessionguard/authn"
	"github.com/wealthwise/sessionguard/clock"
	sgcrypto "github.com/wealthwise/sessionguard/crypto"
	"github.com/wealthwise/sessionguard/internal/aad"
	"github.com/wealthwise/sessionguard/internal/util"
	"github.com/wealthwise/sessionguard/keystore"
)

const (
	// DefaultKeyID is the well-known keystore identifier of the token
	// encryption key, generated lazily on first mint.
	DefaultKeyID = "sessionguard.token.v1"

	tokenAADVersion = 1
)

// Codec mints and validates encrypted session tokens.
type Codec struct {
	keys      keystore.Store
	enc       sgcrypto.Service
	device    DeviceIdentity
	clock     clock.Clock
	namespace string
	keyID     string
	policy    keystore.Policy
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the codec's time source.
func WithClock(c clock.Clock) CodecOption {
	return func(cd *Codec) {
		cd.clock = c
	}
}

// WithKeyID overrides the keystore identifier of the token key.
func WithKeyID(id string) CodecOption {
	return func(cd *Codec) {
		cd.keyID = id
	}
}

// WithKeyPolicy sets the access policy applied when the token key is
// first generated.
func WithKeyPolicy(p keystore.Policy) CodecOption {
	return func(cd *Codec) {
		cd.policy = p
	}
}

// NewCodec creates a token codec. namespace is the application identifier
// bound into the integrity hash and all AADs.
func NewCodec(keys keystore.Store, enc sgcrypto.Service, device DeviceIdentity, namespace string, opts ...CodecOption) *Codec {
	c := &Codec{
		keys:      keys,
		enc:       enc,
		device:    device,
		clock:     clock.System(),
		namespace: namespace,
		keyID:     DefaultKeyID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint constructs, encrypts, and wraps a fresh session token for the given
// ceremony result. Timestamps are truncated to whole seconds so the binary
// payload round-trips exactly.
func (c *Codec) Mint(result authn.Result, timeout time.Duration) (*Token, error) {
	if !result.Success || result.IdentityID == "" {
		return nil, fmt.Errorf("cannot mint token from unsuccessful authentication")
	}

	deviceID, err := c.device.CurrentDeviceID()
	if err != nil {
		return nil, fmt.Errorf("resolving device identity: %w", err)
	}

	now := c.clock.Now().UTC().Truncate(time.Second)
	id := uuid.New()

	payload := &Payload{
		TokenID:       id,
		IdentityID:    result.IdentityID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(timeout),
		Assurance:     result.Assurance,
		Proof:         result.Proof,
		DeviceID:      deviceID,
		IntegrityHash: integrityHash(deviceID, now.Unix(), c.namespace),
	}

	plain, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding token payload: %w", err)
	}
	defer util.WipeBytes(plain)

	handle, err := keystore.RetrieveOrGenerate(c.keys, c.keyID, c.policy)
	if err != nil {
		return nil, fmt.Errorf("resolving token key: %w", err)
	}

	env, err := c.enc.Encrypt(plain, aad.Token(c.namespace, id.String(), tokenAADVersion), handle)
	if err != nil {
		return nil, fmt.Errorf("encrypting token payload: %w", err)
	}

	return &Token{
		ID:               id,
		EncryptedPayload: env,
		IssuedAt:         payload.IssuedAt,
		ExpiresAt:        payload.ExpiresAt,
		Assurance:        payload.Assurance,
	}, nil
}

// Validate decrypts the token and cross-checks every payload field against
// the unencrypted wrapper, the expected identity, and the current device.
// Any mismatch returns ErrIntegrity.
func (c *Codec) Validate(t *Token, expected Expected) (*Payload, error) {
	if t == nil || t.EncryptedPayload == nil {
		return nil, fmt.Errorf("%w: missing encrypted payload", ErrIntegrity)
	}

	handle, err := c.keys.Retrieve(c.keyID)
	if err != nil {
		return nil, fmt.Errorf("resolving token key: %w", err)
	}

	plain, err := c.enc.Decrypt(t.EncryptedPayload, aad.Token(c.namespace, t.ID.String(), tokenAADVersion), handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	defer util.WipeBytes(plain)

	payload, err := decodePayload(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	if payload.TokenID != t.ID {
		return nil, fmt.Errorf("%w: token ID mismatch", ErrIntegrity)
	}
	if !payload.ExpiresAt.Equal(t.ExpiresAt) {
		return nil, fmt.Errorf("%w: expiry mismatch between wrapper and payload", ErrIntegrity)
	}
	if payload.Assurance != t.Assurance {
		return nil, fmt.Errorf("%w: assurance mismatch between wrapper and payload", ErrIntegrity)
	}
	if payload.IdentityID != expected.IdentityID {
		return nil, fmt.Errorf("%w: identity mismatch", ErrIntegrity)
	}
	if payload.Assurance != expected.Assurance {
		return nil, fmt.Errorf("%w: assurance mismatch", ErrIntegrity)
	}

	deviceID, err := c.device.CurrentDeviceID()
	if err != nil {
		return nil, fmt.Errorf("resolving device identity: %w", err)
	}
	if payload.DeviceID != deviceID {
		return nil, fmt.Errorf("%w: device mismatch", ErrIntegrity)
	}

	if payload.IntegrityHash != integrityHash(deviceID, payload.IssuedAt.Unix(), c.namespace) {
		return nil, fmt.Errorf("%w: integrity hash mismatch", ErrIntegrity)
	}

	return payload, nil
}

// integrityHash binds a payload to device and time context. It is
// recomputed and compared on every validation.
func integrityHash(deviceID string, issuedAtEpoch int64, appID string) string {
	sum := sha256.Sum256([]byte(deviceID + strconv.FormatInt(issuedAtEpoch, 10) + appID))
	return util.HexEncode(sum[:])
}
