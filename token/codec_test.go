package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthwise/sessionguard/authn"
	"github.com/wealthwise/sessionguard/clock"
	sgcrypto "github.com/wealthwise/sessionguard/crypto"
	"github.com/wealthwise/sessionguard/keystore"
)

type staticDevice string

func (d staticDevice) CurrentDeviceID() (string, error) {
	return string(d), nil
}

func testResult() authn.Result {
	return authn.Result{
		Success:    true,
		IdentityID: "user-1",
		Proof:      authn.MethodBiometric,
		Assurance:  authn.AssuranceHigh,
	}
}

func newTestCodec(t *testing.T, mock *clock.Mock, device DeviceIdentity) *Codec {
	t.Helper()
	keys := keystore.NewMemoryStore()
	return NewCodec(keys, sgcrypto.AESGCM{}, device, "testapp", WithClock(mock))
}

func TestCodec_MintValidateRoundTrip(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, mock, staticDevice("device-1"))

	tok, err := codec.Mint(testResult(), 30*time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tok.ID)
	assert.Equal(t, mock.Now(), tok.IssuedAt)
	assert.Equal(t, mock.Now().Add(30*time.Minute), tok.ExpiresAt)
	assert.Equal(t, authn.AssuranceHigh, tok.Assurance)

	payload, err := codec.Validate(tok, Expected{IdentityID: "user-1", Assurance: authn.AssuranceHigh})
	require.NoError(t, err)
	assert.Equal(t, "user-1", payload.IdentityID)
	assert.Equal(t, "device-1", payload.DeviceID)
	assert.Equal(t, authn.MethodBiometric, payload.Proof)
	assert.Equal(t, tok.ID, payload.TokenID)
}

func TestCodec_MintRejectsFailedCeremony(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, mock, staticDevice("device-1"))

	_, err := codec.Mint(authn.Result{Success: false}, 30*time.Minute)
	assert.Error(t, err)

	_, err = codec.Mint(authn.Result{Success: true}, 30*time.Minute)
	assert.Error(t, err)
}

func TestToken_ExpiryBoundaryIsInclusive(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, mock, staticDevice("device-1"))

	tok, err := codec.Mint(testResult(), 30*time.Minute)
	require.NoError(t, err)

	assert.False(t, tok.Expired(mock.Now().Add(30*time.Minute-time.Second)))
	assert.True(t, tok.Expired(mock.Now().Add(30*time.Minute)))
	assert.True(t, tok.Expired(mock.Now().Add(30*time.Minute+time.Second)))
}

func TestCodec_ValidateDetectsWrapperTampering(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, mock, staticDevice("device-1"))
	expected := Expected{IdentityID: "user-1", Assurance: authn.AssuranceHigh}

	t.Run("token id", func(t *testing.T) {
		tok, err := codec.Mint(testResult(), 30*time.Minute)
		require.NoError(t, err)
		tok.ID = uuid.New()
		_, err = codec.Validate(tok, expected)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("expiry", func(t *testing.T) {
		tok, err := codec.Mint(testResult(), 30*time.Minute)
		require.NoError(t, err)
		tok.ExpiresAt = tok.ExpiresAt.Add(time.Hour)
		_, err = codec.Validate(tok, expected)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("assurance", func(t *testing.T) {
		tok, err := codec.Mint(testResult(), 30*time.Minute)
		require.NoError(t, err)
		tok.Assurance = authn.AssuranceMinimal
		_, err = codec.Validate(tok, expected)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("ciphertext", func(t *testing.T) {
		tok, err := codec.Mint(testResult(), 30*time.Minute)
		require.NoError(t, err)
		tok.EncryptedPayload.Ciphertext[0] ^= 0x01
		_, err = codec.Validate(tok, expected)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("missing payload", func(t *testing.T) {
		tok, err := codec.Mint(testResult(), 30*time.Minute)
		require.NoError(t, err)
		tok.EncryptedPayload = nil
		_, err = codec.Validate(tok, expected)
		assert.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestCodec_ValidateDetectsIdentityMismatch(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, mock, staticDevice("device-1"))

	tok, err := codec.Mint(testResult(), 30*time.Minute)
	require.NoError(t, err)

	_, err = codec.Validate(tok, Expected{IdentityID: "user-2", Assurance: authn.AssuranceHigh})
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = codec.Validate(tok, Expected{IdentityID: "user-1", Assurance: authn.AssuranceStandard})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestCodec_ValidateDetectsDeviceMismatch(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	keys := keystore.NewMemoryStore()

	mint := NewCodec(keys, sgcrypto.AESGCM{}, staticDevice("device-1"), "testapp", WithClock(mock))
	tok, err := mint.Mint(testResult(), 30*time.Minute)
	require.NoError(t, err)

	// Same key store, different device: decrypt succeeds, binding fails.
	validate := NewCodec(keys, sgcrypto.AESGCM{}, staticDevice("device-2"), "testapp", WithClock(mock))
	_, err = validate.Validate(tok, Expected{IdentityID: "user-1", Assurance: authn.AssuranceHigh})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestCodec_ValidateDetectsNamespaceMismatch(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	keys := keystore.NewMemoryStore()

	mint := NewCodec(keys, sgcrypto.AESGCM{}, staticDevice("device-1"), "app-a", WithClock(mock))
	tok, err := mint.Mint(testResult(), 30*time.Minute)
	require.NoError(t, err)

	validate := NewCodec(keys, sgcrypto.AESGCM{}, staticDevice("device-1"), "app-b", WithClock(mock))
	_, err = validate.Validate(tok, Expected{IdentityID: "user-1", Assurance: authn.AssuranceHigh})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestPayload_EncodeDecodeRoundTrip(t *testing.T) {
	p := &Payload{
		TokenID:       uuid.New(),
		IdentityID:    "user-1",
		IssuedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:     time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Assurance:     authn.AssuranceHigh,
		Proof:         authn.MethodPasskey,
		DeviceID:      "device-1",
		IntegrityHash: "deadbeef",
	}

	data, err := encodePayload(p)
	require.NoError(t, err)

	decoded, err := decodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestPayload_DecodeRejectsMalformed(t *testing.T) {
	p := &Payload{
		TokenID:    uuid.New(),
		IdentityID: "user-1",
		IssuedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
	data, err := encodePayload(p)
	require.NoError(t, err)

	t.Run("wrong version", func(t *testing.T) {
		bad := append([]byte{}, data...)
		bad[0] = 99
		_, err := decodePayload(bad)
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := decodePayload(data[:len(data)-1])
		assert.Error(t, err)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		bad := append(append([]byte{}, data...), 0x00)
		_, err := decodePayload(bad)
		assert.Error(t, err)
	})
}

func TestPayload_EncodeRejectsOversizedFields(t *testing.T) {
	p := &Payload{TokenID: uuid.New(), IdentityID: string(make([]byte, 300))}
	_, err := encodePayload(p)
	assert.Error(t, err)
}
