package token

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/wealthwise/sessionguard/authn"
)

const payloadFormatVersion = 1

// Payload is the plaintext token structure. It never exists in durable
// storage unencrypted.
type Payload struct {
	TokenID       uuid.UUID
	IdentityID    string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Assurance     authn.Assurance
	Proof         authn.Method
	DeviceID      string
	IntegrityHash string
}

func encodePayload(p *Payload) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(payloadFormatVersion)
	buf.Write(p.TokenID[:])

	for _, s := range []string{p.IdentityID, p.DeviceID, p.IntegrityHash} {
		if len(s) > 255 {
			return nil, errors.New("payload field too long")
		}
	}

	buf.WriteByte(byte(len(p.IdentityID)))
	buf.WriteString(p.IdentityID)

	if err := binary.Write(&buf, binary.BigEndian, p.IssuedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.ExpiresAt.Unix()); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(p.Assurance))
	buf.WriteByte(byte(p.Proof))

	buf.WriteByte(byte(len(p.DeviceID)))
	buf.WriteString(p.DeviceID)

	buf.WriteByte(byte(len(p.IntegrityHash)))
	buf.WriteString(p.IntegrityHash)

	return buf.Bytes(), nil
}

func decodePayload(data []byte) (*Payload, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != payloadFormatVersion {
		return nil, errors.New("invalid payload version")
	}

	p := &Payload{}

	if _, err := io.ReadFull(reader, p.TokenID[:]); err != nil {
		return nil, err
	}

	identityID, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	p.IdentityID = identityID

	var issuedAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	p.IssuedAt = time.Unix(issuedAt, 0).UTC()
	p.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	assurance, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	p.Assurance = authn.Assurance(assurance)

	proof, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	p.Proof = authn.Method(proof)

	deviceID, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	p.DeviceID = deviceID

	hash, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	p.IntegrityHash = hash

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in payload")
	}

	return p, nil
}

func readLenPrefixed(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
