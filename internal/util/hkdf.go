package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFKeyLength is the length of every derived subkey (AES-256).
const HKDFKeyLength = 32

// HKDF derives a 32-byte subkey from seed using HKDF-SHA256. The info
// parameter separates key purposes (token key vs. persistence keys) so a
// compromise of one derived key does not expose its siblings.
func HKDF(seed, salt, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
