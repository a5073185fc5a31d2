package util

import (
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD normalization so that visually identical
// passphrases typed on different platforms derive the same key.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// HexEncode encodes b as a lowercase hex string.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// HexDecode decodes a hex string produced by HexEncode.
func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
