// Package aad builds additional-authenticated-data strings that bind
// ciphertexts to their context. Every field is length-prefixed so that
// no two distinct inputs can produce the same AAD.
package aad

import "encoding/binary"

const (
	labelToken   = "TOKEN"
	labelKeyWrap = "KEYWRAP"
	labelRecord  = "RECORD"
)

// Token binds an encrypted token payload to its token ID and namespace.
func Token(namespace, tokenID string, ver int) []byte {
	return build(labelToken, namespace, tokenID, ver)
}

// KeyWrap binds a wrapped key to its key ID and namespace.
func KeyWrap(namespace, keyID string, ver int) []byte {
	return build(labelKeyWrap, namespace, keyID, ver)
}

// Record binds a persisted session record to its type and ID.
func Record(namespace, recordType, recordID string, ver int) []byte {
	return build(labelRecord, namespace, recordType, recordID, ver)
}

func build(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
