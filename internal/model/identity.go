package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// IdentitySize is the byte length of a derived identity.
const IdentitySize = 16

// ErrInvalidIdentity is returned for identities that are not lowercase hex.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the hex-encoded identifier of a connected player.
// The zero value means "no identity".
type Identity string

// IdentityFromToken derives a stable identity from an opaque connection token.
func IdentityFromToken(token []byte) Identity {
	h, err := blake2b.New(IdentitySize, nil)
	if err != nil {
		// blake2b only rejects sizes outside [1, 64] or keys longer than 64 bytes.
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write(token)
	return Identity(hex.EncodeToString(h.Sum(nil)))
}

// ParseIdentity validates s as an even-length hexadecimal string.
// An optional "0x" prefix is accepted; the result is lowercased.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s)%2 != 0 || len(s) > 2*64 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
		}
	}
	return Identity(strings.ToLower(s)), nil
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == ""
}

// String returns the hex form.
func (id Identity) String() string {
	return string(id)
}

// Short returns the first 8 hex characters for log output.
func (id Identity) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
