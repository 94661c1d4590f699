package transfer

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"

	rerr "github.com/alxayo/filerelay/internal/errors"
)

// idByteLen is the number of random bytes encoded into each TransferId.
// 18 bytes -> 24 base64url characters, comfortably inside the 128-bit
// entropy floor the wire format requires.
const idByteLen = 18

// idPattern is the wire-format contract: base64url (no padding), 22-32
// characters, accepted on /recv/{id} and /api/transfer/{id}.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22,32}$`)

// NewID generates a fresh, high-entropy TransferId. The server is the only
// allocator; clients never choose their own id.
func NewID() (string, error) {
	buf := make([]byte, idByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", rerr.Internal("id.generate", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidID reports whether s has the shape of a server-issued TransferId.
// It does not check the registry; callers still need registry.Get.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
