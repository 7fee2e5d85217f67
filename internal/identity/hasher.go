// Package identity derives salted pseudonyms from client network addresses.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// PseudonymLength is the number of hex characters kept from the digest.
const PseudonymLength = 32

// ErrMissingSalt indicates that a Hasher was constructed without a salt.
var ErrMissingSalt = errors.New("identity: salt is required")

// Hash returns the first PseudonymLength hex characters of sha256(salt || rawAddress).
// The salt prevents precomputed-table reversal while keeping one address linkable to itself.
func Hash(rawAddress, salt string) string {
	digest := sha256.Sum256([]byte(salt + rawAddress))
	return hex.EncodeToString(digest[:])[:PseudonymLength]
}

// Hasher binds a salt so callers only pass the per-request address.
type Hasher struct {
	salt string
}

// NewHasher constructs a Hasher for the provided salt.
func NewHasher(salt string) (Hasher, error) {
	if strings.TrimSpace(salt) == "" {
		return Hasher{}, ErrMissingSalt
	}
	return Hasher{salt: salt}, nil
}

// Pseudonym hashes rawAddress with the bound salt.
func (h Hasher) Pseudonym(rawAddress string) string {
	return Hash(rawAddress, h.salt)
}
