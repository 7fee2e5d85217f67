package keys

import (
	"strings"

	"github.com/google/uuid"
)

// Issuer mints single-use retrieval tokens.
type Issuer interface {
	Issue() (string, error)
}

type uuidIssuer struct{}

// NewUUIDIssuer constructs an Issuer backed by random (version 4) UUIDs.
// Tokens carry 122 random bits and need no coordination between processes.
func NewUUIDIssuer() Issuer {
	return &uuidIssuer{}
}

func (i *uuidIssuer) Issue() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(value.String(), "-", ""), nil
}
