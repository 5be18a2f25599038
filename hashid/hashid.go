// Package hashid defines the fixed-width content identifier used
// throughout the consensus engine to name items and state records.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Size is the length in bytes of an ID (SHA-256 digest width).
const Size = 32

// ID is an opaque, fixed-width content identifier. The zero value is not
// a valid id; use Of or FromHex to construct one.
type ID [Size]byte

// Of hashes data with SHA-256 and returns the resulting ID.
func Of(data []byte) ID {
	return ID(sha256.Sum256(data))
}

// String returns the lowercase hex encoding of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero sentinel value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalJSON encodes id as a hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes id from a hex string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FromHex decodes a hex-encoded ID.
func FromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, err
	}
	if len(b) != Size {
		return ID{}, errors.New("hashid: wrong length")
	}
	var id ID
	copy(id[:], b)
	return id, nil
}
