package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// TableHash fingerprints a generated table
type TableHash Hash

func (h TableHash) String() string { return Hash(h).String() }

// ComputeTableHash hashes canonical row encodings in order. Row order is part of
// the fingerprint: two tables with the same rows in a different order differ.
func ComputeTableHash(rows []string) TableHash {
	var data strings.Builder
	for _, row := range rows {
		data.WriteString(row)
		data.WriteByte('\n')
	}
	return TableHash(NewHash([]byte(data.String())))
}
