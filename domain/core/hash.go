package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
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

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// DeriveSeed maps (base seed, scenario id) to an independent per-scenario seed.
// The mapping depends only on its arguments, never on scheduling.
func DeriveSeed(base uint64, scenarioID string) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], base)

	h := sha256.New()
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write([]byte(scenarioID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// ParamsHash fingerprints a parameter mapping with keys in sorted order.
func ParamsHash(params map[string]interface{}) Hash {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteByte('=')
		data.WriteString(fmt.Sprintf("%v", params[key]))
		data.WriteByte(';')
	}
	return NewHash([]byte(data.String()))
}
