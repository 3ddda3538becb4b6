// Package fingerprint derives content identities from raw post text.
//
// Two posts with the same canonical text always collapse to the same
// identity, regardless of author or element. The canonical form matches
// the authority's server-side normalization, so client and server hashes
// agree byte for byte.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Identity is a content fingerprint: the SHA-256 hex digest of the
// canonical text. Value-equal, immutable.
type Identity string

// Zero reports whether the identity is empty.
func (id Identity) Zero() bool { return id == "" }

// String returns the hex digest.
func (id Identity) String() string { return string(id) }

// Canonicalize normalizes raw text for fingerprinting: lower-case, trim,
// and collapse runs of whitespace to a single space.
func Canonicalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Hash fingerprints raw text. Deterministic and pure: equal canonical
// inputs always yield equal identities.
func Hash(s string) Identity {
	sum := sha256.Sum256([]byte(Canonicalize(s)))
	return Identity(hex.EncodeToString(sum[:]))
}
