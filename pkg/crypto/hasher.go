package crypto

import "github.com/opencawt/court/pkg/canonicalize"

// Hasher provides deterministic hashing over canonicalised values.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes the RFC 8785 canonical JSON form of a value,
// delegating to the shared canonicalize package so every hash in the
// system (verdicts, ballots, agreement terms, webhook payloads) is
// produced by the same codepath.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	return canonicalize.CanonicalHash(v)
}
