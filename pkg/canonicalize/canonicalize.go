// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the digest arithmetic for the audit chain.
//
// Canonical bytes are the wire contract: two implementations hashing the
// same logical entry must produce identical digests, so all chain hashing
// goes through JCS and the fixed timestamp layout below.
package canonicalize

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// isoMillisLayout serializes timestamps as ISO-8601, millisecond precision,
// UTC zone. Part of the hash input; do not change.
const isoMillisLayout = "2006-01-02T15:04:05.000Z"

// ISOMillis renders t in the canonical timestamp layout.
func ISOMillis(t time.Time) string {
	return t.UTC().Format(isoMillisLayout)
}

// JCS returns the RFC 8785 canonical JSON for v: standard marshal first
// (so struct tags apply), then the JCS transform for key ordering and
// number/escaping rules.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hasher computes lowercase-hex digests with the configured algorithm.
type Hasher struct {
	algo contracts.HashAlgorithm
}

// NewHasher builds a Hasher for one of SHA-256, SHA-384, SHA-512.
func NewHasher(algo contracts.HashAlgorithm) (*Hasher, error) {
	if !algo.Valid() {
		return nil, fmt.Errorf("canonicalize: unsupported hash algorithm %q", algo)
	}
	return &Hasher{algo: algo}, nil
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() contracts.HashAlgorithm { return h.algo }

func (h *Hasher) new() hash.Hash {
	switch h.algo {
	case contracts.HashSHA384:
		return sha512.New384()
	case contracts.HashSHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// Sum digests raw bytes to lowercase hex.
func (h *Hasher) Sum(data []byte) string {
	d := h.new()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

// HashCanonical digests the JCS form of v.
func (h *Hasher) HashCanonical(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return h.Sum(b), nil
}

// PayloadDigest digests an opaque payload for evidence binding. A nil
// payload digests to the empty string so its absence is itself canonical.
func (h *Hasher) PayloadDigest(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	return h.HashCanonical(payload)
}
