// Package fingerprint computes the content digests that are registered on the
// ledger. The registry contract compares digests as exact hex strings, so the
// encoding rules here are part of the wire contract: file bytes are hashed as
// they are, raw string values are trimmed first.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	Size    = 32
	HexSize = 2 * Size
)

var (
	ErrBlankInput    = errors.New("fingerprint: blank input")
	ErrInvalidDigest = errors.New("fingerprint: invalid digest")
)

// Digest is a SHA-256 content digest.
type Digest [Size]byte

// Hex returns the canonical lowercase hex form used on-chain.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Sum hashes b exactly as given. Empty input yields the digest of the empty
// string.
func Sum(b []byte) (ret Digest) {
	h := getHasher()
	h.Write(b)
	h.Sum(ret[:0])
	putHasher(h)
	return
}

// SumReader hashes everything read from r and reports the number of bytes
// consumed.
func SumReader(r io.Reader) (ret Digest, n int64, err error) {
	h := getHasher()
	defer putHasher(h)
	if n, err = io.Copy(h, r); err != nil {
		return Digest{}, n, fmt.Errorf("fingerprint: read input: %w", err)
	}
	h.Sum(ret[:0])
	return
}

// SumRaw hashes a raw string value after trimming surrounding whitespace.
func SumRaw(value string) (Digest, error) {
	value = NormalizeRaw(value)
	if value == "" {
		return Digest{}, ErrBlankInput
	}
	return Sum([]byte(value)), nil
}

// NormalizeRaw applies the raw-string normalization rule.
func NormalizeRaw(value string) string {
	return strings.TrimSpace(value)
}

// ParseDigest accepts 64 hex characters in either case, surrounded by optional
// whitespace.
func ParseDigest(s string) (ret Digest, err error) {
	s = strings.TrimSpace(s)
	if len(s) != HexSize {
		return Digest{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidDigest, HexSize, len(s))
	}
	if _, err = hex.Decode(ret[:], []byte(s)); err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return ret, nil
}

// MustParseDigest is ParseDigest for constants and tests.
func MustParseDigest(s string) Digest {
	d, err := ParseDigest(s)
	if err != nil {
		panic(err)
	}
	return d
}
