// Package workflow drives a digest from raw input to a confirmed ledger
// record, and answers verification requests through the same read path.
package workflow

import (
	"context"
	"errors"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
)

// Ledger is the part of the gateway the workflows drive.
type Ledger interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Broadcast(ctx context.Context, c *wallet.Capability, d fingerprint.Digest) (*types.Transaction, error)
	AwaitConfirmation(ctx context.Context, tx *types.Transaction, d fingerprint.Digest) (*proof.Record, error)
	ReadProof(ctx context.Context, d fingerprint.Digest) (*proof.VerificationResult, error)
}

var _ Ledger = (*ledger.Gateway)(nil)

type State int

const (
	Idle State = iota
	Hashing
	AwaitingSigningCapability
	Submitting
	AwaitingConfirmation
	Confirmed
	Failed
)

var stateNames = [...]string{"idle", "hashing", "awaitingSigningCapability", "submitting", "awaitingConfirmation", "confirmed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed
}

type FailureKind int

const (
	NoFailure FailureKind = iota
	AlreadyAuthenticated
	Unauthorized
	NetworkUnavailable
	SigningRejected
	Unclassified
	Canceled
	InvalidInput
)

var failureNames = [...]string{"", "alreadyAuthenticated", "unauthorized", "networkUnavailable", "signingRejected", "unclassified", "canceled", "invalidInput"}

func (k FailureKind) String() string {
	if int(k) < len(failureNames) {
		return failureNames[k]
	}
	return "unknown"
}

// FailureOf maps a gateway or input error to its failure kind.
func FailureOf(err error) FailureKind {
	switch {
	case err == nil:
		return NoFailure
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, fingerprint.ErrBlankInput), errors.Is(err, fingerprint.ErrInvalidDigest):
		return InvalidInput
	}
	switch ledger.KindOf(err) {
	case ledger.ErrDuplicateProof:
		return AlreadyAuthenticated
	case ledger.ErrUnauthorized:
		return Unauthorized
	case ledger.ErrNetworkUnavailable:
		return NetworkUnavailable
	case ledger.ErrSigningRejected:
		return SigningRejected
	}
	return Unclassified
}

type inputKind int

const (
	bytesInput inputKind = iota
	readerInput
	rawInput
	digestInput
)

// Input is what a workflow fingerprints: file bytes, a stream, a raw string
// or an already computed digest.
type Input struct {
	kind   inputKind
	bytes  []byte
	reader io.Reader
	raw    string
	digest fingerprint.Digest
}

func FromBytes(b []byte) Input { return Input{kind: bytesInput, bytes: b} }

func FromReader(r io.Reader) Input { return Input{kind: readerInput, reader: r} }

// FromRaw hashes s after trimming; blank values are rejected.
func FromRaw(s string) Input { return Input{kind: rawInput, raw: s} }

func FromDigest(d fingerprint.Digest) Input { return Input{kind: digestInput, digest: d} }

func (in Input) Resolve() (fingerprint.Digest, error) {
	switch in.kind {
	case readerInput:
		d, _, err := fingerprint.SumReader(in.reader)
		return d, err
	case rawInput:
		return fingerprint.SumRaw(in.raw)
	case digestInput:
		return in.digest, nil
	}
	return fingerprint.Sum(in.bytes), nil
}
