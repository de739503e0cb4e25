package workflow

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
)

type Status int

const (
	StatusError Status = iota
	StatusFound
	StatusNotFound
)

var statusNames = [...]string{"error", "found", "notFound"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Verification is the answer to a verification request. Result is set for
// Found and NotFound; Failure and Err are set for Error.
type Verification struct {
	Status  Status
	Digest  fingerprint.Digest
	Result  *proof.VerificationResult
	Failure FailureKind
	Err     error
}

// Verifier answers whether an input is registered. File, raw and digest
// inputs all end in the same ledger read.
type Verifier struct {
	ledger Ledger
	log    log.Logger
}

func NewVerifier(l Ledger) *Verifier {
	return &Verifier{ledger: l, log: log.New("module", "workflow")}
}

func (v *Verifier) Verify(ctx context.Context, in Input) *Verification {
	d, err := in.Resolve()
	if err != nil {
		return &Verification{Status: StatusError, Failure: FailureOf(err), Err: err}
	}
	res, err := v.ledger.ReadProof(ctx, d)
	if err != nil {
		v.log.Debug("Verification failed", "digest", d, "err", err)
		return &Verification{Status: StatusError, Digest: d, Failure: FailureOf(err), Err: err}
	}
	if !res.Found {
		return &Verification{Status: StatusNotFound, Digest: d, Result: res}
	}
	return &Verification{Status: StatusFound, Digest: d, Result: res}
}
