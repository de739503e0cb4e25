// Package proof holds the values exchanged between the ledger gateway and the
// workflows. The ledger is the only authority for these records; everything
// here is a copy.
package proof

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
)

// Record binds a digest to the account that registered it and the block that
// included the registration. Records are created once per digest and never
// change.
type Record struct {
	Digest      fingerprint.Digest `json:"hash"`
	Creator     common.Address     `json:"creator"`
	Timestamp   uint64             `json:"timestamp"`
	TxHash      common.Hash        `json:"txHash"`
	BlockNumber uint64             `json:"blockNumber"`
	ChainID     uint64             `json:"chainId"`
}

// HasInclusion reports whether the transaction and block of the registration
// are known. Records read through verifyVideo only carry creator and time.
func (r *Record) HasInclusion() bool {
	return r.BlockNumber != 0 && r.TxHash != (common.Hash{})
}

// VerificationResult is the derived answer to "is this digest registered".
type VerificationResult struct {
	Digest fingerprint.Digest `json:"hash"`
	Found  bool               `json:"authenticated"`
	Record *Record            `json:"record,omitempty"`
}

func NotFound(d fingerprint.Digest) *VerificationResult {
	return &VerificationResult{Digest: d}
}

func Found(rec *Record) *VerificationResult {
	return &VerificationResult{Digest: rec.Digest, Found: true, Record: rec}
}
