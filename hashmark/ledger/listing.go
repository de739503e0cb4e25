package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/index"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
)

const (
	DefaultRecent = 20
	MaxRecent     = 100
	statsRecent   = 5
)

// ClampLimit bounds a listing size to [1, MaxRecent].
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > MaxRecent:
		return MaxRecent
	}
	return limit
}

// RecentProofs is a finite newest-first sequence of proofs. Block heights
// never increase along it. Reset restarts it over the same snapshot.
type RecentProofs struct {
	it      *index.Iterator
	limit   int
	n       int
	chainID uint64
	cur     proof.Record
}

func (r *RecentProofs) Next() bool {
	if r.n >= r.limit || !r.it.Next() {
		return false
	}
	e := r.it.Entry()
	r.cur = e.Record(r.chainID)
	r.n++
	return true
}

func (r *RecentProofs) Record() proof.Record {
	return r.cur
}

func (r *RecentProofs) Err() error {
	return r.it.Err()
}

func (r *RecentProofs) Reset() {
	r.it.Reset()
	r.n = 0
}

func (r *RecentProofs) Close() {
	r.it.Release()
}

// refresh brings the event index up to the current head.
func (g *Gateway) refresh(ctx context.Context) (head uint64, chainID *big.Int, err error) {
	err = g.retry(ctx, func() error {
		b, id, err := g.handle(ctx)
		if err != nil {
			return err
		}
		if head, err = b.Chain.BlockNumber(ctx); err != nil {
			return Classify("block number", err)
		}
		if _, err = g.index.Sync(ctx, b.Registry, head); err != nil {
			return Classify("sync events", err)
		}
		chainID = id
		return nil
	})
	return head, chainID, err
}

// ListRecentProofs returns up to limit proofs, newest first. The caller
// must Close the sequence.
func (g *Gateway) ListRecentProofs(ctx context.Context, limit int) (*RecentProofs, error) {
	_, chainID, err := g.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return g.recent(chainID, limit), nil
}

func (g *Gateway) recent(chainID *big.Int, limit int) *RecentProofs {
	return &RecentProofs{it: g.index.Recent(), limit: ClampLimit(limit), chainID: chainID.Uint64()}
}

func (g *Gateway) collect(chainID *big.Int, limit int) ([]proof.Record, error) {
	seq := g.recent(chainID, limit)
	defer seq.Close()
	out := make([]proof.Record, 0, ClampLimit(limit))
	for seq.Next() {
		out = append(out, seq.Record())
	}
	return out, seq.Err()
}

type Stats struct {
	TotalProofs  uint64         `json:"totalProofs"`
	RecentProofs []proof.Record `json:"recentProofs"`
	BlockNumber  uint64         `json:"blockNumber"`
	Offline      bool           `json:"offline,omitempty"`
}

// Stats summarizes the registry. An unreachable node yields zero values
// flagged Offline rather than an error.
func (g *Gateway) Stats(ctx context.Context) (*Stats, error) {
	head, chainID, err := g.refresh(ctx)
	if errors.Is(err, ErrNetworkUnavailable) {
		g.log.Warn("Ledger offline, serving empty stats", "err", err)
		return &Stats{RecentProofs: []proof.Record{}, Offline: true}, nil
	}
	if err != nil {
		return nil, err
	}
	total, err := g.index.Count()
	if err != nil {
		return nil, err
	}
	recent, err := g.collect(chainID, statsRecent)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalProofs: total, RecentProofs: recent, BlockNumber: head}, nil
}

type Listing struct {
	Proofs      []proof.Record `json:"proofs"`
	Total       uint64         `json:"total"`
	BlockNumber uint64         `json:"blockNumber"`
	Offline     bool           `json:"offline,omitempty"`
}

// Recent lists up to limit proofs with the same offline degradation as
// Stats.
func (g *Gateway) Recent(ctx context.Context, limit int) (*Listing, error) {
	head, chainID, err := g.refresh(ctx)
	if errors.Is(err, ErrNetworkUnavailable) {
		g.log.Warn("Ledger offline, serving empty listing", "err", err)
		return &Listing{Proofs: []proof.Record{}, Offline: true}, nil
	}
	if err != nil {
		return nil, err
	}
	total, err := g.index.Count()
	if err != nil {
		return nil, err
	}
	proofs, err := g.collect(chainID, limit)
	if err != nil {
		return nil, err
	}
	return &Listing{Proofs: proofs, Total: total, BlockNumber: head}, nil
}

// LocateProof is ReadProof for callers that need inclusion data. A record
// the index has not seen yet triggers a sync first.
func (g *Gateway) LocateProof(ctx context.Context, d fingerprint.Digest) (*proof.VerificationResult, error) {
	res, err := g.ReadProof(ctx, d)
	if err != nil || !res.Found || res.Record.HasInclusion() {
		return res, err
	}
	if _, _, err := g.refresh(ctx); err != nil {
		return nil, err
	}
	g.enrich(res.Record)
	return res, nil
}
