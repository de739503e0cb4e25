// Package ledger is the only component that talks to the chain. It submits
// registrations through the registry contract, reads them back, lists them
// through the local event index and translates every failure into one of a
// fixed set of error kinds.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	lru "github.com/hashicorp/golang-lru"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/index"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
)

const defaultCacheSize = 1024

type Config struct {
	RPCURL          string         `yaml:"rpc_url"`
	ContractAddress common.Address `yaml:"contract_address"`
	// ABIPath overrides the compiled-in registry ABI. The compiled-in ABI
	// declares VideoAuthenticated(string videoHash, address indexed creator,
	// uint256 timestamp); a deployment that does not index creator must set
	// abi_path or its events will not decode.
	ABIPath string `yaml:"abi_path"`
	// ReadRetries is how many times a read that failed with
	// ErrNetworkUnavailable is repeated. Writes are never repeated.
	ReadRetries  int           `yaml:"read_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	CacheSize    int           `yaml:"cache_size"`
	Faucet       bool          `yaml:"faucet"`
}

type Option func(*Gateway)

// WithSigner sets the server-side signer used by SubmitProof.
func WithSigner(p wallet.Provider) Option {
	return func(g *Gateway) { g.signer = p }
}

func WithIndex(ix *index.Index) Option {
	return func(g *Gateway) { g.index = ix }
}

func WithLogger(l log.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

type Gateway struct {
	cfg      Config
	connect  Connector
	signer   wallet.Provider
	index    *index.Index
	ownIndex bool
	verified *lru.Cache
	log      log.Logger

	mu      sync.Mutex
	backend *Backend
	chainID *big.Int

	// sendLocks serializes nonce assignment and submission per account.
	sendLocks sync.Map
}

func New(cfg Config, connect Connector, opts ...Option) (*Gateway, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	verified, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	g := &Gateway{cfg: cfg, connect: connect, verified: verified, log: log.New("module", "ledger")}
	for _, opt := range opts {
		opt(g)
	}
	if g.index == nil {
		if g.index, err = index.Open(index.Config{}); err != nil {
			return nil, err
		}
		g.ownIndex = true
	}
	return g, nil
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.backend != nil {
		g.backend.Close()
		g.backend = nil
	}
	if g.ownIndex {
		g.index.Close()
	}
}

// handle returns the memoized backend, connecting on first use. A failed
// attempt is not remembered.
func (g *Gateway) handle(ctx context.Context) (*Backend, *big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.backend != nil {
		return g.backend, g.chainID, nil
	}
	b, err := g.connect(ctx)
	if err != nil {
		return nil, nil, Classify("connect", err)
	}
	chainID, err := b.Chain.ChainID(ctx)
	if err != nil {
		b.Close()
		return nil, nil, Classify("chain id", err)
	}
	g.backend, g.chainID = b, chainID
	g.log.Info("Connected to ledger", "url", g.cfg.RPCURL, "chainid", chainID, "contract", g.cfg.ContractAddress)
	return b, chainID, nil
}

// ChainID is the chain the gateway is bound to.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := g.retry(ctx, func() (err error) {
		_, chainID, err = g.handle(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(chainID), nil
}

func (g *Gateway) ServerSigning() bool {
	return g.signer != nil
}

// SubmitProof registers d with the server signer and waits for inclusion.
func (g *Gateway) SubmitProof(ctx context.Context, d fingerprint.Digest) (*proof.Record, error) {
	if g.signer == nil {
		return nil, newError(ErrUnauthorized, "submit", nil)
	}
	c, err := g.signer.Capability(ctx)
	if err != nil {
		return nil, Classify("submit", err)
	}
	tx, err := g.Broadcast(ctx, c, d)
	if err != nil {
		return nil, err
	}
	return g.AwaitConfirmation(ctx, tx, d)
}

// Broadcast sends the registration of d signed by c. It is never retried: a
// second attempt could register twice or fail as a duplicate of the first.
//
// When sending fails after the transaction was signed, the signed
// transaction is returned along with the error: the node may have accepted
// it before the failure.
func (g *Gateway) Broadcast(ctx context.Context, c *wallet.Capability, d fingerprint.Digest) (*types.Transaction, error) {
	if c == nil {
		return nil, newError(ErrUnauthorized, "broadcast", nil)
	}
	b, chainID, err := g.handle(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := c.TransactOpts(ctx, chainID)
	if err != nil {
		return nil, Classify("broadcast", err)
	}
	var signed *types.Transaction
	sign := opts.Signer
	opts.Signer = func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
		stx, err := sign(from, tx)
		if err == nil {
			signed = stx
		}
		return stx, err
	}
	lock, _ := g.sendLocks.LoadOrStore(c.Account, new(sync.Mutex))
	lock.(*sync.Mutex).Lock()
	tx, err := b.Registry.Authenticate(opts, d.Hex())
	lock.(*sync.Mutex).Unlock()
	if err != nil {
		err = Classify("broadcast", err)
		g.logFailure("Proof submission failed", d, err)
		if signed != nil {
			g.log.Warn("Submission outcome unknown", "digest", d, "tx", signed.Hash(), "err", err)
		}
		return signed, err
	}
	countCall("broadcast")
	g.log.Info("Submitted proof", "digest", d, "from", c.Account, "tx", tx.Hash())
	return tx, nil
}

// AwaitConfirmation waits for tx to be included and reads the record back at
// the inclusion block. Only ctx bounds the wait. Once tx is included
// successfully the result is a record: a read-back that keeps failing falls
// back to what the receipt carries.
func (g *Gateway) AwaitConfirmation(ctx context.Context, tx *types.Transaction, d fingerprint.Digest) (*proof.Record, error) {
	b, chainID, err := g.handle(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, b.Chain, tx)
	if err != nil {
		return nil, Classify("await confirmation", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		res, rerr := g.lookup(ctx, b, chainID, d, nil)
		if rerr == nil && res.Found {
			err = newError(ErrDuplicateProof, "await confirmation", errors.New("registered by "+res.Record.Creator.Hex()+" first"))
		} else {
			err = newError(ErrUnclassified, "await confirmation", errors.New("transaction "+tx.Hash().Hex()+" reverted"))
		}
		g.logFailure("Proof transaction reverted", d, err)
		return nil, err
	}
	var res *proof.VerificationResult
	err = g.retry(ctx, func() (err error) {
		res, err = g.lookup(ctx, b, chainID, d, receipt.BlockNumber)
		return err
	})
	var rec *proof.Record
	if err == nil && res.Found {
		rec = res.Record
	} else {
		// The receipt is proof of inclusion; the read-back only cross-checks it.
		g.log.Warn("Included proof not read back, using receipt", "digest", d, "tx", receipt.TxHash, "err", err)
		rec = g.receiptRecord(ctx, b, chainID, tx, receipt, d)
	}
	rec.TxHash = receipt.TxHash
	rec.BlockNumber = receipt.BlockNumber.Uint64()
	if rec.Timestamp != 0 {
		g.verified.Add(d, *rec)
	}
	countCall("confirmed")
	g.log.Info("Proof confirmed", "digest", d, "tx", rec.TxHash, "block", rec.BlockNumber, "creator", rec.Creator)
	return rec, nil
}

// receiptRecord builds the record of d from a successful receipt: from its
// registration event when decodable, else from the sender and block time.
func (g *Gateway) receiptRecord(ctx context.Context, b *Backend, chainID *big.Int, tx *types.Transaction, receipt *types.Receipt, d fingerprint.Digest) *proof.Record {
	rec := &proof.Record{Digest: d, ChainID: chainID.Uint64()}
	for _, l := range receipt.Logs {
		if e, err := b.Registry.Registration(*l); err == nil && e.Digest == d {
			rec.Creator, rec.Timestamp = e.Creator, e.Timestamp
			return rec
		}
	}
	if from, err := types.Sender(types.LatestSignerForChainID(chainID), tx); err == nil {
		rec.Creator = from
	}
	if h, err := b.Chain.HeaderByNumber(ctx, receipt.BlockNumber); err == nil {
		rec.Timestamp = h.Time
	}
	return rec
}

// ReadProof reports whether d is registered. Network failures are errors,
// never a negative answer.
func (g *Gateway) ReadProof(ctx context.Context, d fingerprint.Digest) (*proof.VerificationResult, error) {
	defer metrics.GetOrRegisterTimer("ledger/read", nil).UpdateSince(time.Now())

	if v, ok := g.verified.Get(d); ok {
		rec := v.(proof.Record)
		g.enrich(&rec)
		return proof.Found(&rec), nil
	}
	var res *proof.VerificationResult
	err := g.retry(ctx, func() error {
		b, chainID, err := g.handle(ctx)
		if err != nil {
			return err
		}
		res, err = g.lookup(ctx, b, chainID, d, nil)
		return err
	})
	if err != nil {
		g.logFailure("Proof lookup failed", d, err)
		return nil, err
	}
	if res.Found {
		g.verified.Add(d, *res.Record)
		g.enrich(res.Record)
	}
	return res, nil
}

// enrich fills inclusion data from the event index when the record was read
// through verifyVideo, which does not expose it.
func (g *Gateway) enrich(rec *proof.Record) {
	if rec.HasInclusion() {
		return
	}
	e, ok, err := g.index.Lookup(rec.Digest)
	if err != nil || !ok {
		return
	}
	rec.TxHash, rec.BlockNumber = e.TxHash, e.Block
}

func (g *Gateway) lookup(ctx context.Context, b *Backend, chainID *big.Int, d fingerprint.Digest, block *big.Int) (*proof.VerificationResult, error) {
	countCall("lookup")
	creator, ts, err := b.Registry.Lookup(&bind.CallOpts{Context: ctx, BlockNumber: block}, d.Hex())
	if err != nil {
		if isAbsent(err) {
			return proof.NotFound(d), nil
		}
		return nil, Classify("verify", err)
	}
	if ts == nil || ts.Sign() == 0 {
		return proof.NotFound(d), nil
	}
	return proof.Found(&proof.Record{
		Digest:    d,
		Creator:   creator,
		Timestamp: ts.Uint64(),
		ChainID:   chainID.Uint64(),
	}), nil
}

func (g *Gateway) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrNetworkUnavailable) || attempt >= g.cfg.ReadRetries {
			return err
		}
		g.log.Debug("Retrying ledger read", "attempt", attempt+1, "err", err)
		t := time.NewTimer(g.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func (g *Gateway) logFailure(msg string, d fingerprint.Digest, err error) {
	switch KindOf(err) {
	case ErrUnclassified:
		g.log.Error(msg, "digest", d, "err", err)
	case ErrSigningRejected:
		g.log.Debug(msg, "digest", d, "err", err)
	default:
		g.log.Warn(msg, "digest", d, "err", err)
	}
}

func countCall(name string) {
	metrics.GetOrRegisterCounter("ledger/"+name, nil).Inc(1)
}

type Info struct {
	ContractAddress common.Address  `json:"contractAddress"`
	RPCURL          string          `json:"rpcUrl"`
	ServerWallet    *common.Address `json:"serverWallet"`
	ServerSigning   bool            `json:"serverSigning"`
}

func (g *Gateway) Info(ctx context.Context) *Info {
	info := &Info{ContractAddress: g.cfg.ContractAddress, RPCURL: g.cfg.RPCURL, ServerSigning: g.signer != nil}
	if g.signer != nil {
		if c, err := g.signer.Capability(ctx); err == nil {
			info.ServerWallet = &c.Account
		}
	}
	return info
}
