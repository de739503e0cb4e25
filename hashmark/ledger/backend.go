package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/hashmark-protocol/hashmark/contracts/hashmark"
	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/index"
)

// Registry is the contract surface the gateway drives.
type Registry interface {
	index.Source
	Authenticate(opts *bind.TransactOpts, digest string) (*types.Transaction, error)
	Lookup(opts *bind.CallOpts, digest string) (creator common.Address, timestamp *big.Int, err error)
	// Registration decodes a VideoAuthenticated log of the registry.
	Registration(log types.Log) (*index.Entry, error)
}

// Chain is the node surface used for confirmation and listing.
type Chain interface {
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Backend is one established connection to a node and the registry on it.
type Backend struct {
	Registry Registry
	Chain    Chain
	// RPC is the raw client, nil when the backend is not RPC based.
	RPC   *rpc.Client
	close func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Connector establishes a Backend. The gateway calls it lazily and again
// after a failed attempt.
type Connector func(ctx context.Context) (*Backend, error)

// Dial connects to the node at cfg.RPCURL and binds the registry at
// cfg.ContractAddress, using the ABI at cfg.ABIPath when set.
func Dial(cfg Config) Connector {
	return func(ctx context.Context) (*Backend, error) {
		rc, err := rpc.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		client := ethclient.NewClient(rc)
		b, err := Bind(cfg, client)
		if err != nil {
			rc.Close()
			return nil, err
		}
		b.RPC = rc
		b.close = rc.Close
		return b, nil
	}
}

// ContractChain is what Bind needs from a node client; *ethclient.Client
// satisfies it.
type ContractChain interface {
	bind.ContractBackend
	Chain
}

// Bind builds a Backend over an existing client.
func Bind(cfg Config, client ContractChain) (*Backend, error) {
	var (
		contract *hashmark.Hashmark
		err      error
	)
	if cfg.ABIPath != "" {
		parsed, lerr := hashmark.LoadABI(cfg.ABIPath)
		if lerr != nil {
			return nil, lerr
		}
		contract, err = hashmark.NewHashmarkWithABI(cfg.ContractAddress, parsed, client)
	} else {
		contract, err = hashmark.NewHashmark(cfg.ContractAddress, client)
	}
	if err != nil {
		return nil, fmt.Errorf("bind registry %s: %w", cfg.ContractAddress, err)
	}
	return &Backend{Registry: &contractRegistry{contract: contract}, Chain: client}, nil
}

type contractRegistry struct {
	contract *hashmark.Hashmark
}

func (r *contractRegistry) Authenticate(opts *bind.TransactOpts, digest string) (*types.Transaction, error) {
	return r.contract.AuthenticateVideo(opts, digest)
}

func (r *contractRegistry) Lookup(opts *bind.CallOpts, digest string) (common.Address, *big.Int, error) {
	out, err := r.contract.VerifyVideo(opts, digest)
	return out.Creator, out.Timestamp, err
}

var errNotDigest = errors.New("registered string is not a canonical digest")

func (r *contractRegistry) Registration(log types.Log) (*index.Entry, error) {
	ev, err := r.contract.ParseVideoAuthenticated(log)
	if err != nil {
		return nil, err
	}
	return entryOf(ev)
}

func entryOf(ev *hashmark.HashmarkVideoAuthenticated) (*index.Entry, error) {
	d, err := fingerprint.ParseDigest(ev.VideoHash)
	if err != nil || d.Hex() != ev.VideoHash {
		return nil, errNotDigest
	}
	var ts uint64
	if ev.Timestamp != nil {
		ts = ev.Timestamp.Uint64()
	}
	return &index.Entry{
		Digest:    d,
		Creator:   ev.Creator,
		Timestamp: ts,
		Block:     ev.Raw.BlockNumber,
		TxHash:    ev.Raw.TxHash,
		LogIndex:  uint32(ev.Raw.Index),
	}, nil
}

// Events returns the registrations of [from, to]. Registrations of strings
// that are not canonical lowercase digests were not made through this
// service and are skipped.
func (r *contractRegistry) Events(ctx context.Context, from, to uint64) ([]index.Entry, error) {
	end := to
	it, err := r.contract.FilterVideoAuthenticated(&bind.FilterOpts{Start: from, End: &end, Context: ctx}, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var entries []index.Entry
	for it.Next() {
		if it.Event.Raw.Removed {
			continue
		}
		e, err := entryOf(it.Event)
		if err != nil {
			continue
		}
		entries = append(entries, *e)
	}
	return entries, it.Error()
}
