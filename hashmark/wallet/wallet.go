// Package wallet models signing capability: whether some account can sign a
// registry transaction right now, and on which chain. Capability comes and
// goes; providers announce every change on a subscription so that a parked
// authentication can resume without polling.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrNoCapability = errors.New("wallet: no signing capability")
	ErrWrongChain   = errors.New("wallet: connected to a different chain")
	ErrRejected     = errors.New("wallet: user rejected the request")
	ErrNoChain      = errors.New("wallet: missing chain id")
)

type EventKind int

const (
	Connected EventKind = iota
	AccountChanged
	ChainChanged
	Disconnected
)

var eventKindNames = [...]string{"connected", "accountChanged", "chainChanged", "disconnected"}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind    EventKind
	Account common.Address
	ChainID *big.Int
}

type Provider interface {
	// Capability returns the current capability or ErrNoCapability.
	Capability(ctx context.Context) (*Capability, error)
	Subscribe(sink chan<- Event) event.Subscription
}

// SignerFactory produces a transaction signer bound to one chain.
type SignerFactory func(chainID *big.Int) (bind.SignerFn, error)

type Capability struct {
	Account common.Address
	// ChainID is the chain the wallet is connected to. Nil means the signer
	// follows whatever chain it is asked to sign for.
	ChainID *big.Int
	signer  SignerFactory
}

func NewCapability(account common.Address, chainID *big.Int, signer SignerFactory) *Capability {
	return &Capability{Account: account, ChainID: chainID, signer: signer}
}

// On reports whether transactions signed by c are valid on chainID.
func (c *Capability) On(chainID *big.Int) bool {
	return c.ChainID == nil || (chainID != nil && c.ChainID.Cmp(chainID) == 0)
}

func (c *Capability) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if !c.On(chainID) {
		return nil, fmt.Errorf("%w: wallet on %v, ledger on %v", ErrWrongChain, c.ChainID, chainID)
	}
	sign, err := c.signer(chainID)
	if err != nil {
		return nil, err
	}
	return &bind.TransactOpts{From: c.Account, Signer: sign, Context: ctx}, nil
}
