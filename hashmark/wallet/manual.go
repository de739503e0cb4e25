package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Manual is a wallet driven from outside: an operator or a browser bridge
// connects it, switches its account and chain, and approves or rejects
// signing requests. It starts disconnected.
type Manual struct {
	mu      sync.Mutex
	account common.Address
	chainID *big.Int
	signer  SignerFactory
	connect bool
	reject  bool
	feed    event.Feed
}

func NewManual() *Manual {
	return new(Manual)
}

func (m *Manual) Connect(account common.Address, chainID *big.Int, signer SignerFactory) error {
	if chainID == nil {
		return ErrNoChain
	}
	m.mu.Lock()
	m.account, m.chainID, m.signer, m.connect = account, new(big.Int).Set(chainID), signer, true
	m.mu.Unlock()
	m.feed.Send(Event{Kind: Connected, Account: account, ChainID: chainID})
	return nil
}

func (m *Manual) SwitchAccount(account common.Address) {
	m.mu.Lock()
	m.account = account
	chainID := m.chainID
	m.mu.Unlock()
	m.feed.Send(Event{Kind: AccountChanged, Account: account, ChainID: chainID})
}

func (m *Manual) SwitchChain(chainID *big.Int) error {
	if chainID == nil {
		return ErrNoChain
	}
	m.mu.Lock()
	m.chainID = new(big.Int).Set(chainID)
	account := m.account
	m.mu.Unlock()
	m.feed.Send(Event{Kind: ChainChanged, Account: account, ChainID: chainID})
	return nil
}

func (m *Manual) Disconnect() {
	m.mu.Lock()
	m.connect = false
	account := m.account
	m.mu.Unlock()
	m.feed.Send(Event{Kind: Disconnected, Account: account})
}

// RejectSigning makes subsequent signing requests fail with ErrRejected.
func (m *Manual) RejectSigning(reject bool) {
	m.mu.Lock()
	m.reject = reject
	m.mu.Unlock()
}

func (m *Manual) Capability(context.Context) (*Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connect {
		return nil, ErrNoCapability
	}
	factory := m.signer
	return NewCapability(m.account, new(big.Int).Set(m.chainID), func(chainID *big.Int) (bind.SignerFn, error) {
		sign, err := factory(chainID)
		if err != nil {
			return nil, err
		}
		return func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			m.mu.Lock()
			reject := m.reject
			m.mu.Unlock()
			if reject {
				return nil, ErrRejected
			}
			return sign(from, tx)
		}, nil
	}), nil
}

func (m *Manual) Subscribe(sink chan<- Event) event.Subscription {
	return m.feed.Subscribe(sink)
}
