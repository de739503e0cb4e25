package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// Keystore signs with one account of an encrypted key directory. The account
// is connected while its key file is present; signing needs it unlocked.
type Keystore struct {
	ks      *keystore.KeyStore
	account accounts.Account
	log     log.Logger

	feed  event.Feed
	scope event.SubscriptionScope
	once  sync.Once
	quit  chan struct{}
}

func OpenKeystore(dir string, account common.Address, light bool) *Keystore {
	n, p := keystore.StandardScryptN, keystore.StandardScryptP
	if light {
		n, p = keystore.LightScryptN, keystore.LightScryptP
	}
	return NewKeystore(keystore.NewKeyStore(dir, n, p), account)
}

func NewKeystore(ks *keystore.KeyStore, account common.Address) *Keystore {
	return &Keystore{
		ks:      ks,
		account: accounts.Account{Address: account},
		log:     log.New("module", "wallet", "account", account),
		quit:    make(chan struct{}),
	}
}

func (w *Keystore) Unlock(passphrase string) error {
	if err := w.ks.Unlock(w.account, passphrase); err != nil {
		return fmt.Errorf("wallet: unlock %s: %w", w.account.Address, err)
	}
	return nil
}

func (w *Keystore) Capability(context.Context) (*Capability, error) {
	acc, err := w.ks.Find(w.account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCapability, err)
	}
	return NewCapability(acc.Address, nil, func(chainID *big.Int) (bind.SignerFn, error) {
		opts, err := bind.NewKeyStoreTransactorWithChainID(w.ks, acc, chainID)
		if err != nil {
			return nil, err
		}
		return opts.Signer, nil
	}), nil
}

// Subscribe reports the account's key file arriving and leaving as
// Connected and Disconnected.
func (w *Keystore) Subscribe(sink chan<- Event) event.Subscription {
	w.once.Do(func() {
		events := make(chan accounts.WalletEvent, 16)
		go w.watch(events, w.ks.Subscribe(events))
	})
	return w.scope.Track(w.feed.Subscribe(sink))
}

func (w *Keystore) Close() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	w.scope.Close()
}

func (w *Keystore) watch(events <-chan accounts.WalletEvent, sub event.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case ev := <-events:
			if !ev.Wallet.Contains(w.account) {
				continue
			}
			switch ev.Kind {
			case accounts.WalletArrived:
				w.log.Debug("Keystore account arrived")
				w.feed.Send(Event{Kind: Connected, Account: w.account.Address})
			case accounts.WalletDropped:
				w.log.Debug("Keystore account dropped")
				w.feed.Send(Event{Kind: Disconnected, Account: w.account.Address})
			}
		case <-sub.Err():
			return
		case <-w.quit:
			return
		}
	}
}
