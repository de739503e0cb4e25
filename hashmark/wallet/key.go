package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// Key signs with a raw private key held in memory. It is always connected
// and signs for any chain.
type Key struct {
	key     *ecdsa.PrivateKey
	account common.Address
	feed    event.Feed
}

func NewKey(key *ecdsa.PrivateKey) *Key {
	return &Key{key: key, account: crypto.PubkeyToAddress(key.PublicKey)}
}

// ParseKey accepts a hex private key with or without the 0x prefix.
func ParseKey(hexkey string) (*Key, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexkey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("wallet: parse private key: %w", err)
	}
	return NewKey(key), nil
}

func (k *Key) Account() common.Address {
	return k.account
}

func (k *Key) Capability(context.Context) (*Capability, error) {
	return NewCapability(k.account, nil, k.Signer()), nil
}

// Signer returns a factory of chain-bound signers for k.
func (k *Key) Signer() SignerFactory {
	return func(chainID *big.Int) (bind.SignerFn, error) {
		opts, err := bind.NewKeyedTransactorWithChainID(k.key, chainID)
		if err != nil {
			return nil, err
		}
		return opts.Signer, nil
	}
}

func (k *Key) Subscribe(sink chan<- Event) event.Subscription {
	return k.feed.Subscribe(sink)
}
