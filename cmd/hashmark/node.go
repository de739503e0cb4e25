package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/hashmark-protocol/hashmark/hashmark/config"
	"github.com/hashmark-protocol/hashmark/hashmark/index"
	"github.com/hashmark-protocol/hashmark/hashmark/journal"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
)

// node owns every long-lived component built from the configuration.
type node struct {
	cfg     *config.Config
	index   *index.Index
	signer  wallet.Provider
	gateway *ledger.Gateway
	journal *journal.Journal
	closers []func()
}

func openNode(cfg *config.Config) (_ *node, err error) {
	n := &node{cfg: cfg}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()
	if n.index, err = index.Open(cfg.Index); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	n.closers = append(n.closers, func() { n.index.Close() })

	if n.signer, err = openSigner(cfg.Wallet); err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithIndex(n.index)}
	if n.signer != nil {
		opts = append(opts, ledger.WithSigner(n.signer))
	}
	if n.gateway, err = ledger.New(cfg.Ledger, ledger.Dial(cfg.Ledger), opts...); err != nil {
		return nil, err
	}
	n.closers = append(n.closers, n.gateway.Close)

	if cfg.Journal.File != "" {
		if n.journal, err = journal.Open(cfg.Journal.File); err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() { n.journal.Close() })
	}
	return n, nil
}

// openSigner builds the server signer, or nil when none is configured.
func openSigner(cfg config.WalletConfig) (wallet.Provider, error) {
	switch {
	case cfg.PrivateKey != "":
		k, err := wallet.ParseKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet private key: %w", err)
		}
		log.Info("Server signing enabled", "account", k.Account())
		return k, nil
	case cfg.KeystoreDir != "":
		ks := wallet.OpenKeystore(cfg.KeystoreDir, cfg.Account, false)
		if cfg.PasswordFile != "" {
			pass, err := os.ReadFile(cfg.PasswordFile)
			if err != nil {
				ks.Close()
				return nil, fmt.Errorf("wallet password: %w", err)
			}
			if err := ks.Unlock(strings.TrimRight(string(pass), "\r\n")); err != nil {
				ks.Close()
				return nil, fmt.Errorf("wallet unlock: %w", err)
			}
		}
		log.Info("Server signing enabled", "keystore", cfg.KeystoreDir, "account", cfg.Account)
		return ks, nil
	}
	log.Info("No server signer configured, clients sign their own registrations")
	return nil, nil
}

func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	if ks, ok := n.signer.(*wallet.Keystore); ok {
		ks.Close()
	}
	n.closers = nil
}
