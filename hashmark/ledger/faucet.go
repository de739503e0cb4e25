package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
)

// FaucetAmount is what Fund sets an account's balance to.
var FaucetAmount = new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether))

// Fund sets the balance of addr on a development node. Only anvil and
// nodes exposing anvil_setBalance support it.
func (g *Gateway) Fund(ctx context.Context, addr common.Address) error {
	if !g.cfg.Faucet {
		return ErrFaucetDisabled
	}
	b, _, err := g.handle(ctx)
	if err != nil {
		return err
	}
	if b.RPC == nil {
		return newError(ErrUnclassified, "fund", errors.New("backend has no rpc client"))
	}
	if err := b.RPC.CallContext(ctx, nil, "anvil_setBalance", addr, (*hexutil.Big)(FaucetAmount)); err != nil {
		err = Classify("fund", err)
		g.log.Warn("Faucet request failed", "address", addr, "err", err)
		return err
	}
	countCall("fund")
	g.log.Info("Funded account", "address", addr, "amount", FaucetAmount)
	return nil
}
