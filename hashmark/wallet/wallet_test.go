package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// First anvil development account.
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func sampleTx() *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &devAccount, Value: big.NewInt(0)})
}

func TestKeySigns(t *testing.T) {
	assert := assert.New(t)
	k, err := ParseKey(devKey)
	require.NoError(t, err)
	assert.Equal(devAccount, k.Account())

	c, err := k.Capability(context.Background())
	require.NoError(t, err)
	assert.True(c.On(big.NewInt(31337)))
	assert.True(c.On(big.NewInt(1)))

	chainID := big.NewInt(31337)
	opts, err := c.TransactOpts(context.Background(), chainID)
	require.NoError(t, err)
	assert.Equal(devAccount, opts.From)

	signed, err := opts.Signer(devAccount, sampleTx())
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	assert.NoError(err)
	assert.Equal(devAccount, from)

	_, err = ParseKey("0xnothex")
	assert.Error(err)
}

func TestManualLifecycle(t *testing.T) {
	assert := assert.New(t)
	key, err := ParseKey(devKey)
	require.NoError(t, err)
	m := NewManual()

	events := make(chan Event, 8)
	sub := m.Subscribe(events)
	defer sub.Unsubscribe()

	_, err = m.Capability(context.Background())
	assert.ErrorIs(err, ErrNoCapability)

	require.NoError(t, m.Connect(devAccount, big.NewInt(1), key.Signer()))
	assert.Equal(Connected, (<-events).Kind)
	c, err := m.Capability(context.Background())
	require.NoError(t, err)
	assert.False(c.On(big.NewInt(31337)))
	_, err = c.TransactOpts(context.Background(), big.NewInt(31337))
	assert.ErrorIs(err, ErrWrongChain)

	require.NoError(t, m.SwitchChain(big.NewInt(31337)))
	ev := <-events
	assert.Equal(ChainChanged, ev.Kind)
	assert.EqualValues(31337, ev.ChainID.Int64())
	c, err = m.Capability(context.Background())
	require.NoError(t, err)
	opts, err := c.TransactOpts(context.Background(), big.NewInt(31337))
	require.NoError(t, err)

	m.RejectSigning(true)
	_, err = opts.Signer(devAccount, sampleTx())
	assert.True(errors.Is(err, ErrRejected))
	m.RejectSigning(false)
	_, err = opts.Signer(devAccount, sampleTx())
	assert.NoError(err)

	m.Disconnect()
	assert.Equal(Disconnected, (<-events).Kind)
	_, err = m.Capability(context.Background())
	assert.ErrorIs(err, ErrNoCapability)
	assert.Equal("chainChanged", ChainChanged.String())
}

func TestManualRejectsMissingChain(t *testing.T) {
	assert := assert.New(t)
	key, err := ParseKey(devKey)
	require.NoError(t, err)
	m := NewManual()

	assert.ErrorIs(m.Connect(devAccount, nil, key.Signer()), ErrNoChain)
	_, err = m.Capability(context.Background())
	assert.ErrorIs(err, ErrNoCapability)

	require.NoError(t, m.Connect(devAccount, big.NewInt(1), key.Signer()))
	assert.NotPanics(func() { assert.ErrorIs(m.SwitchChain(nil), ErrNoChain) })
	c, err := m.Capability(context.Background())
	require.NoError(t, err)
	assert.True(c.On(big.NewInt(1)))
}

func TestKeystore(t *testing.T) {
	assert := assert.New(t)
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	key, err := crypto.HexToECDSA(devKey[2:])
	require.NoError(t, err)

	w := NewKeystore(ks, devAccount)
	defer w.Close()
	events := make(chan Event, 4)
	sub := w.Subscribe(events)
	defer sub.Unsubscribe()

	_, err = w.Capability(context.Background())
	assert.ErrorIs(err, ErrNoCapability)

	_, err = ks.ImportECDSA(key, "pass")
	require.NoError(t, err)
	select {
	case ev := <-events:
		assert.Equal(Connected, ev.Kind)
		assert.Equal(devAccount, ev.Account)
	case <-time.After(5 * time.Second):
		t.Fatal("no connected event")
	}

	c, err := w.Capability(context.Background())
	require.NoError(t, err)
	opts, err := c.TransactOpts(context.Background(), big.NewInt(31337))
	require.NoError(t, err)
	_, err = opts.Signer(devAccount, sampleTx())
	assert.ErrorIs(err, keystore.ErrLocked)

	assert.Error(w.Unlock("wrong"))
	require.NoError(t, w.Unlock("pass"))
	_, err = opts.Signer(devAccount, sampleTx())
	assert.NoError(err)
}
