package ledger_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger/ledgertest"
	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
)

const (
	chainID = 31337
	devKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var (
	devAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	other      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	deadbeef   = fingerprint.MustParseDigest(strings.Repeat("deadbeef", 8))
)

func newGateway(t *testing.T, l *ledgertest.Ledger, opts ...ledger.Option) *ledger.Gateway {
	g, err := ledger.New(l.Config(), l.Connector(), opts...)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func devSigner(t *testing.T) *wallet.Key {
	k, err := wallet.ParseKey(devKey)
	require.NoError(t, err)
	return k
}

func TestSubmitThenRead(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l, ledger.WithSigner(devSigner(t)))

	rec, err := g.SubmitProof(ctx, deadbeef)
	require.NoError(t, err)
	assert.Equal(deadbeef, rec.Digest)
	assert.Equal(devAccount, rec.Creator)
	assert.Greater(rec.BlockNumber, uint64(0))
	assert.NotEqual(common.Hash{}, rec.TxHash)
	assert.EqualValues(ledgertest.GenesisTime+rec.BlockNumber, rec.Timestamp)
	assert.EqualValues(chainID, rec.ChainID)

	res, err := g.ReadProof(ctx, deadbeef)
	require.NoError(t, err)
	assert.True(res.Found)
	assert.Equal(deadbeef, res.Digest)
	assert.Equal(rec.Creator, res.Record.Creator)
	assert.Equal(rec.Timestamp, res.Record.Timestamp)

	_, err = g.SubmitProof(ctx, deadbeef)
	assert.ErrorIs(err, ledger.ErrDuplicateProof)
	assert.Equal(1, l.Sends())
}

func TestConcurrentSubmitOneWins(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l, ledger.WithSigner(devSigner(t)))
	d := fingerprint.Sum([]byte("race"))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 4)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.SubmitProof(ctx, d)
		}(i)
	}
	wg.Wait()

	confirmed, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			confirmed++
		case assert.ErrorIs(t, err, ledger.ErrDuplicateProof):
			duplicates++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 3, duplicates)
}

func TestRaceLostAfterBroadcast(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l)
	key := devSigner(t)
	d := fingerprint.Sum([]byte("lost race"))

	// Another client lands the same digest between gas estimation and
	// submission, so our transaction is mined but reverts.
	m := wallet.NewManual()
	m.Connect(devAccount, big.NewInt(chainID), func(id *big.Int) (bind.SignerFn, error) {
		sign, err := key.Signer()(id)
		if err != nil {
			return nil, err
		}
		return func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			l.Register(d.Hex(), other)
			return sign(from, tx)
		}, nil
	})
	c, err := m.Capability(ctx)
	require.NoError(t, err)

	tx, err := g.Broadcast(ctx, c, d)
	require.NoError(t, err)
	_, err = g.AwaitConfirmation(ctx, tx, d)
	assert.ErrorIs(t, err, ledger.ErrDuplicateProof)
}

func TestRevertedWithoutRecord(t *testing.T) {
	l := ledgertest.New(chainID)
	g := newGateway(t, l, ledger.WithSigner(devSigner(t)))
	l.FailNext()
	_, err := g.SubmitProof(context.Background(), fingerprint.Sum([]byte("x")))
	assert.ErrorIs(t, err, ledger.ErrUnclassified)
}

func TestReadAbsent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l)

	res, err := g.ReadProof(ctx, deadbeef)
	require.NoError(t, err)
	assert.False(res.Found)
	assert.Nil(res.Record)

	l.RevertOnAbsent(true)
	res, err = g.ReadProof(ctx, deadbeef)
	require.NoError(t, err)
	assert.False(res.Found)
}

func TestUnauthorized(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l)
	assert.False(t, g.ServerSigning())

	_, err := g.SubmitProof(ctx, deadbeef)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = g.Broadcast(ctx, nil, deadbeef)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	m := wallet.NewManual()
	m.Connect(devAccount, big.NewInt(1), devSigner(t).Signer())
	c, err := m.Capability(ctx)
	require.NoError(t, err)
	_, err = g.Broadcast(ctx, c, deadbeef)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.ErrorIs(t, err, wallet.ErrWrongChain)
	assert.Zero(t, l.Sends())
}

func TestSigningRejected(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l)
	m := wallet.NewManual()
	m.Connect(devAccount, big.NewInt(chainID), devSigner(t).Signer())
	m.RejectSigning(true)
	c, err := m.Capability(ctx)
	require.NoError(t, err)

	_, err = g.Broadcast(ctx, c, deadbeef)
	assert.ErrorIs(t, err, ledger.ErrSigningRejected)
	assert.Zero(t, l.Sends())
}

func TestOfflineIsNotAbsent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := ledgertest.New(chainID)
	l.SetOffline(true)
	g := newGateway(t, l)

	res, err := g.ReadProof(ctx, deadbeef)
	assert.Nil(res)
	assert.ErrorIs(err, ledger.ErrNetworkUnavailable)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.True(stats.Offline)
	assert.Zero(stats.TotalProofs)
	assert.Zero(stats.BlockNumber)
	assert.NotNil(stats.RecentProofs)
	assert.Empty(stats.RecentProofs)

	listing, err := g.Recent(ctx, 20)
	require.NoError(t, err)
	assert.True(listing.Offline)
	assert.Empty(listing.Proofs)

	_, err = g.ListRecentProofs(ctx, 5)
	assert.ErrorIs(err, ledger.ErrNetworkUnavailable)

	// Failed connection attempts are not memoized.
	before := l.Connects()
	l.SetOffline(false)
	res, err = g.ReadProof(ctx, deadbeef)
	require.NoError(t, err)
	assert.False(res.Found)
	assert.Equal(before+1, l.Connects())

	_, err = g.ReadProof(ctx, deadbeef)
	assert.NoError(err)
	assert.Equal(before+1, l.Connects())
}

func TestReadRetries(t *testing.T) {
	l := ledgertest.New(chainID)
	l.SetOffline(true)
	cfg := l.Config()
	cfg.ReadRetries = 2
	cfg.RetryBackoff = time.Millisecond
	g, err := ledger.New(cfg, l.Connector())
	require.NoError(t, err)
	defer g.Close()

	_, err = g.ReadProof(context.Background(), deadbeef)
	assert.ErrorIs(t, err, ledger.ErrNetworkUnavailable)
	assert.Equal(t, 3, l.Connects())
}

func TestConfirmationSurvivesReadBackFailure(t *testing.T) {
	ctx := context.Background()
	for name, tc := range map[string]struct {
		retries, failures int
	}{
		"retried":      {retries: 2, failures: 2},
		"from receipt": {retries: 1, failures: 100},
	} {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			l := ledgertest.New(chainID)
			cfg := l.Config()
			cfg.ReadRetries = tc.retries
			cfg.RetryBackoff = time.Millisecond
			g, err := ledger.New(cfg, l.Connector())
			require.NoError(t, err)
			defer g.Close()
			c, err := devSigner(t).Capability(ctx)
			require.NoError(t, err)

			tx, err := g.Broadcast(ctx, c, deadbeef)
			require.NoError(t, err)
			l.FailCalls(tc.failures)
			rec, err := g.AwaitConfirmation(ctx, tx, deadbeef)
			require.NoError(t, err)
			assert.Equal(deadbeef, rec.Digest)
			assert.Equal(devAccount, rec.Creator)
			assert.Equal(tx.Hash(), rec.TxHash)
			assert.Greater(rec.BlockNumber, uint64(0))
			assert.EqualValues(ledgertest.GenesisTime+rec.BlockNumber, rec.Timestamp)
			assert.EqualValues(chainID, rec.ChainID)

			l.FailCalls(0)
			res, err := g.ReadProof(ctx, deadbeef)
			require.NoError(t, err)
			assert.True(res.Found)
		})
	}
}

func TestBroadcastCutOffReturnsSignedTx(t *testing.T) {
	assert := assert.New(t)
	l := ledgertest.New(chainID)
	g := newGateway(t, l)
	c, err := devSigner(t).Capability(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.AfterSend(cancel)
	tx, err := g.Broadcast(ctx, c, deadbeef)
	assert.Error(err)
	require.NotNil(t, tx)
	assert.Equal(1, l.Sends())

	l.AfterSend(nil)
	rec, err := g.AwaitConfirmation(context.Background(), tx, deadbeef)
	require.NoError(t, err)
	assert.Equal(tx.Hash(), rec.TxHash)
}

func TestListRecent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l, ledger.WithSigner(devSigner(t)))

	var submitted []fingerprint.Digest
	for i := 0; i < 7; i++ {
		d := fingerprint.Sum([]byte{byte(i)})
		_, err := g.SubmitProof(ctx, d)
		require.NoError(t, err)
		submitted = append(submitted, d)
		l.Mine(i)
	}
	foreign := fingerprint.Sum([]byte("foreign"))
	l.Register(foreign.Hex(), other)
	l.Register("not a digest", other)
	l.Register(strings.ToUpper(deadbeef.Hex()), other)

	seq, err := g.ListRecentProofs(ctx, 3)
	require.NoError(t, err)
	defer seq.Close()
	var got []fingerprint.Digest
	last := uint64(1 << 62)
	for seq.Next() {
		rec := seq.Record()
		assert.LessOrEqual(rec.BlockNumber, last)
		last = rec.BlockNumber
		assert.True(rec.HasInclusion())
		got = append(got, rec.Digest)
	}
	assert.NoError(seq.Err())
	assert.Equal([]fingerprint.Digest{foreign, submitted[6], submitted[5]}, got)

	seq.Reset()
	n := 0
	for seq.Next() {
		n++
	}
	assert.Equal(3, n)

	all, err := g.ListRecentProofs(ctx, 5000)
	require.NoError(t, err)
	defer all.Close()
	n = 0
	for all.Next() {
		n++
	}
	assert.Equal(8, n)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.False(stats.Offline)
	assert.EqualValues(8, stats.TotalProofs)
	assert.Len(stats.RecentProofs, 5)
	head, _ := l.BlockNumber(ctx)
	assert.Equal(head, stats.BlockNumber)

	listing, err := g.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(listing.Proofs, 1)
	assert.EqualValues(8, listing.Total)
}

func TestReadEnrichedFromIndex(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l)
	d := fingerprint.Sum([]byte("elsewhere"))
	txHash := l.Register(d.Hex(), other)

	res, err := g.ReadProof(ctx, d)
	require.NoError(t, err)
	assert.True(res.Found)
	assert.Equal(other, res.Record.Creator)
	assert.False(res.Record.HasInclusion())

	_, err = g.Stats(ctx)
	require.NoError(t, err)
	res, err = g.ReadProof(ctx, d)
	require.NoError(t, err)
	assert.Equal(txHash, res.Record.TxHash)
	assert.EqualValues(1, res.Record.BlockNumber)
}

func TestLocateProof(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := ledgertest.New(chainID)
	g := newGateway(t, l)
	d := fingerprint.Sum([]byte("located"))
	l.Mine(3)
	txHash := l.Register(d.Hex(), other)

	res, err := g.LocateProof(ctx, d)
	require.NoError(t, err)
	assert.True(res.Found)
	assert.True(res.Record.HasInclusion())
	assert.Equal(txHash, res.Record.TxHash)
	assert.EqualValues(4, res.Record.BlockNumber)

	res, err = g.LocateProof(ctx, deadbeef)
	require.NoError(t, err)
	assert.False(res.Found)
}

func TestFund(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New(chainID)
	cfg := l.Config()
	cfg.Faucet = false
	off, err := ledger.New(cfg, l.Connector())
	require.NoError(t, err)
	defer off.Close()
	assert.ErrorIs(t, off.Fund(ctx, other), ledger.ErrFaucetDisabled)

	g := newGateway(t, l)
	require.NoError(t, g.Fund(ctx, other))
	assert.Equal(t, ledger.FaucetAmount, l.Balance(other))
}

func TestInfo(t *testing.T) {
	l := ledgertest.New(chainID)
	info := newGateway(t, l, ledger.WithSigner(devSigner(t))).Info(context.Background())
	assert.True(t, info.ServerSigning)
	require.NotNil(t, info.ServerWallet)
	assert.Equal(t, devAccount, *info.ServerWallet)
	assert.Equal(t, l.Address(), info.ContractAddress)

	info = newGateway(t, l).Info(context.Background())
	assert.False(t, info.ServerSigning)
	assert.Nil(t, info.ServerWallet)
}

func TestDialUnreachable(t *testing.T) {
	cfg := ledger.Config{RPCURL: "http://127.0.0.1:1", ContractAddress: ledgertest.DefaultAddress}
	g, err := ledger.New(cfg, ledger.Dial(cfg))
	require.NoError(t, err)
	defer g.Close()
	_, err = g.ReadProof(context.Background(), deadbeef)
	assert.ErrorIs(t, err, ledger.ErrNetworkUnavailable)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ledger.ClampLimit(-3))
	assert.Equal(t, 20, ledger.ClampLimit(20))
	assert.Equal(t, ledger.MaxRecent, ledger.ClampLimit(101))
}
