// Package ledgertest provides an in-memory registry node for tests. It speaks
// the contract ABI at the calldata level, so the generated binding, the gas
// estimation path and log decoding all run for real. Every transaction is
// mined into its own block immediately; the first registration of a digest
// wins.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/hashmark-protocol/hashmark/contracts/hashmark"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
)

// GenesisTime is the timestamp of block 0. Block n is mined at GenesisTime+n.
const GenesisTime = 1700000000

var (
	DefaultAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	registryCode   = []byte{0x60, 0x80, 0x60, 0x40, 0x52}
)

type record struct {
	creator common.Address
	time    uint64
	block   uint64
}

type Ledger struct {
	address common.Address
	chainID *big.Int
	abi     abi.ABI

	mu       sync.Mutex
	head     uint64
	records  map[string]record
	receipts map[common.Hash]*types.Receipt
	held     map[common.Hash]*types.Receipt
	logs     []types.Log
	nonces   map[common.Address]uint64
	balances map[common.Address]*big.Int

	offline        bool
	failNext       bool
	hold           bool
	revertOnAbsent bool
	failCalls      int
	afterSend      func()
	connects       int
	sends          int

	rpcOnce sync.Once
	rpc     *rpc.Client
}

func New(chainID int64) *Ledger {
	parsed, err := hashmark.HashmarkMetaData.GetAbi()
	if err != nil {
		panic(err)
	}
	return &Ledger{
		address:  DefaultAddress,
		chainID:  big.NewInt(chainID),
		abi:      *parsed,
		records:  make(map[string]record),
		receipts: make(map[common.Hash]*types.Receipt),
		held:     make(map[common.Hash]*types.Receipt),
		nonces:   make(map[common.Address]uint64),
		balances: make(map[common.Address]*big.Int),
	}
}

func (l *Ledger) Address() common.Address {
	return l.address
}

// Config is a gateway configuration pointing at l.
func (l *Ledger) Config() ledger.Config {
	return ledger.Config{RPCURL: "inproc", ContractAddress: l.address, Faucet: true}
}

// Connector binds the real registry binding to l. It refuses connections
// while l is offline.
func (l *Ledger) Connector() ledger.Connector {
	return func(ctx context.Context) (*ledger.Backend, error) {
		l.mu.Lock()
		l.connects++
		offline := l.offline
		l.mu.Unlock()
		if offline {
			return nil, refused()
		}
		b, err := ledger.Bind(l.Config(), l)
		if err != nil {
			return nil, err
		}
		b.RPC = l.client()
		return b, nil
	}
}

// SetOffline makes every call fail with a refused connection.
func (l *Ledger) SetOffline(offline bool) {
	l.mu.Lock()
	l.offline = offline
	l.mu.Unlock()
}

// FailNext makes the next mined transaction revert on execution.
func (l *Ledger) FailNext() {
	l.mu.Lock()
	l.failNext = true
	l.mu.Unlock()
}

// FailCalls makes the next n contract calls fail with a refused
// connection while the rest of the node keeps working.
func (l *Ledger) FailCalls(n int) {
	l.mu.Lock()
	l.failCalls = n
	l.mu.Unlock()
}

// AfterSend runs fn each time a transaction has been accepted and mined.
// SendTransaction then reports the error of its context, as a client whose
// request was cut off after delivery would.
func (l *Ledger) AfterSend(fn func()) {
	l.mu.Lock()
	l.afterSend = fn
	l.mu.Unlock()
}

// HoldReceipts keeps receipts of newly mined transactions hidden until
// Release.
func (l *Ledger) HoldReceipts(hold bool) {
	l.mu.Lock()
	l.hold = hold
	l.mu.Unlock()
}

func (l *Ledger) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, r := range l.held {
		l.receipts[h] = r
		delete(l.held, h)
	}
}

// RevertOnAbsent makes verifyVideo revert with "Not authenticated" for
// unknown digests instead of returning zero values.
func (l *Ledger) RevertOnAbsent(revert bool) {
	l.mu.Lock()
	l.revertOnAbsent = revert
	l.mu.Unlock()
}

// Register records a registration made outside the gateway, as another
// client of the same registry would.
func (l *Ledger) Register(videoHash string, creator common.Address) common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	txHash := crypto.Keccak256Hash([]byte(videoHash), creator.Bytes(), big.NewInt(int64(l.head)).Bytes())
	l.mine(txHash, videoHash, creator, false)
	return txHash
}

// Mine advances the chain by n empty blocks.
func (l *Ledger) Mine(n int) {
	l.mu.Lock()
	l.head += uint64(n)
	l.mu.Unlock()
}

func (l *Ledger) Connects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// mine includes a registration in a new block. Callers hold l.mu.
func (l *Ledger) mine(txHash common.Hash, videoHash string, from common.Address, fail bool) *types.Receipt {
	l.head++
	receipt := &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 50000,
		GasUsed:           50000,
		TxHash:            txHash,
		BlockHash:         blockHash(l.head),
		BlockNumber:       new(big.Int).SetUint64(l.head),
	}
	if _, dup := l.records[videoHash]; dup || fail {
		receipt.Status = types.ReceiptStatusFailed
		return receipt
	}
	now := GenesisTime + l.head
	l.records[videoHash] = record{creator: from, time: now, block: l.head}
	log, err := l.makeLog(videoHash, from, now)
	if err != nil {
		panic(err)
	}
	log.BlockNumber, log.TxHash, log.BlockHash = l.head, txHash, receipt.BlockHash
	l.logs = append(l.logs, *log)
	receipt.Logs = []*types.Log{log}
	return receipt
}

// makeLog builds a VideoAuthenticated log: signature and indexed creator as
// topics, the rest ABI-packed as data.
func (l *Ledger) makeLog(videoHash string, creator common.Address, ts uint64) (*types.Log, error) {
	ev := l.abi.Events[hashmark.EventAuthenticated]
	data, err := ev.Inputs.NonIndexed().Pack(videoHash, new(big.Int).SetUint64(ts))
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: l.address,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(creator.Bytes())},
		Data:    data,
	}, nil
}

func (l *Ledger) client() *rpc.Client {
	l.rpcOnce.Do(func() {
		srv := rpc.NewServer()
		if err := srv.RegisterName("anvil", &anvilAPI{l}); err != nil {
			panic(err)
		}
		l.rpc = rpc.DialInProc(srv)
	})
	return l.rpc
}

type anvilAPI struct {
	l *Ledger
}

// SetBalance serves anvil_setBalance.
func (api *anvilAPI) SetBalance(addr common.Address, amount *hexutil.Big) error {
	api.l.mu.Lock()
	defer api.l.mu.Unlock()
	if api.l.offline {
		return refused()
	}
	api.l.balances[addr] = new(big.Int).Set((*big.Int)(amount))
	return nil
}

func blockHash(n uint64) common.Hash {
	return crypto.Keccak256Hash(new(big.Int).SetUint64(n).Bytes())
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

// revertError mimics the error a node returns for a reverted call, with
// Error(string) revert data attached.
type revertError struct {
	reason string
}

func (e *revertError) Error() string  { return "execution reverted: " + e.reason }
func (e *revertError) ErrorCode() int { return 3 }

func (e *revertError) ErrorData() interface{} {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(e.reason)
	if err != nil {
		panic(err)
	}
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func (l *Ledger) decode(data []byte) (*abi.Method, string, error) {
	if len(data) < 4 {
		return nil, "", errors.New("calldata too short")
	}
	method, err := l.abi.MethodById(data[:4])
	if err != nil {
		return nil, "", err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, "", err
	}
	videoHash, ok := args[0].(string)
	if !ok {
		return nil, "", fmt.Errorf("%s: unexpected argument %T", method.Name, args[0])
	}
	return method, videoHash, nil
}

var _ ledger.ContractChain = (*Ledger)(nil)

var errNotSupported = errors.New("ledgertest: not supported")

func (l *Ledger) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, refused()
	}
	if account == l.address {
		return registryCode, nil
	}
	return nil, nil
}

func (l *Ledger) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return l.CodeAt(ctx, account, nil)
}

func (l *Ledger) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, refused()
	}
	if l.failCalls > 0 {
		l.failCalls--
		return nil, refused()
	}
	method, videoHash, err := l.decode(call.Data)
	if err != nil {
		return nil, err
	}
	if method.Name != hashmark.MethodVerify {
		return nil, fmt.Errorf("ledgertest: unexpected call to %s", method.Name)
	}
	rec, ok := l.records[videoHash]
	if ok && blockNumber != nil && rec.block > blockNumber.Uint64() {
		ok = false
	}
	if !ok {
		if l.revertOnAbsent {
			return nil, &revertError{reason: "Not authenticated"}
		}
		return method.Outputs.Pack(common.Address{}, new(big.Int))
	}
	return method.Outputs.Pack(rec.creator, new(big.Int).SetUint64(rec.time))
}

func (l *Ledger) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, refused()
	}
	n := l.head
	if number != nil {
		n = number.Uint64()
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: GenesisTime + n, GasLimit: 30000000}, nil
}

func (l *Ledger) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return 0, refused()
	}
	return l.nonces[account], nil
}

func (l *Ledger) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

func (l *Ledger) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

func (l *Ledger) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return 0, refused()
	}
	method, videoHash, err := l.decode(call.Data)
	if err != nil {
		return 0, err
	}
	if method.Name == hashmark.MethodAuthenticate {
		if _, dup := l.records[videoHash]; dup {
			return 0, &revertError{reason: "Already authenticated"}
		}
	}
	return 50000, nil
}

func (l *Ledger) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := l.send(tx); err != nil {
		return err
	}
	l.mu.Lock()
	after := l.afterSend
	l.mu.Unlock()
	if after == nil {
		return nil
	}
	after()
	return ctx.Err()
}

func (l *Ledger) send(tx *types.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return refused()
	}
	from, err := types.Sender(types.LatestSignerForChainID(l.chainID), tx)
	if err != nil {
		return err
	}
	if tx.To() == nil || *tx.To() != l.address {
		return errors.New("ledgertest: transaction not addressed to the registry")
	}
	if want := l.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from, tx.Nonce(), want)
	}
	method, videoHash, err := l.decode(tx.Data())
	if err != nil {
		return err
	}
	if method.Name != hashmark.MethodAuthenticate {
		return fmt.Errorf("ledgertest: unexpected transaction to %s", method.Name)
	}
	l.nonces[from]++
	l.sends++
	fail := l.failNext
	l.failNext = false
	receipt := l.mine(tx.Hash(), videoHash, from, fail)
	if l.hold {
		l.held[tx.Hash()] = receipt
	} else {
		l.receipts[tx.Hash()] = receipt
	}
	return nil
}

func (l *Ledger) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, refused()
	}
	r, ok := l.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (l *Ledger) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, refused()
	}
	from, to := uint64(0), l.head
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}
	var out []types.Log
	for _, log := range l.logs {
		if log.BlockNumber < from || log.BlockNumber > to || !matches(log, q) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func matches(log types.Log, q ethereum.FilterQuery) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			found = found || a == log.Address
		}
		if !found {
			return false
		}
	}
	for i, set := range q.Topics {
		if len(set) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		found := false
		for _, t := range set {
			found = found || t == log.Topics[i]
		}
		if !found {
			return false
		}
	}
	return true
}

func (l *Ledger) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errNotSupported
}

func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return 0, refused()
	}
	return l.head, nil
}

func (l *Ledger) ChainID(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return nil, refused()
	}
	return new(big.Int).Set(l.chainID), nil
}
