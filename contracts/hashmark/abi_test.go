package hashmark

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedABI(t *testing.T) {
	parsed, err := HashmarkMetaData.GetAbi()
	require.NoError(t, err)
	assert.NoError(t, CheckABI(*parsed))

	ev := parsed.Events[EventAuthenticated]
	require.Len(t, ev.Inputs, 3)
	assert.False(t, ev.Inputs[0].Indexed)
	assert.True(t, ev.Inputs[1].Indexed)
	assert.Equal(t, "VideoAuthenticated(string,address,uint256)", ev.Sig)
}

func TestLoadABI(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	bare := filepath.Join(dir, "Hashmark.json")
	require.NoError(t, os.WriteFile(bare, []byte(HashmarkMetaData.ABI), 0o600))
	parsed, err := LoadABI(bare)
	assert.NoError(err)
	assert.Contains(parsed.Methods, MethodVerify)

	artifact := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"abi":`+HashmarkMetaData.ABI+`,"bytecode":{"object":"0x"}}`), 0o600))
	parsed, err = LoadABI(artifact)
	assert.NoError(err)
	assert.Contains(parsed.Events, EventAuthenticated)

	partial := filepath.Join(dir, "partial.json")
	onlyVerify := HashmarkMetaData.ABI[:strings.Index(HashmarkMetaData.ABI, `{"inputs":[{"internalType":"string","name":"videoHash","type":"string"}],"name":"verifyVideo"`)]
	require.NoError(t, os.WriteFile(partial, []byte(strings.TrimSuffix(onlyVerify, ",")+"]"), 0o600))
	_, err = LoadABI(partial)
	assert.ErrorContains(err, "verifyVideo")

	_, err = LoadABI(filepath.Join(dir, "missing.json"))
	assert.Error(err)
}

func TestOverrideABIUnindexedCreator(t *testing.T) {
	assert := assert.New(t)
	const indexed = `"indexed":true,"internalType":"address","name":"creator"`
	require.Contains(t, HashmarkMetaData.ABI, indexed)
	override := strings.Replace(HashmarkMetaData.ABI, indexed, `"indexed":false,"internalType":"address","name":"creator"`, 1)
	path := filepath.Join(t.TempDir(), "Hashmark.json")
	require.NoError(t, os.WriteFile(path, []byte(override), 0o600))

	parsed, err := LoadABI(path)
	require.NoError(t, err)
	ev := parsed.Events[EventAuthenticated]
	assert.False(ev.Inputs[1].Indexed)

	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	contract, err := NewHashmarkWithABI(addr, parsed, nil)
	require.NoError(t, err)

	creator := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	data, err := ev.Inputs.Pack("deadbeef", creator, big.NewInt(1700000000))
	require.NoError(t, err)
	got, err := contract.ParseVideoAuthenticated(types.Log{
		Address: addr,
		Topics:  []common.Hash{ev.ID},
		Data:    data,
	})
	require.NoError(t, err)
	assert.Equal("deadbeef", got.VideoHash)
	assert.Equal(creator, got.Creator)
	assert.EqualValues(1700000000, got.Timestamp.Int64())

	// The compiled-in binding expects creator as a topic.
	generated, err := NewHashmark(addr, nil)
	require.NoError(t, err)
	_, err = generated.ParseVideoAuthenticated(types.Log{Address: addr, Topics: []common.Hash{ev.ID}, Data: data})
	assert.Error(err)
}
