package params

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkNames(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Ethereum Mainnet", NetworkName(1))
	assert.Equal("Sepolia Testnet", NetworkName(11155111))
	assert.Equal("Hardhat Local", NetworkName(31337))
	assert.Equal("Hardhat Local", NetworkName(1337))
	assert.True(NetworkByID(31337).Local)
	assert.False(NetworkByID(137).Local)
	assert.Equal("Chain 42161", NetworkName(42161))
	assert.Equal("Mumbai Testnet", NetworkByBigID(big.NewInt(80001)).Name)
	assert.Equal("Unknown", NetworkByBigID(nil).Name)
}
