package params

import (
	"fmt"
	"math/big"
)

// Network describes a chain the registry may be deployed on.
type Network struct {
	ChainID uint64 `json:"chainId"`
	Name    string `json:"name"`
	// Local chains are development nodes where the faucet makes sense.
	Local bool `json:"local,omitempty"`
}

var (
	Mainnet  = &Network{ChainID: 1, Name: "Ethereum Mainnet"}
	Goerli   = &Network{ChainID: 5, Name: "Goerli Testnet"}
	Sepolia  = &Network{ChainID: 11155111, Name: "Sepolia Testnet"}
	Polygon  = &Network{ChainID: 137, Name: "Polygon Mainnet"}
	Mumbai   = &Network{ChainID: 80001, Name: "Mumbai Testnet"}
	Local    = &Network{ChainID: 1337, Name: "Hardhat Local", Local: true}
	Hardhat  = &Network{ChainID: 31337, Name: "Hardhat Local", Local: true}
	networks = map[uint64]*Network{}
)

func init() {
	for _, n := range []*Network{Mainnet, Goerli, Sepolia, Polygon, Mumbai, Local, Hardhat} {
		networks[n.ChainID] = n
	}
}

// NetworkByID returns the known network for chainID, or an unnamed one.
func NetworkByID(chainID uint64) *Network {
	if n, ok := networks[chainID]; ok {
		return n
	}
	return &Network{ChainID: chainID, Name: fmt.Sprintf("Chain %d", chainID)}
}

func NetworkName(chainID uint64) string {
	return NetworkByID(chainID).Name
}

func NetworkByBigID(chainID *big.Int) *Network {
	if chainID == nil || !chainID.IsUint64() {
		return &Network{Name: "Unknown"}
	}
	return NetworkByID(chainID.Uint64())
}
