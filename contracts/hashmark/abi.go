package hashmark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const (
	MethodAuthenticate = "authenticateVideo"
	MethodVerify       = "verifyVideo"
	EventAuthenticated = "VideoAuthenticated"
)

// NewHashmarkWithABI binds to a deployment using an ABI loaded at runtime
// instead of the one this binding was generated from.
func NewHashmarkWithABI(address common.Address, parsed abi.ABI, backend bind.ContractBackend) (*Hashmark, error) {
	if err := CheckABI(parsed); err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(address, parsed, backend, backend, backend)
	return &Hashmark{
		HashmarkCaller:     HashmarkCaller{contract: contract},
		HashmarkTransactor: HashmarkTransactor{contract: contract},
		HashmarkFilterer:   HashmarkFilterer{contract: contract},
	}, nil
}

// LoadABI reads an ABI from path. Both a bare ABI array and a compiler
// artifact carrying an "abi" field (forge out/*.json) are accepted.
func LoadABI(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("decode artifact %s: %w", path, err)
		}
		raw = artifact.ABI
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	if err := CheckABI(parsed); err != nil {
		return abi.ABI{}, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}

// CheckABI verifies that parsed exposes the registry surface this binding
// calls.
func CheckABI(parsed abi.ABI) error {
	for _, name := range []string{MethodAuthenticate, MethodVerify} {
		if _, ok := parsed.Methods[name]; !ok {
			return fmt.Errorf("abi has no method %q", name)
		}
	}
	if _, ok := parsed.Events[EventAuthenticated]; !ok {
		return fmt.Errorf("abi has no event %q", EventAuthenticated)
	}
	if out := parsed.Methods[MethodVerify].Outputs; len(out) != 2 {
		return fmt.Errorf("%s returns %d values, want 2", MethodVerify, len(out))
	}
	return nil
}
