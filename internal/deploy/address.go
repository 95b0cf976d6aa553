// Package deploy computes deterministic plugin addresses, deploys each plugin
// at most once per address and installs the results into the registry.
package deploy

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultFactory is the deterministic deployment proxy that hardhat-deploy
// uses for deterministicDeployment.
var DefaultFactory = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// InitCode is the creation bytecode followed by the encoded constructor args.
func InitCode(bytecode, args []byte) []byte {
	code := make([]byte, 0, len(bytecode)+len(args))
	code = append(code, bytecode...)
	return append(code, args...)
}

// ComputeAddress returns CREATE2(factory, salt, keccak256(bytecode||args)).
// The result depends only on its inputs, never on deployment order or network
// state.
func ComputeAddress(factory common.Address, salt [32]byte, bytecode, args []byte) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(InitCode(bytecode, args)))
}

// ParseSalt decodes a 0x-prefixed hex salt of at most 32 bytes, left padded.
// An empty string is the zero salt.
func ParseSalt(raw string) ([32]byte, error) {
	var salt [32]byte
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return salt, nil
	}
	b := common.FromHex(raw)
	if len(b) > 32 {
		return salt, fmt.Errorf("salt %q is longer than 32 bytes", raw)
	}
	copy(salt[32-len(b):], b)
	return salt, nil
}
