package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	doc := "chains:\n  local:\n    rpc_url: http://127.0.0.1:8545\n    description: hardhat\n    factory: \"0x4e59b44847b379578588920cA78FbF26c0B4956C\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chain, ok := defs.Chains["local"]
	if !ok {
		t.Fatalf("expected chain local, got %+v", defs.Chains)
	}
	if chain.RPCURL != "http://127.0.0.1:8545" || chain.Description != "hardhat" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty chain map, got %+v", defs.Chains)
	}
}
