package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/config"
	"WalletPlugins/internal/web3"
	"WalletPlugins/internal/web3/ethereum"
)

type dialFunc func(ctx context.Context, cfg ethereum.Config) (web3.Ledger, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.Ledger, error) {
	return ethereum.NewClient(ctx, cfg)
}

// Registry manages a set of ledgers keyed by human readable chain names.
type Registry struct {
	defaultChain string
	ledgers      map[string]web3.Ledger
	factories    map[string]common.Address
}

// NewRegistry loads chain definitions and dials one ledger per chain. key
// signs deployments on every chain and may be nil for read-only use.
func NewRegistry(ctx context.Context, cfg config.Web3Config, key *ecdsa.PrivateKey) (*Registry, error) {
	return newRegistry(ctx, cfg, key, dialEthereum)
}

func newRegistry(ctx context.Context, cfg config.Web3Config, key *ecdsa.PrivateKey, dial dialFunc) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		ledgers:   make(map[string]web3.Ledger),
		factories: make(map[string]common.Address),
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			r.Close()
			return nil, fmt.Errorf("chain %s uses unsupported type %s", name, chain.Type)
		}
		if chain.Factory != "" {
			if !common.IsHexAddress(chain.Factory) {
				r.Close()
				return nil, fmt.Errorf("chain %s factory %q is not an address", name, chain.Factory)
			}
			r.factories[name] = common.HexToAddress(chain.Factory)
		}
		ledger, err := dial(ctx, ethereum.Config{
			Name:        name,
			RPCURL:      chain.RPCURL,
			Notes:       chain.Description,
			Key:         key,
			ReceiptPoll: cfg.ReceiptPoll.Std(),
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("init chain %s: %w", name, err)
		}
		r.ledgers[name] = ledger
	}

	if len(r.ledgers) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		ledger, err := dial(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL, Key: key, ReceiptPoll: cfg.ReceiptPoll.Std()})
		if err != nil {
			return nil, err
		}
		r.ledgers["default"] = ledger
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(r.ledgers) == 0 {
		return nil, errors.New("no chain rpc endpoint configured")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := r.ledgers[defaultChain]; !ok {
		r.Close()
		return nil, fmt.Errorf("default chain %s is not configured", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// Default returns the ledger configured as default chain.
func (r *Registry) Default() (web3.Ledger, error) {
	if r == nil {
		return nil, errors.New("chain registry is not initialised")
	}
	ledger, ok := r.ledgers[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("default chain %s is not registered", r.defaultChain)
	}
	return ledger, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string { return r.defaultChain }

// Ledger returns the ledger identified by name.
func (r *Registry) Ledger(name string) (web3.Ledger, bool) {
	if r == nil {
		return nil, false
	}
	ledger, ok := r.ledgers[name]
	return ledger, ok
}

// Factory returns the chain-specific factory override, if any.
func (r *Registry) Factory(name string) (common.Address, bool) {
	if r == nil {
		return common.Address{}, false
	}
	addr, ok := r.factories[name]
	return addr, ok
}

// Close releases all ledgers managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, ledger := range r.ledgers {
		if ledger != nil {
			ledger.Close()
		}
		delete(r.ledgers, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.ledgers))
	for name := range r.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
