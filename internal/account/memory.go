package account

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/wallet"
)

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[common.Address]*wallet.Account
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[common.Address]*wallet.Account)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, address common.Address) (*wallet.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[address]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "account %s not found", address.Hex())
	}
	return acc.Clone(), nil
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, acc *wallet.Account) (bool, error) {
	if acc == nil || acc.Address == (common.Address{}) {
		return false, xerrors.New(xerrors.CodeInvalidInput, "account address is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[acc.Address]; exists {
		return false, nil
	}
	m.accounts[acc.Address] = acc.Clone()
	return true, nil
}

// Commit implements Store.
func (m *MemoryStore) Commit(_ context.Context, acc *wallet.Account, expectedNonce uint64) error {
	if acc == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "account is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.accounts[acc.Address]
	if !ok {
		return xerrors.Newf(xerrors.CodeNotFound, "account %s not found", acc.Address.Hex())
	}
	if current.Nonce != expectedNonce {
		return xerrors.Newf(xerrors.CodeReplayOrStale, "account %s moved to nonce %d", acc.Address.Hex(), current.Nonce)
	}
	m.accounts[acc.Address] = acc.Clone()
	return nil
}
