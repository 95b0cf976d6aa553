package deploy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/plugin"
)

// Record describes one deployed plugin instance, in the spirit of the
// deployment files hardhat-deploy writes.
type Record struct {
	Name         string         `json:"name"`
	Kind         plugin.Kind    `json:"kind"`
	Address      common.Address `json:"address"`
	BytecodeHash common.Hash    `json:"bytecode_hash"`
	Args         []byte         `json:"args"`
	TxHash       common.Hash    `json:"tx_hash"`
	ChainID      string         `json:"chain_id"`
	DeployedAt   time.Time      `json:"deployed_at"`
}

// RecordStore persists deployment records keyed by address.
type RecordStore interface {
	GetRecord(ctx context.Context, address common.Address) (Record, bool, error)
	SaveRecord(ctx context.Context, record Record) error
	ListRecords(ctx context.Context) ([]Record, error)
}

// MemoryRecordStore keeps records in process memory.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[common.Address]Record
}

// NewMemoryRecordStore constructs an empty store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[common.Address]Record)}
}

// GetRecord implements RecordStore.
func (m *MemoryRecordStore) GetRecord(_ context.Context, address common.Address) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[address]
	return r, ok, nil
}

// SaveRecord implements RecordStore.
func (m *MemoryRecordStore) SaveRecord(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Address] = record
	return nil
}

// ListRecords implements RecordStore.
func (m *MemoryRecordStore) ListRecords(context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeployedAt.Before(out[j].DeployedAt) })
	return out, nil
}
