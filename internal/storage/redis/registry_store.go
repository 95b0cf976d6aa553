package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"WalletPlugins/internal/deploy"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
)

// RegistryStore keeps registry entries and deployment records in two Redis
// hashes.
type RegistryStore struct {
	client     *redis.Client
	entriesKey string
	recordsKey string
}

var (
	_ plugin.EntryStore  = (*RegistryStore)(nil)
	_ deploy.RecordStore = (*RegistryStore)(nil)
)

// NewRegistryStore shares client with the account store.
func NewRegistryStore(client *redis.Client, prefix string) *RegistryStore {
	if prefix == "" {
		prefix = "walletplugins:"
	}
	return &RegistryStore{
		client:     client,
		entriesKey: prefix + "entries",
		recordsKey: prefix + "deployments",
	}
}

func entryField(entry plugin.Entry) string {
	return strings.ToLower(entry.Account.Hex()) + "|" + string(entry.Kind)
}

// SaveEntry implements plugin.EntryStore.
func (s *RegistryStore) SaveEntry(ctx context.Context, entry plugin.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode registry entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.entriesKey, entryField(entry), raw).Err(); err != nil {
		return fmt.Errorf("save registry entry: %w", err)
	}
	return nil
}

// ListEntries implements plugin.EntryStore.
func (s *RegistryStore) ListEntries(ctx context.Context) ([]plugin.Entry, error) {
	values, err := s.client.HGetAll(ctx, s.entriesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	out := make([]plugin.Entry, 0, len(values))
	for _, field := range fields {
		var entry plugin.Entry
		if err := json.Unmarshal([]byte(values[field]), &entry); err != nil {
			return nil, fmt.Errorf("decode registry entry %s: %w", field, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetRecord implements deploy.RecordStore.
func (s *RegistryStore) GetRecord(ctx context.Context, address common.Address) (deploy.Record, bool, error) {
	raw, err := s.client.HGet(ctx, s.recordsKey, strings.ToLower(address.Hex())).Bytes()
	if errors.Is(err, redis.Nil) {
		return deploy.Record{}, false, nil
	}
	if err != nil {
		return deploy.Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load deployment record")
	}
	var record deploy.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return deploy.Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode deployment record")
	}
	return record, true, nil
}

// SaveRecord implements deploy.RecordStore.
func (s *RegistryStore) SaveRecord(ctx context.Context, record deploy.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode deployment record: %w", err)
	}
	if err := s.client.HSet(ctx, s.recordsKey, strings.ToLower(record.Address.Hex()), raw).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save deployment record")
	}
	return nil
}

// ListRecords implements deploy.RecordStore.
func (s *RegistryStore) ListRecords(ctx context.Context) ([]deploy.Record, error) {
	values, err := s.client.HGetAll(ctx, s.recordsKey).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list deployment records")
	}
	out := make([]deploy.Record, 0, len(values))
	for field, raw := range values {
		var record deploy.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode deployment record %s: %w", field, err)
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
