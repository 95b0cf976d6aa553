package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/plugin"
)

// EntryStore implements plugin.EntryStore.
type EntryStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ plugin.EntryStore = (*EntryStore)(nil)

// NewEntryStore wraps an open database.
func NewEntryStore(db *sql.DB) *EntryStore {
	return &EntryStore{db: db, now: time.Now}
}

// SaveEntry upserts the (account, kind, address) row.
func (s *EntryStore) SaveEntry(ctx context.Context, entry plugin.Entry) error {
	const stmt = `INSERT INTO plugin_entries
        (account, kind, address, enabled, permissive, installed_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE enabled = VALUES(enabled), permissive = VALUES(permissive), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		addressKey(entry.Account),
		string(entry.Kind),
		addressKey(entry.Address),
		entry.Enabled,
		entry.Permissive,
		entry.InstalledAt.Unix(),
		s.now().Unix(),
	); err != nil {
		return fmt.Errorf("save plugin entry: %w", err)
	}
	return nil
}

// ListEntries returns every entry, oldest installation first.
func (s *EntryStore) ListEntries(ctx context.Context) ([]plugin.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, kind, address, enabled, permissive, installed_at
        FROM plugin_entries ORDER BY installed_at ASC, updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query plugin entries: %w", err)
	}
	defer rows.Close()

	var entries []plugin.Entry
	for rows.Next() {
		var (
			acc, kind, addr     string
			enabled, permissive bool
			installedAt         int64
		)
		if err := rows.Scan(&acc, &kind, &addr, &enabled, &permissive, &installedAt); err != nil {
			return nil, fmt.Errorf("scan plugin entry: %w", err)
		}
		entries = append(entries, plugin.Entry{
			Account:     common.HexToAddress(acc),
			Kind:        plugin.Kind(kind),
			Address:     common.HexToAddress(addr),
			Enabled:     enabled,
			Permissive:  permissive,
			InstalledAt: time.Unix(installedAt, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugin entries: %w", err)
	}
	return entries, nil
}
