package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/wallet"
)

// AccountStore implements account.Store. The nonce column doubles as the
// optimistic lock for Commit.
type AccountStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ account.Store = (*AccountStore)(nil)

// NewAccountStore wraps an open database.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

func addressKey(address common.Address) string {
	return strings.ToLower(address.Hex())
}

// Load implements account.Store.
func (s *AccountStore) Load(ctx context.Context, address common.Address) (*wallet.Account, error) {
	const query = `SELECT nonce, halted, state FROM wallet_accounts WHERE address = ?`
	var (
		nonce  uint64
		halted bool
		state  []byte
	)
	err := s.db.QueryRowContext(ctx, query, addressKey(address)).Scan(&nonce, &halted, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "account %s not found", address.Hex())
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load account")
	}
	acc, err := account.Decode(state)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load account")
	}
	acc.Address = address
	acc.Nonce = nonce
	acc.Halted = halted
	return acc, nil
}

// Create implements account.Store with INSERT IGNORE.
func (s *AccountStore) Create(ctx context.Context, acc *wallet.Account) (bool, error) {
	if acc == nil || acc.Address == (common.Address{}) {
		return false, xerrors.New(xerrors.CodeInvalidInput, "account address is empty")
	}
	state, err := account.Encode(acc)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create account")
	}
	const stmt = `INSERT IGNORE INTO wallet_accounts (address, nonce, halted, state, updated_at) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, addressKey(acc.Address), acc.Nonce, acc.Halted, state, s.now().Unix())
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create account")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create account")
	}
	return affected == 1, nil
}

// Commit implements account.Store.
func (s *AccountStore) Commit(ctx context.Context, acc *wallet.Account, expectedNonce uint64) error {
	if acc == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "account is nil")
	}
	state, err := account.Encode(acc)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit account")
	}
	const stmt = `UPDATE wallet_accounts SET nonce = ?, halted = ?, state = ?, updated_at = ? WHERE address = ? AND nonce = ?`
	res, err := s.db.ExecContext(ctx, stmt, acc.Nonce, acc.Halted, state, s.now().Unix(), addressKey(acc.Address), expectedNonce)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit account")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit account")
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM wallet_accounts WHERE address = ?`, addressKey(acc.Address)).Scan(&exists)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit account")
	}
	if exists == 0 {
		return xerrors.Newf(xerrors.CodeNotFound, "account %s not found", acc.Address.Hex())
	}
	return xerrors.Newf(xerrors.CodeReplayOrStale, "account %s is no longer at nonce %d", acc.Address.Hex(), expectedNonce)
}
