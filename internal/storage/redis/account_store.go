package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/wallet"
)

// Config describes the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// AccountStore implements account.Store on Redis strings.
type AccountStore struct {
	client *redis.Client
	prefix string
}

var _ account.Store = (*AccountStore)(nil)

// NewAccountStore dials Redis and verifies the connection.
func NewAccountStore(ctx context.Context, cfg Config) (*AccountStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewAccountStoreWithClient(client, cfg.Prefix), nil
}

// NewAccountStoreWithClient wraps an existing client.
func NewAccountStoreWithClient(client *redis.Client, prefix string) *AccountStore {
	if prefix == "" {
		prefix = "walletplugins:account:"
	}
	return &AccountStore{client: client, prefix: prefix}
}

func (s *AccountStore) key(address common.Address) string {
	return s.prefix + strings.ToLower(address.Hex())
}

// Load implements account.Store.
func (s *AccountStore) Load(ctx context.Context, address common.Address) (*wallet.Account, error) {
	raw, err := s.client.Get(ctx, s.key(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "account %s not found", address.Hex())
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load account")
	}
	acc, err := account.Decode(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load account")
	}
	return acc, nil
}

// Create implements account.Store with SETNX.
func (s *AccountStore) Create(ctx context.Context, acc *wallet.Account) (bool, error) {
	if acc == nil || acc.Address == (common.Address{}) {
		return false, xerrors.New(xerrors.CodeInvalidInput, "account address is empty")
	}
	payload, err := account.Encode(acc)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create account")
	}
	created, err := s.client.SetNX(ctx, s.key(acc.Address), payload, 0).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create account")
	}
	return created, nil
}

// Commit implements account.Store. A concurrent write to the key between
// WATCH and EXEC aborts the transaction and is reported as stale.
func (s *AccountStore) Commit(ctx context.Context, acc *wallet.Account, expectedNonce uint64) error {
	if acc == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "account is nil")
	}
	payload, err := account.Encode(acc)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit account")
	}
	key := s.key(acc.Address)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return xerrors.Newf(xerrors.CodeNotFound, "account %s not found", acc.Address.Hex())
		}
		if err != nil {
			return err
		}
		current, err := account.Decode(raw)
		if err != nil {
			return err
		}
		if current.Nonce != expectedNonce {
			return xerrors.Newf(xerrors.CodeReplayOrStale, "account %s moved to nonce %d", acc.Address.Hex(), current.Nonce)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return xerrors.Wrap(xerrors.CodeReplayOrStale, err, "account changed during commit")
	default:
		if _, coded := xerrors.From(err); coded {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit account")
	}
}

// Close releases the client.
func (s *AccountStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Client exposes the underlying client so other stores can share it.
func (s *AccountStore) Client() *redis.Client {
	return s.client
}
