// Package account holds the per-account state stores used by the router.
package account

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/wallet"
)

// Store persists account records. Implementations must make Commit a
// compare-and-swap on the nonce so that two writers holding the same
// snapshot cannot both succeed.
type Store interface {
	// Load returns a private copy of the account or a NOT_FOUND error.
	Load(ctx context.Context, address common.Address) (*wallet.Account, error)
	// Create inserts the account unless it already exists. It reports whether
	// a new record was written.
	Create(ctx context.Context, acc *wallet.Account) (bool, error)
	// Commit replaces the stored record if its nonce still equals
	// expectedNonce, otherwise it fails with REPLAY_OR_STALE.
	Commit(ctx context.Context, acc *wallet.Account, expectedNonce uint64) error
}
