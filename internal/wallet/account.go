package wallet

import (
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account is the per-account state record. It is owned by the account store
// and passed by reference into the router and every plugin; plugins keep no
// per-account state of their own.
type Account struct {
	Address common.Address   `json:"address"`
	Owners  []common.Address `json:"owners"`
	Nonce   uint64           `json:"nonce"`

	// Whitelist holds the approved destinations of the whitelist plugin.
	Whitelist map[common.Address]struct{} `json:"-"`
	// Recovery is non-nil while a recovery request is pending.
	Recovery *RecoveryRequest `json:"recovery,omitempty"`
	// Halted is set after a configuration error until an operator resumes.
	Halted bool `json:"halted"`
}

// RecoveryRequest is a pending owner change proposed by the recoverer.
type RecoveryRequest struct {
	Recoverer   common.Address `json:"recoverer"`
	NewOwner    common.Address `json:"new_owner"`
	InitiatedAt time.Time      `json:"initiated_at"`
	UnlockAt    time.Time      `json:"unlock_at"`
}

// NewAccount returns an account with nonce zero and an empty whitelist.
func NewAccount(address common.Address, owners ...common.Address) *Account {
	return &Account{
		Address:   address,
		Owners:    slices.Clone(owners),
		Whitelist: make(map[common.Address]struct{}),
	}
}

// IsOwner reports whether addr is one of the account owners.
func (a *Account) IsOwner(addr common.Address) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Owners, addr)
}

// Approved reports whether destination is on the whitelist.
func (a *Account) Approved(destination common.Address) bool {
	if a == nil || a.Whitelist == nil {
		return false
	}
	_, ok := a.Whitelist[destination]
	return ok
}

// WhitelistEntries returns the whitelist as a sorted slice.
func (a *Account) WhitelistEntries() []common.Address {
	if a == nil {
		return nil
	}
	out := make([]common.Address, 0, len(a.Whitelist))
	for addr := range a.Whitelist {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(x, y common.Address) int { return x.Cmp(y) })
	return out
}

// Clone returns a deep copy so evaluation can run without touching committed
// state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dup := *a
	dup.Owners = slices.Clone(a.Owners)
	dup.Whitelist = make(map[common.Address]struct{}, len(a.Whitelist))
	for k := range a.Whitelist {
		dup.Whitelist[k] = struct{}{}
	}
	if a.Recovery != nil {
		rec := *a.Recovery
		dup.Recovery = &rec
	}
	return &dup
}
