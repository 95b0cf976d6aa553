package plugin

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
)

// Entry records one plugin installation against an account.
type Entry struct {
	Account     common.Address `json:"account"`
	Kind        Kind           `json:"kind"`
	Address     common.Address `json:"address"`
	Enabled     bool           `json:"enabled"`
	InstalledAt time.Time      `json:"installed_at"`
	Permissive  bool           `json:"permissive,omitempty"`
	// Plugin is nil when the entry was restored for a kind nobody can build.
	Plugin Plugin `json:"-"`
}

// State reports whether the entry is enabled.
func (e Entry) State() State {
	if e.Enabled {
		return StateEnabled
	}
	return StateDisabled
}

// EntryStore persists registry entries.
type EntryStore interface {
	SaveEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context) ([]Entry, error)
}

// Registry maps (account, kind) to the installed plugin instance.
type Registry struct {
	mu       sync.RWMutex
	accounts map[common.Address]map[Kind]*Entry
	guard    Guard
	store    EntryStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		accounts: make(map[common.Address]map[Kind]*Entry),
		guard:    NewGuard(InstallPolicy{AllowPermissiveRelay: true}),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install activates inst for account. Installing the address that is already
// active for the kind is a no-op and reports changed=false; installing a new
// address disables the previous entry first. The new entry only becomes
// visible once it is fully built and persisted.
func (r *Registry) Install(ctx context.Context, account common.Address, inst Instance) (Entry, bool, error) {
	if account == (common.Address{}) {
		return Entry{}, false, xerrors.New(xerrors.CodeInvalidInput, "account address is empty")
	}
	if inst.Plugin == nil {
		return Entry{}, false, xerrors.New(xerrors.CodeConfigurationError, "plugin implementation cannot be nil")
	}
	info := inst.Plugin.Info()
	if inst.Kind == "" {
		inst.Kind = info.Kind
	}
	if info.Kind != inst.Kind {
		return Entry{}, false, xerrors.Newf(xerrors.CodeConfigurationError, "plugin kind mismatch: %s != %s", info.Kind, inst.Kind)
	}
	if err := r.guard.Validate(account, info); err != nil {
		return Entry{}, false, err
	}

	entry := &Entry{
		Account:     account,
		Kind:        inst.Kind,
		Address:     inst.Address,
		Enabled:     true,
		InstalledAt: r.now().UTC(),
		Permissive:  info.Permissive,
		Plugin:      inst.Plugin,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := r.accounts[account]
	prior := kinds[inst.Kind]
	if prior != nil && prior.Enabled && prior.Address == inst.Address {
		return *prior, false, nil
	}
	if prior != nil && prior.Enabled {
		disabled := *prior
		disabled.Enabled = false
		if err := r.persist(ctx, disabled); err != nil {
			return Entry{}, false, err
		}
	}
	if err := r.persist(ctx, *entry); err != nil {
		if prior != nil && prior.Enabled {
			r.restorePrior(ctx, *prior)
		}
		return Entry{}, false, err
	}
	if kinds == nil {
		kinds = make(map[Kind]*Entry)
		r.accounts[account] = kinds
	}
	kinds[inst.Kind] = entry

	r.logger.Info("plugin installed",
		slog.String("account", account.Hex()),
		slog.String("kind", string(inst.Kind)),
		slog.String("address", inst.Address.Hex()),
		slog.Bool("permissive", info.Permissive))
	if info.Permissive {
		r.logger.Warn("permissive plugin installed; origin checks are skipped",
			slog.String("account", account.Hex()),
			slog.String("kind", string(inst.Kind)))
	}
	if prior != nil && prior.Enabled {
		r.logger.Info("plugin replaced",
			slog.String("account", account.Hex()),
			slog.String("kind", string(inst.Kind)),
			slog.String("previous", prior.Address.Hex()))
	}
	return *entry, true, nil
}

// Disable turns off the active entry for (account, kind).
func (r *Registry) Disable(ctx context.Context, account common.Address, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.accounts[account][kind]
	if entry == nil || !entry.Enabled {
		return xerrors.Newf(xerrors.CodeNotFound, "no enabled %s plugin for %s", kind, account.Hex())
	}
	disabled := *entry
	disabled.Enabled = false
	if err := r.persist(ctx, disabled); err != nil {
		return err
	}
	r.accounts[account][kind] = &disabled
	r.logger.Info("plugin disabled",
		slog.String("account", account.Hex()),
		slog.String("kind", string(kind)))
	return nil
}

// Restore loads entries without persisting them again. It is meant for
// startup, before the router serves requests.
func (r *Registry) Restore(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range entries {
		entry := entries[i]
		kinds := r.accounts[entry.Account]
		if kinds == nil {
			kinds = make(map[Kind]*Entry)
			r.accounts[entry.Account] = kinds
		}
		if current := kinds[entry.Kind]; current != nil && current.Enabled && !entry.Enabled {
			continue
		}
		kinds[entry.Kind] = &entry
	}
}

// Snapshot returns a consistent copy of the account's entries.
func (r *Registry) Snapshot(account common.Address) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := r.accounts[account]
	snap := Snapshot{entries: make(map[Kind]Entry, len(kinds))}
	for kind, entry := range kinds {
		snap.entries[kind] = *entry
	}
	return snap
}

// Entries lists the account's entries in evaluation order.
func (r *Registry) Entries(account common.Address) []Entry {
	return r.Snapshot(account).List()
}

// Accounts returns every account with at least one entry.
func (r *Registry) Accounts() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.accounts))
	for addr := range r.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// restorePrior writes back the still-active prior entry after a replacement
// failed to persist, so the store keeps matching memory.
func (r *Registry) restorePrior(ctx context.Context, prior Entry) {
	if err := r.persist(ctx, prior); err != nil {
		r.logger.Error("failed to restore prior registry entry",
			slog.String("account", prior.Account.Hex()),
			slog.String("kind", string(prior.Kind)),
			slog.String("address", prior.Address.Hex()),
			slog.String("error", err.Error()))
	}
}

func (r *Registry) persist(ctx context.Context, entry Entry) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveEntry(ctx, entry); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist registry entry")
	}
	return nil
}

// Snapshot is an immutable view of one account's registry entries.
type Snapshot struct {
	entries map[Kind]Entry
}

// Enabled returns the enabled entry for kind.
func (s Snapshot) Enabled(kind Kind) (Entry, bool) {
	entry, ok := s.entries[kind]
	if !ok || !entry.Enabled {
		return Entry{}, false
	}
	return entry, true
}

// Plugin returns the enabled plugin for kind. An enabled entry without a
// buildable implementation is a configuration error.
func (s Snapshot) Plugin(kind Kind) (Plugin, bool, error) {
	entry, ok := s.Enabled(kind)
	if !ok {
		return nil, false, nil
	}
	if entry.Plugin == nil {
		return nil, true, xerrors.Newf(xerrors.CodeConfigurationError, "%s plugin at %s has no implementation", kind, entry.Address.Hex())
	}
	if got := entry.Plugin.Info().Kind; got != kind {
		return nil, true, xerrors.Newf(xerrors.CodeConfigurationError, "entry %s holds a %s plugin", kind, got)
	}
	return entry.Plugin, true, nil
}

// Unknown lists enabled entries whose kind is outside the closed set.
func (s Snapshot) Unknown() []Entry {
	var out []Entry
	for kind, entry := range s.entries {
		if !entry.Enabled {
			continue
		}
		if _, err := ParseKind(string(kind)); err != nil {
			out = append(out, entry)
		}
	}
	return out
}

// List returns the entries sorted in evaluation order.
func (s Snapshot) List() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	rank := func(k Kind) int {
		for i, known := range Kinds {
			if known == k {
				return i
			}
		}
		return len(Kinds)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i].Kind), rank(out[j].Kind)
		if ri == rj {
			return out[i].Kind < out[j].Kind
		}
		return ri < rj
	})
	return out
}
