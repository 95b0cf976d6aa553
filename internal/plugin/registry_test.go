package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "WalletPlugins/internal/errors"
)

type stubConfig struct {
	kind Kind
}

func (c stubConfig) Kind() Kind                       { return c.kind }
func (c stubConfig) ConstructorArgs() ([]byte, error) { return nil, nil }

type stubPlugin struct {
	kind       Kind
	permissive bool
}

func (p *stubPlugin) Info() Info {
	return Info{Kind: p.kind, Name: p.kind.ContractName(), Permissive: p.permissive}
}
func (p *stubPlugin) Config() Config              { return stubConfig{kind: p.kind} }
func (p *stubPlugin) Evaluate(*EvalContext) error { return nil }

type memoryEntries struct {
	mu      sync.Mutex
	saved   []Entry
	failure error
	// failEnabled fails only saves that enable this address.
	failEnabled *common.Address
}

func (m *memoryEntries) SaveEntry(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	if m.failEnabled != nil && entry.Enabled && entry.Address == *m.failEnabled {
		return errors.New("disk full")
	}
	m.saved = append(m.saved, entry)
	return nil
}

func (m *memoryEntries) ListEntries(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.saved...), nil
}

var (
	account = common.HexToAddress("0x0000000000000000000000000000000000000001")
	addrA   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func fixedClock() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestInstallIsIdempotent(t *testing.T) {
	store := &memoryEntries{}
	reg := NewRegistry(WithEntryStore(store), WithClock(fixedClock))
	inst := Instance{Kind: KindWhitelist, Address: addrA, Plugin: &stubPlugin{kind: KindWhitelist}}

	entry, changed, err := reg.Install(context.Background(), account, inst)
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, entry.Enabled)

	again, changed, err := reg.Install(context.Background(), account, inst)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, entry.Address, again.Address)
	require.Len(t, store.saved, 1)
	require.Len(t, reg.Entries(account), 1)
}

func TestInstallReplacementDisablesPrior(t *testing.T) {
	store := &memoryEntries{}
	reg := NewRegistry(WithEntryStore(store))
	ctx := context.Background()

	_, _, err := reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrA, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.NoError(t, err)
	_, changed, err := reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrB, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.NoError(t, err)
	require.True(t, changed)

	require.Len(t, store.saved, 3)
	require.Equal(t, addrA, store.saved[1].Address)
	require.False(t, store.saved[1].Enabled)
	require.Equal(t, addrB, store.saved[2].Address)

	entry, ok := reg.Snapshot(account).Enabled(KindWhitelist)
	require.True(t, ok)
	require.Equal(t, addrB, entry.Address)
}

func TestInstallFailurePublishesNothing(t *testing.T) {
	store := &memoryEntries{failure: errors.New("disk full")}
	reg := NewRegistry(WithEntryStore(store))

	_, _, err := reg.Install(context.Background(), account, Instance{Kind: KindRelay, Address: addrA, Plugin: &stubPlugin{kind: KindRelay}})
	require.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	_, ok := reg.Snapshot(account).Enabled(KindRelay)
	require.False(t, ok)
}

func TestFailedReplacementRestoresPriorEntry(t *testing.T) {
	store := &memoryEntries{}
	reg := NewRegistry(WithEntryStore(store))
	ctx := context.Background()

	_, _, err := reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrA, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.NoError(t, err)

	store.failEnabled = &addrB
	_, changed, err := reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrB, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	require.False(t, changed)

	entry, ok := reg.Snapshot(account).Enabled(KindWhitelist)
	require.True(t, ok)
	require.Equal(t, addrA, entry.Address)

	require.Len(t, store.saved, 3)
	require.False(t, store.saved[1].Enabled)
	last := store.saved[2]
	require.Equal(t, addrA, last.Address)
	require.True(t, last.Enabled)
}

func TestInstallRejectsKindMismatch(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Install(context.Background(), account, Instance{Kind: KindRelay, Address: addrA, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.True(t, xerrors.HasCode(err, xerrors.CodeConfigurationError))
}

func TestGuardBlocksPermissiveRelay(t *testing.T) {
	guard := NewGuard(InstallPolicy{})
	reg := NewRegistry(WithGuard(guard))
	_, _, err := reg.Install(context.Background(), account, Instance{Kind: KindRelay, Address: addrA, Plugin: &stubPlugin{kind: KindRelay, permissive: true}})
	require.True(t, xerrors.HasCode(err, xerrors.CodeConfigurationError))

	guard.Override(account, InstallPolicy{AllowPermissiveRelay: true})
	_, _, err = reg.Install(context.Background(), account, Instance{Kind: KindRelay, Address: addrA, Plugin: &stubPlugin{kind: KindRelay, permissive: true}})
	require.NoError(t, err)
}

func TestGuardAllowedAndDeniedKinds(t *testing.T) {
	guard := NewGuard(InstallPolicy{DeniedKinds: []Kind{KindRecoveryWithDelay}})
	require.Error(t, guard.Validate(account, Info{Kind: KindRecoveryWithDelay}))
	require.NoError(t, guard.Validate(account, Info{Kind: KindWhitelist}))

	guard.Override(account, InstallPolicy{AllowedKinds: []Kind{KindRelay}})
	require.Error(t, guard.Validate(account, Info{Kind: KindWhitelist}))
	require.Error(t, guard.Validate(account, Info{Kind: KindRecoveryWithDelay}))
	require.NoError(t, guard.Validate(account, Info{Kind: KindRelay}))
}

func TestDisable(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	require.True(t, xerrors.HasCode(reg.Disable(ctx, account, KindWhitelist), xerrors.CodeNotFound))

	_, _, err := reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrA, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.NoError(t, err)
	require.NoError(t, reg.Disable(ctx, account, KindWhitelist))
	_, ok := reg.Snapshot(account).Enabled(KindWhitelist)
	require.False(t, ok)
}

func TestSnapshotIsIsolatedFromLaterInstalls(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	_, _, err := reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrA, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.NoError(t, err)

	snap := reg.Snapshot(account)
	_, _, err = reg.Install(ctx, account, Instance{Kind: KindWhitelist, Address: addrB, Plugin: &stubPlugin{kind: KindWhitelist}})
	require.NoError(t, err)

	entry, ok := snap.Enabled(KindWhitelist)
	require.True(t, ok)
	require.Equal(t, addrA, entry.Address)
}

func TestConcurrentInstallAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			addr := addrA
			if i%2 == 1 {
				addr = addrB
			}
			_, _, err := reg.Install(ctx, account, Instance{Kind: KindRelay, Address: addr, Plugin: &stubPlugin{kind: KindRelay}})
			require.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			if entry, ok := reg.Snapshot(account).Enabled(KindRelay); ok {
				require.NotNil(t, entry.Plugin)
			}
		}()
	}
	wg.Wait()
	require.Len(t, reg.Entries(account), 1)
}

func TestSnapshotPluginWithoutImplementation(t *testing.T) {
	reg := NewRegistry()
	reg.Restore([]Entry{
		{Account: account, Kind: KindRecoveryWithDelay, Address: addrA, Enabled: true},
		{Account: account, Kind: Kind("timelock"), Address: addrB, Enabled: true},
	})
	snap := reg.Snapshot(account)

	_, installed, err := snap.Plugin(KindRecoveryWithDelay)
	require.True(t, installed)
	require.True(t, xerrors.HasCode(err, xerrors.CodeConfigurationError))

	unknown := snap.Unknown()
	require.Len(t, unknown, 1)
	require.Equal(t, Kind("timelock"), unknown[0].Kind)

	_, installed, err = snap.Plugin(KindWhitelist)
	require.False(t, installed)
	require.NoError(t, err)
}

func TestRestoreKeepsEnabledOverDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.Restore([]Entry{
		{Account: account, Kind: KindWhitelist, Address: addrB, Enabled: true},
		{Account: account, Kind: KindWhitelist, Address: addrA, Enabled: false},
	})
	entry, ok := reg.Snapshot(account).Enabled(KindWhitelist)
	require.True(t, ok)
	require.Equal(t, addrB, entry.Address)
	require.Equal(t, []common.Address{account}, reg.Accounts())
}

func TestListFollowsEvaluationOrder(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	for _, kind := range []Kind{KindRecoveryWithDelay, KindWhitelist, KindRelay} {
		_, _, err := reg.Install(ctx, account, Instance{Kind: kind, Address: addrA, Plugin: &stubPlugin{kind: kind}})
		require.NoError(t, err)
	}
	var kinds []Kind
	for _, e := range reg.Entries(account) {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, Kinds, kinds)
}

func TestKindLoader(t *testing.T) {
	loader := NewKindLoader()
	_, err := loader.Load(stubConfig{kind: KindWhitelist})
	require.True(t, xerrors.HasCode(err, xerrors.CodeConfigurationError))

	loader.Register(KindWhitelist, func(cfg Config) (Plugin, error) {
		return &stubPlugin{kind: cfg.Kind()}, nil
	})
	loader.Register(KindRelay, func(Config) (Plugin, error) {
		return nil, errors.New("bad selector")
	})
	require.True(t, loader.Knows(KindWhitelist))

	p, err := loader.Load(stubConfig{kind: KindWhitelist})
	require.NoError(t, err)
	require.Equal(t, KindWhitelist, p.Info().Kind)

	_, err = loader.Load(stubConfig{kind: KindRelay})
	require.True(t, xerrors.HasCode(err, xerrors.CodeConfigurationError))
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"relay":                   KindRelay,
		"RelayPlugin":             KindRelay,
		" whitelist ":             KindWhitelist,
		"recovery":                KindRecoveryWithDelay,
		"RecoveryWithDelayPlugin": KindRecoveryWithDelay,
	}
	for raw, want := range cases {
		got, err := ParseKind(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}
	_, err := ParseKind("timelock")
	require.Error(t, err)
}
