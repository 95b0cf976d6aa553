package router

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/events"
	"WalletPlugins/internal/observability/alerting"
	"WalletPlugins/internal/observability/metrics"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/plugin/recovery"
	"WalletPlugins/internal/plugin/relay"
	"WalletPlugins/internal/plugin/whitelist"
	"WalletPlugins/internal/wallet"
)

var (
	walletAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recovererKey = mustKey()
	recoverer    = crypto.PubkeyToAddress(recovererKey.PublicKey)
	trusted      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	dest         = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	other        = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	chainID      = big.NewInt(31337)
)

func mustKey() *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return key
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	ownerKey *ecdsa.PrivateKey
	owner    common.Address
	registry *plugin.Registry
	store    *account.MemoryStore
	clock    *clock
	events   *events.Memory
	alerts   *alerting.MemoryNotifier
	metrics  *metrics.Metrics
	router   *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		ownerKey: mustKey(),
		registry: plugin.NewRegistry(),
		store:    account.NewMemoryStore(),
		clock:    &clock{now: time.Unix(1_700_000_000, 0).UTC()},
		events:   events.NewMemory(),
		alerts:   &alerting.MemoryNotifier{},
		metrics:  metrics.New(),
	}
	f.owner = crypto.PubkeyToAddress(f.ownerKey.PublicKey)
	created, err := f.store.Create(f.ctx, wallet.NewAccount(walletAddr, f.owner))
	require.NoError(t, err)
	require.True(t, created)

	base := []Option{
		WithClock(f.clock.Now),
		WithChainID(chainID),
		WithPublisher(f.events),
		WithAlerts(alerting.NewFanout(f.alerts)),
		WithMetrics(f.metrics),
	}
	f.router = New(f.registry, f.store, append(base, opts...)...)
	return f
}

func (f *fixture) install(kind plugin.Kind, p plugin.Plugin) {
	f.t.Helper()
	addr := common.BytesToAddress(crypto.Keccak256([]byte(kind)))
	_, _, err := f.registry.Install(f.ctx, walletAddr, plugin.Instance{Kind: kind, Address: addr, Plugin: p})
	require.NoError(f.t, err)
}

func (f *fixture) installRelay(origin common.Address) {
	f.t.Helper()
	p, err := relay.New(relay.Config{TrustedOrigin: origin, Method: relay.DefaultMethod}, nil)
	require.NoError(f.t, err)
	f.install(plugin.KindRelay, p)
}

func (f *fixture) installRecovery(delay time.Duration) {
	f.t.Helper()
	p, err := recovery.New(recovery.Config{Recoverer: recoverer, Delay: delay})
	require.NoError(f.t, err)
	f.install(plugin.KindRecoveryWithDelay, p)
}

func (f *fixture) account() *wallet.Account {
	f.t.Helper()
	acc, err := f.store.Load(f.ctx, walletAddr)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) submit(req *wallet.Request) wallet.Verdict {
	f.t.Helper()
	verdict, err := f.router.Submit(f.ctx, req)
	require.NoError(f.t, err)
	return verdict
}

func (f *fixture) direct(action wallet.ActionType, sender, target common.Address) *wallet.Request {
	return &wallet.Request{
		Account: walletAddr,
		Action:  action,
		Target:  target,
		Sender:  sender,
		Nonce:   f.account().Nonce,
	}
}

func (f *fixture) relayed(key *ecdsa.PrivateKey, origin common.Address, method wallet.Selector) *wallet.Request {
	f.t.Helper()
	req := &wallet.Request{
		Account: walletAddr,
		Action:  wallet.ActionCall,
		Target:  dest,
		Value:   big.NewInt(1),
		Method:  method,
		Origin:  &origin,
		Nonce:   f.account().Nonce,
	}
	sig, err := wallet.Sign(req, chainID, key)
	require.NoError(f.t, err)
	req.Signature = sig
	return req
}

func requireRejected(t *testing.T, v wallet.Verdict, code xerrors.Code) {
	t.Helper()
	require.False(t, v.Admitted)
	require.Equal(t, code, v.Reason, v.Detail)
}

func TestDirectCallAdmittedWithoutWhitelist(t *testing.T) {
	f := newFixture(t)
	v := f.submit(f.direct(wallet.ActionCall, f.owner, dest))

	require.True(t, v.Admitted)
	require.Equal(t, wallet.RouteDirect, v.Route)
	require.Equal(t, f.owner, v.Caller)
	require.Equal(t, uint64(1), v.Nonce)
	require.Equal(t, uint64(1), f.account().Nonce)
	require.Len(t, f.events.OfType(events.TypeAdmitted), 1)
}

func TestNonOwnerIsRejected(t *testing.T) {
	f := newFixture(t)
	requireRejected(t, f.submit(f.direct(wallet.ActionCall, other, dest)), xerrors.CodeUnauthorizedCaller)
	require.Equal(t, uint64(0), f.account().Nonce)
}

func TestStaleNonceIsRejected(t *testing.T) {
	f := newFixture(t)
	req := f.direct(wallet.ActionCall, f.owner, dest)
	require.True(t, f.submit(req).Admitted)

	replay := *req
	requireRejected(t, f.submit(&replay), xerrors.CodeReplayOrStale)
	require.Equal(t, uint64(1), f.account().Nonce)
}

func TestConcurrentSameNonceAdmitsOnce(t *testing.T) {
	f := newFixture(t)
	const workers = 16

	var wg sync.WaitGroup
	verdicts := make([]wallet.Verdict, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.router.Submit(f.ctx, &wallet.Request{
				Account: walletAddr,
				Target:  dest,
				Sender:  f.owner,
				Nonce:   0,
			})
			require.NoError(t, err)
			verdicts[i] = v
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, v := range verdicts {
		if v.Admitted {
			admitted++
			continue
		}
		require.Equal(t, xerrors.CodeReplayOrStale, v.Reason)
	}
	require.Equal(t, 1, admitted)
	require.Equal(t, uint64(1), f.account().Nonce)
}

func TestUnknownAccountIsRejected(t *testing.T) {
	f := newFixture(t)
	v, err := f.router.Submit(f.ctx, &wallet.Request{
		Account: other,
		Target:  dest,
		Sender:  f.owner,
	})
	require.NoError(t, err)
	requireRejected(t, v, xerrors.CodeNotFound)
}

func TestMalformedRequestIsRejected(t *testing.T) {
	f := newFixture(t)
	requireRejected(t, f.submit(&wallet.Request{Account: walletAddr, Sender: f.owner}), xerrors.CodeInvalidInput)
	requireRejected(t, f.submit(nil), xerrors.CodeInvalidInput)
}

func TestWhitelistGatesCalls(t *testing.T) {
	f := newFixture(t)
	f.install(plugin.KindWhitelist, whitelist.New())

	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)), xerrors.CodeDestinationNotWhitelisted)
	require.Equal(t, uint64(0), f.account().Nonce)

	require.True(t, f.submit(f.direct(wallet.ActionWhitelistAdd, f.owner, dest)).Admitted)
	require.True(t, f.account().Approved(dest))

	require.True(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)).Admitted)
	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, other)), xerrors.CodeDestinationNotWhitelisted)

	require.True(t, f.submit(f.direct(wallet.ActionWhitelistRemove, f.owner, dest)).Admitted)
	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)), xerrors.CodeDestinationNotWhitelisted)
	require.Equal(t, uint64(3), f.account().Nonce)
}

func TestWhitelistMutationByStrangerLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	f.install(plugin.KindWhitelist, whitelist.New())

	requireRejected(t, f.submit(f.direct(wallet.ActionWhitelistAdd, other, dest)), xerrors.CodeUnauthorizedCaller)
	require.False(t, f.account().Approved(dest))
}

func TestWhitelistMutationWithoutPluginIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	requireRejected(t, f.submit(f.direct(wallet.ActionWhitelistAdd, f.owner, dest)), xerrors.CodeConfigurationError)
	require.False(t, f.account().Halted)
	require.Empty(t, f.events.OfType(events.TypeHalted))

	alerts := f.alerts.Events()
	require.Len(t, alerts, 1)
	require.False(t, alerts[0].Halted)

	// Strangers are turned away before the missing plugin matters.
	requireRejected(t, f.submit(f.direct(wallet.ActionWhitelistRemove, other, dest)), xerrors.CodeUnauthorizedCaller)
	require.Len(t, f.alerts.Events(), 1)
	require.True(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)).Admitted)
}

func TestRelayedExecution(t *testing.T) {
	f := newFixture(t)
	f.installRelay(trusted)

	v := f.submit(f.relayed(f.ownerKey, trusted, relay.DefaultMethod))
	require.True(t, v.Admitted, v.Detail)
	require.Equal(t, wallet.RouteRelayed, v.Route)
	require.Equal(t, f.owner, v.Caller)

	requireRejected(t, f.submit(f.relayed(f.ownerKey, other, relay.DefaultMethod)), xerrors.CodeUntrustedOrigin)
	requireRejected(t, f.submit(f.relayed(f.ownerKey, trusted, wallet.Selector{1, 2, 3, 4})), xerrors.CodeUnsupportedEntryPoint)
	requireRejected(t, f.submit(f.relayed(mustKey(), trusted, relay.DefaultMethod)), xerrors.CodeUnauthorizedCaller)
	require.Equal(t, uint64(1), f.account().Nonce)
}

func TestRelayedSignatureIsBoundToNonce(t *testing.T) {
	f := newFixture(t)
	f.installRelay(trusted)

	req := f.relayed(f.ownerKey, trusted, relay.DefaultMethod)
	require.True(t, f.submit(req).Admitted)

	// Re-targeting the old signature at the new nonce recovers a different signer.
	req.Nonce = 1
	requireRejected(t, f.submit(req), xerrors.CodeUnauthorizedCaller)
}

func TestPermissiveRelayAcceptsAnyOrigin(t *testing.T) {
	f := newFixture(t)
	f.installRelay(common.Address{})

	require.True(t, f.submit(f.relayed(f.ownerKey, other, relay.DefaultMethod)).Admitted)
	requireRejected(t, f.submit(f.relayed(f.ownerKey, other, wallet.Selector{9, 9, 9, 9})), xerrors.CodeUnsupportedEntryPoint)
}

func TestRelayedWithoutRelayPluginOnlyRejects(t *testing.T) {
	f := newFixture(t)

	origin := common.HexToAddress("0xbad")
	sig := make([]byte, 65)
	sig[64] = 27
	req := &wallet.Request{
		Account:   walletAddr,
		Action:    wallet.ActionCall,
		Target:    dest,
		Method:    relay.DefaultMethod,
		Origin:    &origin,
		Nonce:     0,
		Signature: sig,
	}

	requireRejected(t, f.submit(req), xerrors.CodeConfigurationError)
	require.False(t, f.account().Halted)
	require.Empty(t, f.events.OfType(events.TypeHalted))
	require.Empty(t, f.alerts.Events())

	v := f.submit(f.direct(wallet.ActionCall, f.owner, dest))
	require.True(t, v.Admitted, v.Detail)
	require.Equal(t, uint64(1), f.account().Nonce)
}

func TestUnknownPluginKindIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	f.registry.Restore([]plugin.Entry{{
		Account: walletAddr,
		Kind:    plugin.Kind("timelock"),
		Address: other,
		Enabled: true,
	}})

	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)), xerrors.CodeConfigurationError)
	require.True(t, f.account().Halted)
	require.Equal(t, uint64(0), f.account().Nonce)
	require.Len(t, f.events.OfType(events.TypeHalted), 1)

	alerts := f.alerts.Events()
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].Halted)

	require.NoError(t, f.registry.Disable(f.ctx, walletAddr, plugin.Kind("timelock")))

	// Halted accounts refuse even well-formed direct actions.
	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)), xerrors.CodeConfigurationError)
	require.Len(t, f.alerts.Events(), 1)

	require.NoError(t, f.router.Resume(f.ctx, walletAddr))
	require.False(t, f.account().Halted)
	require.True(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)).Admitted)
	require.Len(t, f.events.OfType(events.TypeResumed), 1)
}

func TestEntryWithoutImplementationIsConfigurationError(t *testing.T) {
	f := newFixture(t, WithHaltOnConfigurationError(false))
	f.registry.Restore([]plugin.Entry{{
		Account: walletAddr,
		Kind:    plugin.KindWhitelist,
		Address: other,
		Enabled: true,
	}})

	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)), xerrors.CodeConfigurationError)
	require.False(t, f.account().Halted)
}

func TestRecoveryRequiresPlugin(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0xbeef")

	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryInitiate, stranger, other)), xerrors.CodeConfigurationError)
	require.False(t, f.account().Halted)
	require.Empty(t, f.events.OfType(events.TypeHalted))
	require.Empty(t, f.alerts.Events())

	require.True(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)).Admitted)
}

func TestRecoveryCancelScenario(t *testing.T) {
	f := newFixture(t)
	f.installRecovery(86400 * time.Second)
	t0 := f.clock.Now()
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	require.True(t, f.submit(f.direct(wallet.ActionRecoveryInitiate, recoverer, newOwner)).Admitted)
	pending := f.account().Recovery
	require.NotNil(t, pending)
	require.Equal(t, t0.Add(86400*time.Second), pending.UnlockAt)

	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryInitiate, recoverer, newOwner)), xerrors.CodeRecoveryAlreadyPending)
	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryInitiate, f.owner, newOwner)), xerrors.CodeUnauthorizedRecoverer)

	f.clock.Set(t0.Add(500 * time.Second))
	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryCancel, recoverer, common.Address{})), xerrors.CodeUnauthorizedCaller)
	require.True(t, f.submit(f.direct(wallet.ActionRecoveryCancel, f.owner, common.Address{})).Admitted)
	require.Nil(t, f.account().Recovery)

	f.clock.Set(t0.Add(86399 * time.Second))
	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryExecute, recoverer, common.Address{})), xerrors.CodeNoPendingRecovery)
	require.Equal(t, []common.Address{f.owner}, f.account().Owners)
}

func TestRecoveryExecutesAfterDelay(t *testing.T) {
	f := newFixture(t)
	f.installRecovery(86400 * time.Second)
	t0 := f.clock.Now()
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	require.True(t, f.submit(f.direct(wallet.ActionRecoveryInitiate, recoverer, newOwner)).Admitted)

	f.clock.Set(t0.Add(86399 * time.Second))
	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryExecute, recoverer, common.Address{})), xerrors.CodeRecoveryNotYetUnlocked)
	require.NotNil(t, f.account().Recovery)

	f.clock.Set(t0.Add(86400 * time.Second))
	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryExecute, f.owner, common.Address{})), xerrors.CodeUnauthorizedRecoverer)
	require.True(t, f.submit(f.direct(wallet.ActionRecoveryExecute, recoverer, common.Address{})).Admitted)

	acc := f.account()
	require.Equal(t, []common.Address{newOwner}, acc.Owners)
	require.Nil(t, acc.Recovery)
	requireRejected(t, f.submit(f.direct(wallet.ActionRecoveryExecute, recoverer, common.Address{})), xerrors.CodeNoPendingRecovery)

	// The previous owner lost control.
	requireRejected(t, f.submit(f.direct(wallet.ActionCall, f.owner, dest)), xerrors.CodeUnauthorizedCaller)
	require.True(t, f.submit(f.direct(wallet.ActionCall, newOwner, dest)).Admitted)
}

func TestRelayedRecoveryUsesSigner(t *testing.T) {
	f := newFixture(t)
	f.installRelay(trusted)
	f.installRecovery(time.Hour)
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	req := &wallet.Request{
		Account: walletAddr,
		Action:  wallet.ActionRecoveryInitiate,
		Target:  newOwner,
		Method:  relay.DefaultMethod,
		Origin:  &trusted,
		Nonce:   0,
	}
	sig, err := wallet.Sign(req, chainID, recovererKey)
	require.NoError(t, err)
	req.Signature = sig

	v := f.submit(req)
	require.True(t, v.Admitted, v.Detail)
	require.Equal(t, recoverer, v.Caller)
	require.Equal(t, newOwner, f.account().Recovery.NewOwner)
}
