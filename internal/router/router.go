// Package router decides, for every proposed account action, whether it may
// execute. It serialises actions per account, consults the plugins enabled in
// the registry and commits the resulting account state exactly once.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/events"
	"WalletPlugins/internal/observability/alerting"
	"WalletPlugins/internal/observability/metrics"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/wallet"
)

// Router is the authorization router.
type Router struct {
	registry  *plugin.Registry
	store     account.Store
	chainID   *big.Int
	now       func() time.Time
	publisher events.Publisher
	metrics   *metrics.Metrics
	alerts    alerting.Dispatcher
	logger    *slog.Logger
	audit     *slog.Logger
	halt      bool

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// New constructs a router over registry and store.
func New(registry *plugin.Registry, store account.Store, opts ...Option) *Router {
	r := &Router{
		registry:  registry,
		store:     store,
		chainID:   new(big.Int),
		now:       time.Now,
		publisher: events.Nop{},
		logger:    slog.Default(),
		halt:      true,
		locks:     make(map[common.Address]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.audit == nil {
		r.audit = r.logger
	}
	return r
}

// ChainID returns the chain id request signatures are bound to.
func (r *Router) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

// Submit evaluates req and, when admitted, commits the new account state.
// Rejections are reported in the verdict; the error is non-nil only when the
// account store failed.
func (r *Router) Submit(ctx context.Context, req *wallet.Request) (wallet.Verdict, error) {
	began := time.Now()
	route := routeOf(req)

	if err := req.Validate(); err != nil {
		verdict := wallet.Reject(route, 0, err)
		r.record(ctx, req, verdict, time.Since(began))
		return verdict, nil
	}

	unlock := r.lock(req.Account)
	defer unlock()

	acc, err := r.store.Load(ctx, req.Account)
	if err != nil {
		verdict := wallet.Reject(route, 0, err)
		r.record(ctx, req, verdict, time.Since(began))
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return verdict, nil
		}
		return verdict, err
	}

	if acc.Halted {
		err := xerrors.Newf(xerrors.CodeConfigurationError, "account %s is halted until an operator resumes it", acc.Address.Hex())
		verdict := wallet.Reject(route, acc.Nonce, err)
		r.record(ctx, req, verdict, time.Since(began))
		return verdict, nil
	}
	if req.Nonce != acc.Nonce {
		err := xerrors.Newf(xerrors.CodeReplayOrStale, "nonce %d does not match account nonce %d", req.Nonce, acc.Nonce)
		verdict := wallet.Reject(route, acc.Nonce, err)
		r.record(ctx, req, verdict, time.Since(began))
		return verdict, nil
	}

	working := acc.Clone()
	caller, err := r.evaluate(req, working, r.now())
	if err != nil {
		verdict := wallet.Reject(route, acc.Nonce, err)
		verdict.Caller = caller
		if xerrors.HasCode(err, xerrors.CodeConfigurationError) {
			r.onConfigurationError(ctx, req, acc, err)
		}
		r.record(ctx, req, verdict, time.Since(began))
		return verdict, nil
	}

	working.Nonce = acc.Nonce + 1
	if err := r.store.Commit(ctx, working, acc.Nonce); err != nil {
		verdict := wallet.Reject(route, acc.Nonce, err)
		verdict.Caller = caller
		r.record(ctx, req, verdict, time.Since(began))
		if xerrors.HasCode(err, xerrors.CodeReplayOrStale) {
			return verdict, nil
		}
		return verdict, err
	}

	verdict := wallet.Admit(route, caller, working.Nonce)
	r.record(ctx, req, verdict, time.Since(began))
	return verdict, nil
}

// evaluate runs the enabled plugins against acc, which the plugins may
// mutate. It returns the resolved caller.
func (r *Router) evaluate(req *wallet.Request, acc *wallet.Account, now time.Time) (common.Address, error) {
	snap := r.registry.Snapshot(req.Account)
	if unknown := snap.Unknown(); len(unknown) > 0 {
		return common.Address{}, xerrors.Newf(xerrors.CodeConfigurationError,
			"account has an enabled plugin of unknown kind %s at %s", unknown[0].Kind, unknown[0].Address.Hex())
	}

	ectx := &plugin.EvalContext{Request: req, Account: acc, Now: now}
	if req.Relayed() {
		relay, ok, err := snap.Plugin(plugin.KindRelay)
		if err != nil {
			return common.Address{}, err
		}
		if !ok {
			return common.Address{}, xerrors.New(xerrors.CodeConfigurationError, "relayed request but no relay plugin is enabled",
				xerrors.WithHalt(false), xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityWarning))
		}
		if err := relay.Evaluate(ectx); err != nil {
			return common.Address{}, err
		}
		signer, err := wallet.RecoverSigner(req, r.chainID)
		if err != nil {
			return common.Address{}, err
		}
		ectx.Caller = signer
	} else {
		ectx.Caller = req.Sender
	}
	caller := ectx.Caller

	if req.Action.IsRecovery() {
		recovery, ok, err := snap.Plugin(plugin.KindRecoveryWithDelay)
		if err != nil {
			return caller, err
		}
		if !ok {
			return caller, xerrors.New(xerrors.CodeConfigurationError, fmt.Sprintf("%s requires an enabled recovery plugin", req.Action),
				xerrors.WithHalt(false), xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityWarning))
		}
		return caller, recovery.Evaluate(ectx)
	}

	if !acc.IsOwner(caller) {
		return caller, xerrors.Newf(xerrors.CodeUnauthorizedCaller, "%s is not an owner of %s", caller.Hex(), acc.Address.Hex())
	}
	whitelist, ok, err := snap.Plugin(plugin.KindWhitelist)
	if err != nil {
		return caller, err
	}
	if !ok {
		if req.Action.IsWhitelistMutation() {
			return caller, xerrors.New(xerrors.CodeConfigurationError, fmt.Sprintf("%s requires an enabled whitelist plugin", req.Action),
				xerrors.WithHalt(false))
		}
		return caller, nil
	}
	return caller, whitelist.Evaluate(ectx)
}

// onConfigurationError halts the account for registry defects, when
// configured to, and alerts. Errors scoped to a single request only reject.
func (r *Router) onConfigurationError(ctx context.Context, req *wallet.Request, acc *wallet.Account, cause error) {
	halted := false
	if r.halt && xerrors.ShouldHalt(cause) {
		frozen := acc.Clone()
		frozen.Halted = true
		if err := r.store.Commit(ctx, frozen, acc.Nonce); err != nil {
			r.logger.Error("failed to halt account",
				slog.String("account", acc.Address.Hex()),
				slog.String("error", err.Error()))
		} else {
			halted = true
			r.metrics.ObserveHalt()
			r.logger.Warn("account halted after configuration error",
				slog.String("account", acc.Address.Hex()),
				slog.String("error", cause.Error()))
			event := events.New(events.TypeHalted, acc.Address.Hex(), r.now())
			event.Action = string(req.Action)
			event.Reason = string(xerrors.CodeOf(cause))
			event.Nonce = acc.Nonce
			r.publish(ctx, event)
		}
	}
	if r.alerts == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	alert := alerting.FromError(cause, acc.Address.Hex(), string(req.Action), r.now())
	alert.Halted = halted
	if err := r.alerts.Notify(ctx, alert); err != nil {
		r.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
}

// Resume clears the halt flag of an account.
func (r *Router) Resume(ctx context.Context, address common.Address) error {
	unlock := r.lock(address)
	defer unlock()

	acc, err := r.store.Load(ctx, address)
	if err != nil {
		return err
	}
	if !acc.Halted {
		return nil
	}
	resumed := acc.Clone()
	resumed.Halted = false
	if err := r.store.Commit(ctx, resumed, acc.Nonce); err != nil {
		return err
	}
	r.logger.Info("account resumed", slog.String("account", address.Hex()))
	event := events.New(events.TypeResumed, address.Hex(), r.now())
	event.Nonce = acc.Nonce
	r.publish(ctx, event)
	return nil
}

func (r *Router) record(ctx context.Context, req *wallet.Request, verdict wallet.Verdict, elapsed time.Duration) {
	var (
		accountHex string
		action     string
		target     string
	)
	if req != nil {
		accountHex = req.Account.Hex()
		action = string(req.Action)
		target = req.Target.Hex()
	}

	attrs := []any{
		slog.String("account", accountHex),
		slog.String("action", action),
		slog.String("route", string(verdict.Route)),
		slog.String("caller", verdict.Caller.Hex()),
		slog.String("target", target),
		slog.Uint64("nonce", verdict.Nonce),
		slog.Bool("admitted", verdict.Admitted),
	}
	if !verdict.Admitted {
		attrs = append(attrs,
			slog.String("reason", string(verdict.Reason)),
			slog.String("detail", verdict.Detail))
	}
	r.audit.Info("verdict", attrs...)
	r.metrics.ObserveVerdict(string(verdict.Route), action, verdict.Admitted, string(verdict.Reason), elapsed)

	typ := events.TypeAdmitted
	if !verdict.Admitted {
		typ = events.TypeRejected
	}
	event := events.New(typ, accountHex, r.now())
	event.Action = action
	event.Route = string(verdict.Route)
	event.Caller = verdict.Caller.Hex()
	event.Target = target
	event.Nonce = verdict.Nonce
	event.Reason = string(verdict.Reason)
	event.Detail = verdict.Detail
	r.publish(ctx, event)
}

func (r *Router) publish(ctx context.Context, event events.Event) {
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("event publish failed",
			slog.String("type", event.Type),
			slog.String("account", event.Account),
			slog.String("error", xerrors.Wrap(xerrors.CodePublishFailure, err, "publish event").Error()))
	}
}

func (r *Router) lock(address common.Address) func() {
	r.mu.Lock()
	m, ok := r.locks[address]
	if !ok {
		m = &sync.Mutex{}
		r.locks[address] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func routeOf(req *wallet.Request) wallet.Route {
	if req.Relayed() {
		return wallet.RouteRelayed
	}
	return wallet.RouteDirect
}
