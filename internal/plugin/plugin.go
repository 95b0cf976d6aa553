package plugin

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/wallet"
)

// Plugin is a self-contained authorization unit.
type Plugin interface {
	// Info returns the static metadata for the instance.
	Info() Info
	// Config returns the immutable construction configuration.
	Config() Config
	// Evaluate admits (nil) or rejects the request described by ctx. Plugins
	// may only mutate ctx.Account, which the router commits on admission.
	Evaluate(ctx *EvalContext) error
}

// Config is the construction configuration of a plugin. Its ABI encoding is
// part of the deterministic deployment address.
type Config interface {
	Kind() Kind
	// ConstructorArgs returns the ABI-encoded constructor arguments.
	ConstructorArgs() ([]byte, error)
}

// EvalContext is passed to a plugin for every evaluation.
type EvalContext struct {
	Request *wallet.Request
	// Account is the router's working copy of the account state.
	Account *wallet.Account
	// Caller is the authenticated originator: the direct sender or the signer
	// of a relayed request. It is zero while the relay plugin runs.
	Caller common.Address
	Now    time.Time
}

// Instance is a deployed plugin ready to be installed.
type Instance struct {
	Kind    Kind
	Address common.Address
	Plugin  Plugin
}

// Option modifies the behaviour of a Registry.
type Option func(*Registry)

// WithGuard overrides the install guard.
func WithGuard(guard Guard) Option {
	return func(r *Registry) {
		if guard != nil {
			r.guard = guard
		}
	}
}

// WithEntryStore persists every installation change.
func WithEntryStore(store EntryStore) Option {
	return func(r *Registry) {
		if store != nil {
			r.store = store
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now for installation timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
