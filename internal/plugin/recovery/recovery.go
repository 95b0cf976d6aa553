// Package recovery implements time-delayed owner replacement.
package recovery

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/wallet"
)

// DefaultDelay matches the production deployment: one day.
const DefaultDelay = 24 * time.Hour

var constructorArgs = abi.Arguments{
	{Name: "recoverer", Type: mustType("address")},
	{Name: "delay", Type: mustType("uint256")},
}

func mustType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Config is the immutable recovery configuration.
type Config struct {
	Recoverer common.Address
	Delay     time.Duration
}

// Kind implements plugin.Config.
func (Config) Kind() plugin.Kind { return plugin.KindRecoveryWithDelay }

// ConstructorArgs implements plugin.Config. The delay is encoded in whole
// seconds.
func (c Config) ConstructorArgs() ([]byte, error) {
	return constructorArgs.Pack(c.Recoverer, new(big.Int).SetInt64(int64(c.Delay/time.Second)))
}

// DecodeConfig parses constructor arguments produced by ConstructorArgs.
func DecodeConfig(raw []byte) (Config, error) {
	values, err := constructorArgs.Unpack(raw)
	if err != nil {
		return Config{}, xerrors.Wrap(xerrors.CodeConfigurationError, err, "decode recovery constructor args")
	}
	recoverer, ok := values[0].(common.Address)
	if !ok {
		return Config{}, xerrors.New(xerrors.CodeConfigurationError, "recoverer is not an address")
	}
	seconds, ok := values[1].(*big.Int)
	if !ok || !seconds.IsInt64() {
		return Config{}, xerrors.New(xerrors.CodeConfigurationError, "recovery delay is not a uint256")
	}
	return Config{Recoverer: recoverer, Delay: time.Duration(seconds.Int64()) * time.Second}, nil
}

// Plugin runs the recovery state machine against the account record.
type Plugin struct {
	cfg Config
}

// New validates cfg and returns a recovery plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.Recoverer == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeConfigurationError, "recoverer cannot be the zero address")
	}
	if cfg.Delay < 0 {
		return nil, xerrors.New(xerrors.CodeConfigurationError, "recovery delay cannot be negative")
	}
	if cfg.Delay%time.Second != 0 {
		return nil, xerrors.New(xerrors.CodeConfigurationError, "recovery delay must be whole seconds")
	}
	return &Plugin{cfg: cfg}, nil
}

// Factory adapts New to plugin.Factory.
func Factory() plugin.Factory {
	return func(cfg plugin.Config) (plugin.Plugin, error) {
		c, ok := cfg.(Config)
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeConfigurationError, "recovery factory received %T", cfg)
		}
		return New(c)
	}
}

// Info implements plugin.Plugin.
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Kind:        plugin.KindRecoveryWithDelay,
		Name:        plugin.KindRecoveryWithDelay.ContractName(),
		Description: "recoverer " + p.cfg.Recoverer.Hex() + " after " + p.cfg.Delay.String(),
		Version:     "1.0.0",
	}
}

// Config implements plugin.Plugin.
func (p *Plugin) Config() plugin.Config { return p.cfg }

// Recoverer returns the configured recoverer.
func (p *Plugin) Recoverer() common.Address { return p.cfg.Recoverer }

// Initiate records a pending owner change that unlocks after the delay.
func (p *Plugin) Initiate(account *wallet.Account, caller, newOwner common.Address, now time.Time) error {
	if caller != p.cfg.Recoverer {
		return xerrors.Newf(xerrors.CodeUnauthorizedRecoverer, "%s is not the recoverer", caller.Hex())
	}
	if account.Recovery != nil {
		return xerrors.Newf(xerrors.CodeRecoveryAlreadyPending, "recovery to %s already pending", account.Recovery.NewOwner.Hex())
	}
	if newOwner == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidInput, "new owner cannot be the zero address")
	}
	account.Recovery = &wallet.RecoveryRequest{
		Recoverer:   caller,
		NewOwner:    newOwner,
		InitiatedAt: now.UTC(),
		UnlockAt:    now.UTC().Add(p.cfg.Delay),
	}
	return nil
}

// Execute replaces the owner set with the pending new owner once the delay
// has fully elapsed.
func (p *Plugin) Execute(account *wallet.Account, caller common.Address, now time.Time) error {
	if caller != p.cfg.Recoverer {
		return xerrors.Newf(xerrors.CodeUnauthorizedRecoverer, "%s is not the recoverer", caller.Hex())
	}
	pending := account.Recovery
	if pending == nil {
		return xerrors.New(xerrors.CodeNoPendingRecovery, "no recovery pending")
	}
	if now.Before(pending.UnlockAt) {
		return xerrors.Newf(xerrors.CodeRecoveryNotYetUnlocked, "recovery unlocks at %s", pending.UnlockAt.Format(time.RFC3339))
	}
	account.Owners = []common.Address{pending.NewOwner}
	account.Recovery = nil
	return nil
}

// Cancel clears a pending request. Only an owner may cancel.
func (p *Plugin) Cancel(account *wallet.Account, caller common.Address) error {
	if !account.IsOwner(caller) {
		return xerrors.Newf(xerrors.CodeUnauthorizedCaller, "%s is not an owner", caller.Hex())
	}
	if account.Recovery == nil {
		return xerrors.New(xerrors.CodeNoPendingRecovery, "no recovery pending")
	}
	account.Recovery = nil
	return nil
}

// Evaluate implements plugin.Plugin by dispatching on the recovery action.
func (p *Plugin) Evaluate(ctx *plugin.EvalContext) error {
	if ctx == nil || ctx.Request == nil || ctx.Account == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "evaluation context is incomplete")
	}
	switch ctx.Request.Action {
	case wallet.ActionRecoveryInitiate:
		return p.Initiate(ctx.Account, ctx.Caller, ctx.Request.Target, ctx.Now)
	case wallet.ActionRecoveryExecute:
		return p.Execute(ctx.Account, ctx.Caller, ctx.Now)
	case wallet.ActionRecoveryCancel:
		return p.Cancel(ctx.Account, ctx.Caller)
	default:
		return xerrors.Newf(xerrors.CodeInvalidInput, "%s is not a recovery action", ctx.Request.Action)
	}
}
