// Package whitelist restricts account calls to approved destinations.
package whitelist

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/wallet"
)

// Config has no construction parameters. The approved set lives on the
// account record.
type Config struct{}

// Kind implements plugin.Config.
func (Config) Kind() plugin.Kind { return plugin.KindWhitelist }

// ConstructorArgs implements plugin.Config.
func (Config) ConstructorArgs() ([]byte, error) { return nil, nil }

// Plugin checks call destinations and applies whitelist edits.
type Plugin struct{}

// New returns a whitelist plugin.
func New() *Plugin { return &Plugin{} }

// Factory adapts New to plugin.Factory.
func Factory() plugin.Factory {
	return func(cfg plugin.Config) (plugin.Plugin, error) {
		if _, ok := cfg.(Config); !ok {
			return nil, xerrors.Newf(xerrors.CodeConfigurationError, "whitelist factory received %T", cfg)
		}
		return New(), nil
	}
}

// Info implements plugin.Plugin.
func (*Plugin) Info() plugin.Info {
	return plugin.Info{
		Kind:        plugin.KindWhitelist,
		Name:        plugin.KindWhitelist.ContractName(),
		Description: "restricts call destinations to an owner-managed list",
		Version:     "1.0.0",
	}
}

// Config implements plugin.Plugin.
func (*Plugin) Config() plugin.Config { return Config{} }

// IsApproved reports whether destination is on the account whitelist. An
// empty whitelist approves nothing.
func IsApproved(account *wallet.Account, destination common.Address) bool {
	return account.Approved(destination)
}

// Add approves destination. Adding an approved address is a no-op.
func Add(account *wallet.Account, destination common.Address) error {
	if account == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "account is nil")
	}
	if destination == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidInput, "cannot whitelist the zero address")
	}
	if account.Whitelist == nil {
		account.Whitelist = make(map[common.Address]struct{})
	}
	account.Whitelist[destination] = struct{}{}
	return nil
}

// Remove withdraws destination. Removing an absent address is a no-op.
func Remove(account *wallet.Account, destination common.Address) error {
	if account == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "account is nil")
	}
	delete(account.Whitelist, destination)
	return nil
}

// Evaluate implements plugin.Plugin. The router only calls it once the caller
// is known to be an owner.
func (*Plugin) Evaluate(ctx *plugin.EvalContext) error {
	if ctx == nil || ctx.Request == nil || ctx.Account == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "evaluation context is incomplete")
	}
	req := ctx.Request
	switch req.Action {
	case wallet.ActionWhitelistAdd:
		return Add(ctx.Account, req.Target)
	case wallet.ActionWhitelistRemove:
		return Remove(ctx.Account, req.Target)
	case wallet.ActionCall:
		if !IsApproved(ctx.Account, req.Target) {
			return xerrors.Newf(xerrors.CodeDestinationNotWhitelisted, "destination %s is not whitelisted", req.Target.Hex())
		}
		return nil
	default:
		return nil
	}
}
