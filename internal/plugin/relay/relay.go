// Package relay implements the relayed-execution verifier.
package relay

import (
	"bytes"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/wallet"
)

// ExecTransactionSignature is the account's meta-transaction entry point.
const ExecTransactionSignature = "execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)"

// DefaultMethod is the selector of ExecTransactionSignature, 0x6a761202.
var DefaultMethod = SelectorOf(ExecTransactionSignature)

var constructorArgs = abi.Arguments{
	{Name: "trustedOrigin", Type: mustType("address")},
	{Name: "relayMethod", Type: mustType("bytes4")},
}

func mustType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// SelectorOf returns the first four bytes of keccak256(signature).
func SelectorOf(signature string) wallet.Selector {
	var sel wallet.Selector
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// Config is the immutable relay configuration. A zero TrustedOrigin is the
// sentinel for "no origin check".
type Config struct {
	TrustedOrigin common.Address
	Method        wallet.Selector
}

// Kind implements plugin.Config.
func (Config) Kind() plugin.Kind { return plugin.KindRelay }

// ConstructorArgs implements plugin.Config.
func (c Config) ConstructorArgs() ([]byte, error) {
	return constructorArgs.Pack(c.TrustedOrigin, [4]byte(c.Method))
}

// DecodeConfig parses constructor arguments produced by ConstructorArgs.
func DecodeConfig(raw []byte) (Config, error) {
	values, err := constructorArgs.Unpack(raw)
	if err != nil {
		return Config{}, xerrors.Wrap(xerrors.CodeConfigurationError, err, "decode relay constructor args")
	}
	origin, ok := values[0].(common.Address)
	if !ok {
		return Config{}, xerrors.New(xerrors.CodeConfigurationError, "relay trusted origin is not an address")
	}
	method, ok := values[1].([4]byte)
	if !ok {
		return Config{}, xerrors.New(xerrors.CodeConfigurationError, "relay method is not bytes4")
	}
	return Config{TrustedOrigin: origin, Method: wallet.Selector(method)}, nil
}

// Permissive reports whether origin checking is bypassed.
func (c Config) Permissive() bool {
	return c.TrustedOrigin == (common.Address{})
}

// Plugin verifies that a relayed call is structurally and provenance valid.
// It never changes account state.
type Plugin struct {
	cfg Config
}

// New constructs a relay plugin. A permissive configuration is accepted but
// logged, so the trade-off is visible wherever the plugin is built.
func New(cfg Config, logger *slog.Logger) (*Plugin, error) {
	if cfg.Method == (wallet.Selector{}) {
		return nil, xerrors.New(xerrors.CodeConfigurationError, "relay method selector cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Permissive() {
		logger.Warn("relay plugin has no trusted origin; any relayer may submit transactions",
			slog.String("method", cfg.Method.Hex()))
	}
	return &Plugin{cfg: cfg}, nil
}

// Factory adapts New to plugin.Factory.
func Factory(logger *slog.Logger) plugin.Factory {
	return func(cfg plugin.Config) (plugin.Plugin, error) {
		c, ok := cfg.(Config)
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeConfigurationError, "relay factory received %T", cfg)
		}
		return New(c, logger)
	}
}

// Info implements plugin.Plugin.
func (p *Plugin) Info() plugin.Info {
	desc := "relay with trusted origin " + p.cfg.TrustedOrigin.Hex()
	if p.cfg.Permissive() {
		desc = "relay accepting any origin"
	}
	return plugin.Info{
		Kind:        plugin.KindRelay,
		Name:        plugin.KindRelay.ContractName(),
		Description: desc,
		Version:     "1.0.0",
		Permissive:  p.cfg.Permissive(),
	}
}

// Config implements plugin.Plugin.
func (p *Plugin) Config() plugin.Config { return p.cfg }

// Verify checks the method discriminant first, then the asserted origin.
func (p *Plugin) Verify(req *wallet.Request) error {
	if req == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "request is nil")
	}
	if !bytes.Equal(req.Method[:], p.cfg.Method[:]) {
		return xerrors.Newf(xerrors.CodeUnsupportedEntryPoint, "method %s is not the relay entry point %s", req.Method.Hex(), p.cfg.Method.Hex())
	}
	if p.cfg.Permissive() {
		return nil
	}
	if req.Origin == nil || *req.Origin != p.cfg.TrustedOrigin {
		origin := "none"
		if req.Origin != nil {
			origin = req.Origin.Hex()
		}
		return xerrors.Newf(xerrors.CodeUntrustedOrigin, "origin %s is not trusted", origin)
	}
	return nil
}

// Evaluate implements plugin.Plugin.
func (p *Plugin) Evaluate(ctx *plugin.EvalContext) error {
	if ctx == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "evaluation context is nil")
	}
	return p.Verify(ctx.Request)
}
