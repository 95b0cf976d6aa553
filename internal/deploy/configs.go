package deploy

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/plugin/recovery"
	"WalletPlugins/internal/plugin/relay"
	"WalletPlugins/internal/plugin/whitelist"
	"WalletPlugins/internal/wallet"
)

// NewLoader returns a loader that knows every plugin kind.
func NewLoader(logger *slog.Logger) *plugin.KindLoader {
	loader := plugin.NewKindLoader()
	loader.Register(plugin.KindRelay, relay.Factory(logger))
	loader.Register(plugin.KindWhitelist, whitelist.Factory())
	loader.Register(plugin.KindRecoveryWithDelay, recovery.Factory())
	return loader
}

// DecodeConfig rebuilds a plugin configuration from a deployment record.
func DecodeConfig(kind plugin.Kind, args []byte) (plugin.Config, error) {
	switch kind {
	case plugin.KindRelay:
		return relay.DecodeConfig(args)
	case plugin.KindWhitelist:
		return whitelist.Config{}, nil
	case plugin.KindRecoveryWithDelay:
		return recovery.DecodeConfig(args)
	default:
		return nil, xerrors.Newf(xerrors.CodeConfigurationError, "unknown plugin kind %s", kind)
	}
}

// Configs derives one configuration per kind from the manifest, the same
// three constructions the deployment script performs.
func Configs(m plugin.Manifest) map[plugin.Kind]plugin.Config {
	method := relay.DefaultMethod
	if m.Relay.Method != "" {
		method, _ = wallet.SelectorFromBytes(common.FromHex(m.Relay.Method))
	}
	configs := map[plugin.Kind]plugin.Config{
		plugin.KindRelay:     relay.Config{TrustedOrigin: m.TrustedOrigin(), Method: method},
		plugin.KindWhitelist: whitelist.Config{},
	}
	if common.IsHexAddress(m.Recovery.Recoverer) {
		delay := m.Recovery.Delay
		if delay == 0 {
			delay = recovery.DefaultDelay
		}
		configs[plugin.KindRecoveryWithDelay] = recovery.Config{
			Recoverer: common.HexToAddress(m.Recovery.Recoverer),
			Delay:     delay,
		}
	}
	return configs
}
