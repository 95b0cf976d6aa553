package plugin

import (
	"fmt"
	"strings"
)

// Kind identifies an authorization policy. The set is closed.
type Kind string

const (
	// KindRelay authenticates relayed meta-transactions.
	KindRelay Kind = "relay"
	// KindWhitelist restricts call destinations.
	KindWhitelist Kind = "whitelist"
	// KindRecoveryWithDelay lets a recoverer replace the owner after a delay.
	KindRecoveryWithDelay Kind = "recovery_with_delay"
)

// Kinds lists every policy kind in router evaluation order.
var Kinds = []Kind{KindRelay, KindWhitelist, KindRecoveryWithDelay}

// ParseKind accepts the canonical names plus the contract names used by the
// deployment artifacts.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "relay", "relayplugin":
		return KindRelay, nil
	case "whitelist", "whitelistplugin":
		return KindWhitelist, nil
	case "recovery_with_delay", "recovery", "recoverywithdelayplugin":
		return KindRecoveryWithDelay, nil
	default:
		return "", fmt.Errorf("unknown plugin kind %q", raw)
	}
}

// ContractName returns the artifact name the kind is deployed from.
func (k Kind) ContractName() string {
	switch k {
	case KindRelay:
		return "RelayPlugin"
	case KindWhitelist:
		return "WhitelistPlugin"
	case KindRecoveryWithDelay:
		return "RecoveryWithDelayPlugin"
	default:
		return string(k)
	}
}

// Info contains descriptive metadata for a plugin instance.
type Info struct {
	Kind        Kind
	Name        string
	Description string
	Version     string
	// Permissive is set when the instance deliberately skips a check it could
	// perform, e.g. a relay without a trusted origin.
	Permissive bool
}

// State is the installation state of a registry entry.
type State string

const (
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)
