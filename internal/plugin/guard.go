package plugin

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"

	xerrors "WalletPlugins/internal/errors"
)

// Guard decides whether a plugin may be installed on an account. It is the
// deployment-time checkpoint that makes permissive configurations explicit.
type Guard interface {
	Validate(account common.Address, info Info) error
}

// InstallPolicy governs which plugins an account accepts.
type InstallPolicy struct {
	AllowedKinds []Kind `yaml:"allowedKinds"`
	DeniedKinds  []Kind `yaml:"deniedKinds"`
	// AllowPermissiveRelay must be true to install a relay plugin that skips
	// the trusted-origin check.
	AllowPermissiveRelay bool `yaml:"allowPermissiveRelay"`
}

// Merge returns a new policy using values from other when not present.
func (p InstallPolicy) Merge(other InstallPolicy) InstallPolicy {
	if len(p.AllowedKinds) == 0 {
		p.AllowedKinds = other.AllowedKinds
	}
	if len(p.DeniedKinds) == 0 {
		p.DeniedKinds = other.DeniedKinds
	}
	return p
}

// PolicyGuard enforces a default policy with per-account overrides.
type PolicyGuard struct {
	defaults  InstallPolicy
	overrides map[common.Address]InstallPolicy
}

// NewGuard returns a guard enforcing defaults for every account.
func NewGuard(defaults InstallPolicy) *PolicyGuard {
	return &PolicyGuard{defaults: defaults, overrides: make(map[common.Address]InstallPolicy)}
}

// Override sets the policy of one account, merged over the defaults.
func (g *PolicyGuard) Override(account common.Address, policy InstallPolicy) {
	g.overrides[account] = policy.Merge(g.defaults)
}

// PolicyFor returns the effective policy for account.
func (g *PolicyGuard) PolicyFor(account common.Address) InstallPolicy {
	if policy, ok := g.overrides[account]; ok {
		return policy
	}
	return g.defaults
}

// Validate implements Guard.
func (g *PolicyGuard) Validate(account common.Address, info Info) error {
	policy := g.PolicyFor(account)
	if slices.Contains(policy.DeniedKinds, info.Kind) {
		return xerrors.Newf(xerrors.CodeConfigurationError, "plugin kind %s is denied for %s", info.Kind, account.Hex())
	}
	if len(policy.AllowedKinds) > 0 && !slices.Contains(policy.AllowedKinds, info.Kind) {
		return xerrors.Newf(xerrors.CodeConfigurationError, "plugin kind %s is not allowed for %s", info.Kind, account.Hex())
	}
	if info.Kind == KindRelay && info.Permissive && !policy.AllowPermissiveRelay {
		return xerrors.Newf(xerrors.CodeConfigurationError, "relay without trusted origin is not allowed for %s", account.Hex())
	}
	return nil
}
