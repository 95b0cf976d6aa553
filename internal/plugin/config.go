package plugin

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Manifest describes which plugins to deploy and which accounts to
// provision with them.
type Manifest struct {
	Relay    RelaySection              `yaml:"relay"`
	Recovery RecoverySection           `yaml:"recovery"`
	Policy   InstallPolicy             `yaml:"policy"`
	Accounts map[string]AccountSection `yaml:"accounts"`
}

// RelaySection configures the relay plugin. An empty trusted origin selects
// the permissive mode where any relayer is accepted.
type RelaySection struct {
	TrustedOrigin string `yaml:"trustedOrigin"`
	Method        string `yaml:"method"`
}

// RecoverySection configures the recovery plugin.
type RecoverySection struct {
	Recoverer string        `yaml:"recoverer"`
	Delay     time.Duration `yaml:"delay"`
}

// AccountSection provisions one account.
type AccountSection struct {
	Owners    []string       `yaml:"owners"`
	Plugins   []Kind         `yaml:"plugins"`
	Whitelist []string       `yaml:"whitelist"`
	Policy    *InstallPolicy `yaml:"policy"`
}

// LoadManifest reads a YAML file into a Manifest.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	if strings.TrimSpace(path) == "" {
		return m, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read plugin manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("unmarshal plugin manifest: %w", err)
	}
	if m.Accounts == nil {
		m.Accounts = map[string]AccountSection{}
	}
	for addr, acc := range m.Accounts {
		for i, kind := range acc.Plugins {
			if canonical, err := ParseKind(string(kind)); err == nil {
				acc.Plugins[i] = canonical
			}
		}
		m.Accounts[addr] = acc
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate ensures the manifest is internally consistent.
func (m Manifest) Validate() error {
	if m.Relay.TrustedOrigin != "" && !common.IsHexAddress(m.Relay.TrustedOrigin) {
		return fmt.Errorf("relay trusted origin %q is not an address", m.Relay.TrustedOrigin)
	}
	if m.Relay.Method != "" {
		sel := common.FromHex(m.Relay.Method)
		if len(sel) != 4 {
			return fmt.Errorf("relay method %q must be 4 bytes", m.Relay.Method)
		}
	}
	if m.Recovery.Delay < 0 {
		return errors.New("recovery delay cannot be negative")
	}
	for addr, acc := range m.Accounts {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("account %q is not an address", addr)
		}
		if len(acc.Owners) == 0 {
			return fmt.Errorf("account %s needs at least one owner", addr)
		}
		for _, owner := range acc.Owners {
			if !common.IsHexAddress(owner) {
				return fmt.Errorf("account %s owner %q is not an address", addr, owner)
			}
		}
		for _, dest := range acc.Whitelist {
			if !common.IsHexAddress(dest) {
				return fmt.Errorf("account %s whitelist entry %q is not an address", addr, dest)
			}
		}
		for _, kind := range acc.Plugins {
			if _, err := ParseKind(string(kind)); err != nil {
				return fmt.Errorf("account %s: %w", addr, err)
			}
			if kind == KindRecoveryWithDelay && !common.IsHexAddress(m.Recovery.Recoverer) {
				return fmt.Errorf("account %s installs recovery but no recoverer is configured", addr)
			}
		}
	}
	return nil
}

// TrustedOrigin returns the configured origin or the zero sentinel.
func (m Manifest) TrustedOrigin() common.Address {
	if m.Relay.TrustedOrigin == "" {
		return common.Address{}
	}
	return common.HexToAddress(m.Relay.TrustedOrigin)
}

// Addresses converts hex strings that Validate already checked.
func Addresses(raw []string) []common.Address {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
