package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
relay:
  trustedOrigin: ""
  method: "0x6a761202"
recovery:
  recoverer: "0x00000000000000000000000000000000000000cc"
  delay: 24h
policy:
  allowPermissiveRelay: true
accounts:
  "0x0000000000000000000000000000000000000001":
    owners: ["0x00000000000000000000000000000000000000a1"]
    plugins: [relay, whitelist, recovery]
    whitelist: ["0x00000000000000000000000000000000000000d1"]
    policy:
      allowPermissiveRelay: false
`

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, m.TrustedOrigin())
	require.Equal(t, 24*time.Hour, m.Recovery.Delay)
	require.True(t, m.Policy.AllowPermissiveRelay)

	acc, ok := m.Accounts["0x0000000000000000000000000000000000000001"]
	require.True(t, ok)
	require.Equal(t, []Kind{KindRelay, KindWhitelist, KindRecoveryWithDelay}, acc.Plugins)
	require.Equal(t, []common.Address{common.HexToAddress("0xd1")}, Addresses(acc.Whitelist))
	require.NotNil(t, acc.Policy)
	require.False(t, acc.Policy.AllowPermissiveRelay)
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad origin":   "relay:\n  trustedOrigin: nope\n",
		"bad method":   "relay:\n  method: \"0x1234\"\n",
		"no owners":    "accounts:\n  \"0x0000000000000000000000000000000000000001\": {}\n",
		"bad kind":     "accounts:\n  \"0x0000000000000000000000000000000000000001\":\n    owners: [\"0x00000000000000000000000000000000000000a1\"]\n    plugins: [timelock]\n",
		"no recoverer": "accounts:\n  \"0x0000000000000000000000000000000000000001\":\n    owners: [\"0x00000000000000000000000000000000000000a1\"]\n    plugins: [recovery]\n",
	}
	for name, doc := range cases {
		_, err := ParseManifest([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestLoadManifestEmptyPath(t *testing.T) {
	_, err := LoadManifest(" ")
	require.Error(t, err)
}
