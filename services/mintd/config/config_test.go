package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
)

func attestorTestAddr(hex string) ethcommon.Address {
	return ethcommon.HexToAddress(hex)
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "mintd.yaml", `
listen: ""
auth:
  jwt_secret: test-secret
policy:
  global_supply_cap: "1000000000"
  epoch_mint_cap: "10000000"
redemption:
  min_redemption: "100"
  daily_limit: "10000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, time.Hour, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, 48*time.Hour, cfg.Policy.TimelockDelay.Duration)
	require.Equal(t, []uint64{2_000, 3_000, 4_000, 1_000}, cfg.Treasury.AllocationBps)
	require.Equal(t, 0, cfg.Policy.GlobalSupplyCap.Cmp(big.NewInt(1_000_000_000)))
	require.Equal(t, 3, cfg.Pause.GuardianCeiling)
}

func TestLoadRejectsBadAllocation(t *testing.T) {
	path := writeFile(t, "mintd.yaml", `
auth:
  jwt_secret: test-secret
policy:
  global_supply_cap: "1000"
  epoch_mint_cap: "100"
redemption:
  min_redemption: "1"
  daily_limit: "10"
treasury:
  allocation_bps: [5000, 5000, 100, 0]
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "sum to 10000")
}

func TestLoadRequiresCaps(t *testing.T) {
	path := writeFile(t, "mintd.yaml", `
auth:
  jwt_secret: test-secret
redemption:
  min_redemption: "1"
  daily_limit: "10"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "global supply cap")
}

func TestGuardrailsRoundTrip(t *testing.T) {
	path := writeFile(t, "guardrails.toml", `
attestors = ["0x00000000000000000000000000000000000000A1"]

[sanctions]
DenyList = ["0x00000000000000000000000000000000000000B2"]

[[grants]]
address = "0x00000000000000000000000000000000000000C3"
capabilities = ["mint", "treasury"]
`)
	rails, err := LoadGuardrails(path)
	require.NoError(t, err)

	attestors, err := rails.AttestorAddresses()
	require.NoError(t, err)
	require.Len(t, attestors, 1)

	grants, err := rails.BuildGrants()
	require.NoError(t, err)
	held := grants.Held(attestorTestAddr("0x00000000000000000000000000000000000000C3"))
	require.True(t, held.Has(access.CapMint))
	require.True(t, held.Has(access.CapTreasury))
	require.False(t, held.Has(access.CapGovernor))

	checker, err := rails.Sanctions.Checker()
	require.NoError(t, err)
	require.False(t, checker(attestorTestAddr("0x00000000000000000000000000000000000000B2")))
	require.True(t, checker(attestorTestAddr("0x00000000000000000000000000000000000000C3")))
}

func TestGuardrailsMissingPathIsEmpty(t *testing.T) {
	rails, err := LoadGuardrails("")
	require.NoError(t, err)
	require.Empty(t, rails.Attestors)
	require.Empty(t, rails.Grants)
}
