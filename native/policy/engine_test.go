package policy

import (
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
	"github.com/rikitrader/secure-mint-engine-sub001/native/timelock"
)

var (
	minterAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000000e01")
	governorAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000000e02")
	recipientAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000e03")
	blockedAddr   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000e04")
)

type mockLedger struct {
	supply  *big.Int
	mintErr error
}

func newMockLedger() *mockLedger { return &mockLedger{supply: big.NewInt(0)} }

func (m *mockLedger) Mint(_ ethcommon.Address, amount *big.Int) error {
	if m.mintErr != nil {
		return m.mintErr
	}
	m.supply.Add(m.supply, amount)
	return nil
}

func (m *mockLedger) TotalSupply() (*big.Int, error) {
	return new(big.Int).Set(m.supply), nil
}

type mockOracle struct {
	backing *big.Int
	err     error
	maxAge  time.Duration
}

func (m *mockOracle) VerifiedBacking() (*big.Int, error) {
	if m.err != nil {
		return nil, m.err
	}
	return new(big.Int).Set(m.backing), nil
}

func (m *mockOracle) CanMint(currentSupply, amount *big.Int) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	newSupply := new(big.Int).Add(currentSupply, amount)
	return newSupply.Cmp(m.backing) <= 0, nil
}

func (m *mockOracle) Healthy() bool { return m.err == nil }

func (m *mockOracle) SetMaxAge(maxAge time.Duration) error {
	m.maxAge = maxAge
	return nil
}

var errOracleDown = errors.New("oracle: insufficient attestations")

type testHarness struct {
	engine *Engine
	ledger *mockLedger
	oracle *mockOracle
	pauses *pause.Controller
	now    *time.Time
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	grants := access.NewGrants()
	grants.Grant(minterAddr, access.CapMint)
	grants.Grant(governorAddr, access.CapGuardian|access.CapGovernor)
	ledger := newMockLedger()
	oracle := &mockOracle{backing: big.NewInt(1_000_000)}
	pauses := pause.NewController(grants, pause.LevelSettlementGuard)
	pauses.SetOracleHealth(oracle.Healthy)
	engine, err := NewEngine(cfg, ledger, oracle, pauses, grants)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	now := time.Date(2026, time.May, 10, 0, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })
	return &testHarness{engine: engine, ledger: ledger, oracle: oracle, pauses: pauses, now: &now}
}

func defaultConfig() Config {
	return Config{
		GlobalSupplyCap: big.NewInt(1_000_000_000),
		EpochMintCap:    big.NewInt(10_000_000),
		EpochDuration:   24 * time.Hour,
		TimelockDelay:   48 * time.Hour,
	}
}

func TestEpochCapScenario(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.oracle.backing = big.NewInt(1_000_000_000)

	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(8_000_000)); err != nil {
		t.Fatalf("mint 8M: %v", err)
	}
	if got := h.engine.EpochMinted(); got.Cmp(big.NewInt(8_000_000)) != 0 {
		t.Fatalf("epochMinted = %s, want 8000000", got)
	}
	err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(3_000_000))
	if !errors.Is(err, ErrEpochCapExceeded) {
		t.Fatalf("expected ErrEpochCapExceeded, got %v", err)
	}
	if got := h.engine.EpochMinted(); got.Cmp(big.NewInt(8_000_000)) != 0 {
		t.Fatalf("failed mint mutated counter to %s", got)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(2_000_000)); err != nil {
		t.Fatalf("mint 2M: %v", err)
	}
	if got := h.engine.EpochMinted(); got.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("epochMinted = %s, want 10000000", got)
	}
	if got := h.engine.RemainingEpochMint(); got.Sign() != 0 {
		t.Fatalf("remaining = %s, want 0", got)
	}
}

func TestEpochRollsAtBoundary(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.oracle.backing = big.NewInt(1_000_000_000)
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(1)); !errors.Is(err, ErrEpochCapExceeded) {
		t.Fatalf("expected cap exhaustion, got %v", err)
	}
	*h.now = h.now.Add(24 * time.Hour)
	if got := h.engine.RemainingEpochMint(); got.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("remaining after lapse = %s, want full cap", got)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("mint in fresh epoch: %v", err)
	}
	if got := h.engine.EpochMinted(); got.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("epochMinted = %s, want reset then 5000000", got)
	}
}

func TestGlobalCapAndBacking(t *testing.T) {
	cfg := defaultConfig()
	cfg.GlobalSupplyCap = big.NewInt(500)
	cfg.EpochMintCap = big.NewInt(1_000)
	h := newHarness(t, cfg)
	h.oracle.backing = big.NewInt(400)

	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(501)); !errors.Is(err, ErrGlobalCapExceeded) {
		t.Fatalf("expected ErrGlobalCapExceeded, got %v", err)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(450)); !errors.Is(err, ErrInsufficientBacking) {
		t.Fatalf("expected ErrInsufficientBacking, got %v", err)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(400)); err != nil {
		t.Fatalf("mint within backing: %v", err)
	}
	if h.ledger.supply.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("supply = %s, want 400", h.ledger.supply)
	}
}

func TestDegenerateInputs(t *testing.T) {
	h := newHarness(t, defaultConfig())
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := h.engine.Mint(minterAddr, ethcommon.Address{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := h.engine.Mint(recipientAddr, recipientAddr, big.NewInt(1)); !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestUnhealthyOracleAutoPauses(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.oracle.err = errOracleDown

	err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(1_000))
	if !errors.Is(err, errOracleDown) {
		t.Fatalf("expected oracle error, got %v", err)
	}
	if got := h.pauses.Level(); got != pause.LevelIssuancePaused {
		t.Fatalf("pause level = %s, want issuance_paused after auto escalation", got)
	}
	if !h.pauses.OracleTriggered() {
		t.Fatalf("escalation must be marked oracle-triggered")
	}

	// Subsequent mints fail fast at the pause gate without reaching the oracle.
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(1)); !errors.Is(err, pause.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}

	// Resume is blocked until the oracle recovers.
	if err := h.pauses.Resume(governorAddr, pause.LevelNormal, ""); !errors.Is(err, pause.ErrOracleUnhealthy) {
		t.Fatalf("expected resume gate, got %v", err)
	}
	h.oracle.err = nil
	if err := h.pauses.Resume(governorAddr, pause.LevelNormal, "recovered"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint after recovery: %v", err)
	}
}

func TestSanctionedRecipientDenied(t *testing.T) {
	h := newHarness(t, defaultConfig())
	checker, err := SanctionsConfig{DenyList: []string{blockedAddr.Hex()}}.Checker()
	if err != nil {
		t.Fatalf("build checker: %v", err)
	}
	h.engine.SetSanctionsChecker(checker, nil)

	if err := h.engine.Mint(minterAddr, blockedAddr, big.NewInt(100)); !errors.Is(err, ErrSanctioned) {
		t.Fatalf("expected ErrSanctioned, got %v", err)
	}
	if err := h.engine.Mint(minterAddr, recipientAddr, big.NewInt(100)); err != nil {
		t.Fatalf("clean recipient denied: %v", err)
	}
}

func TestEpochCapTimelock(t *testing.T) {
	h := newHarness(t, defaultConfig())
	newCap := big.NewInt(20_000_000)
	if err := h.engine.ProposeEpochCap(minterAddr, newCap); !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("minter must not propose, got %v", err)
	}
	if err := h.engine.ProposeEpochCap(governorAddr, newCap); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := h.engine.ExecuteEpochCap(governorAddr); !errors.Is(err, timelock.ErrTimelockNotReady) {
		t.Fatalf("expected ErrTimelockNotReady, got %v", err)
	}
	*h.now = h.now.Add(48 * time.Hour)
	if err := h.engine.ExecuteEpochCap(governorAddr); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := h.engine.EpochMintCap(); got.Cmp(newCap) != 0 {
		t.Fatalf("cap = %s, want %s", got, newCap)
	}
}

func TestCancelledChangeNeverApplies(t *testing.T) {
	h := newHarness(t, defaultConfig())
	if err := h.engine.ProposeMaxOracleAge(governorAddr, 10*time.Minute); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := h.engine.ProposeMaxOracleAge(governorAddr, 5*time.Minute); !errors.Is(err, timelock.ErrChangeAlreadyPending) {
		t.Fatalf("expected ErrChangeAlreadyPending, got %v", err)
	}
	if err := h.engine.CancelMaxOracleAge(governorAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	*h.now = h.now.Add(72 * time.Hour)
	if err := h.engine.ExecuteMaxOracleAge(governorAddr); !errors.Is(err, timelock.ErrNoPendingChange) {
		t.Fatalf("expected ErrNoPendingChange, got %v", err)
	}
	if h.oracle.maxAge != 0 {
		t.Fatalf("cancelled change leaked into oracle: %s", h.oracle.maxAge)
	}
}

func TestValidateMintBatch(t *testing.T) {
	cfg := defaultConfig()
	cfg.EpochMintCap = big.NewInt(1_000)
	h := newHarness(t, cfg)
	h.oracle.backing = big.NewInt(10_000)

	results := h.engine.ValidateMintBatch([]MintRequest{
		{Recipient: recipientAddr, Amount: big.NewInt(600)},
		{Recipient: ethcommon.Address{}, Amount: big.NewInt(10)},
		{Recipient: recipientAddr, Amount: big.NewInt(500)},
		{Recipient: recipientAddr, Amount: big.NewInt(400)},
	})
	if results[0] != nil {
		t.Fatalf("request 0 should pass, got %v", results[0])
	}
	if !errors.Is(results[1], ErrZeroAddress) {
		t.Fatalf("request 1 expected ErrZeroAddress, got %v", results[1])
	}
	if !errors.Is(results[2], ErrEpochCapExceeded) {
		t.Fatalf("request 2 expected ErrEpochCapExceeded, got %v", results[2])
	}
	if results[3] != nil {
		t.Fatalf("request 3 should fit remaining headroom, got %v", results[3])
	}
	// Pre-flight must not mutate anything.
	if got := h.engine.EpochMinted(); got.Sign() != 0 {
		t.Fatalf("batch validation mutated counter to %s", got)
	}
}
