package treasury

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/timelock"
)

var (
	treasurerAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000d01")
	guardAddr     = ethcommon.HexToAddress("0x0000000000000000000000000000000000000d02")
	governAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000000d03")
	recipientAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000d04")
)

var defaultAllocation = Allocation{2_000, 3_000, 4_000, 1_000}

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	grants := access.NewGrants()
	grants.Grant(treasurerAddr, access.CapTreasury)
	grants.Grant(guardAddr, access.CapGuardian)
	grants.Grant(governAddr, access.CapGovernor)
	mgr, err := NewManager(grants, defaultAllocation, 500, 48*time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	now := time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	mgr.SetClock(func() time.Time { return now })
	return mgr, &now
}

func assertConserved(t *testing.T, mgr *Manager) {
	t.Helper()
	snap := mgr.Snapshot()
	sum := big.NewInt(0)
	for _, balance := range snap.Balances {
		sum.Add(sum, balance)
	}
	if sum.Cmp(snap.TotalReserves) != 0 {
		t.Fatalf("tier sum %s != total reserves %s", sum, snap.TotalReserves)
	}
}

func TestDepositWithdrawConservation(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.Deposit(treasurerAddr, TierHot, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mgr.Deposit(treasurerAddr, TierCold, big.NewInt(4_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	assertConserved(t, mgr)

	if err := mgr.Withdraw(treasurerAddr, recipientAddr, TierCold, big.NewInt(500), "ops"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertConserved(t, mgr)

	// No cross-tier borrowing on a normal withdrawal.
	err := mgr.Withdraw(treasurerAddr, recipientAddr, TierHot, big.NewInt(2_000), "ops")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := mgr.TotalReserves(); got.Cmp(big.NewInt(4_500)) != 0 {
		t.Fatalf("total = %s, want 4500 untouched by failed withdrawal", got)
	}
}

func TestDepositDistributedExactTotal(t *testing.T) {
	mgr, _ := newTestManager(t)
	// 1003 does not divide evenly by the 20/30/40/10 split; the remainder
	// must land in the first tier so the total grows by exactly 1003.
	if err := mgr.DepositDistributed(treasurerAddr, big.NewInt(1_003)); err != nil {
		t.Fatalf("deposit distributed: %v", err)
	}
	if got := mgr.TotalReserves(); got.Cmp(big.NewInt(1_003)) != 0 {
		t.Fatalf("total = %s, want 1003", got)
	}
	assertConserved(t, mgr)
	warm, _ := mgr.TierBalance(TierWarm)
	if warm.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("warm = %s, want floor share 300", warm)
	}
	cold, _ := mgr.TierBalance(TierCold)
	if cold.Cmp(big.NewInt(401)) != 0 {
		t.Fatalf("cold = %s, want floor share 401", cold)
	}
	// Floor shares 300+401+100 leave 202 for HOT (200 plus remainder 2).
	hot, _ := mgr.TierBalance(TierHot)
	if hot.Cmp(big.NewInt(202)) != 0 {
		t.Fatalf("hot = %s, want share plus remainder 202", hot)
	}
}

func TestTransferBetweenTiersKeepsTotal(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.Deposit(treasurerAddr, TierHot, big.NewInt(900)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mgr.TransferBetweenTiers(treasurerAddr, TierHot, TierRWA, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mgr.TotalReserves(); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("total = %s, want 900", got)
	}
	assertConserved(t, mgr)
	if err := mgr.TransferBetweenTiers(treasurerAddr, TierHot, TierHot, big.NewInt(1)); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier for self-transfer, got %v", err)
	}
}

func TestRebalanceReconcilesToTargets(t *testing.T) {
	mgr, _ := newTestManager(t)
	// Everything in HOT: wildly off the 20/30/40/10 target.
	if err := mgr.Deposit(treasurerAddr, TierHot, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !mgr.NeedsRebalancing() {
		t.Fatalf("expected rebalance needed")
	}
	if err := mgr.Rebalance(treasurerAddr); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	assertConserved(t, mgr)
	if got := mgr.TotalReserves(); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("rebalance changed total to %s", got)
	}
	want := [...]int64{2_000, 3_000, 4_000, 1_000}
	for i := TierHot; i < tierCount; i++ {
		balance, _ := mgr.TierBalance(i)
		if balance.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("tier %s = %s, want %d", i, balance, want[i])
		}
	}
	if mgr.NeedsRebalancing() {
		t.Fatalf("still needs rebalancing after full reconciliation")
	}
}

func TestEmergencyWithdrawDrainsInIndexOrder(t *testing.T) {
	mgr, _ := newTestManager(t)
	for tier, amount := range map[Tier]int64{TierHot: 100, TierWarm: 200, TierCold: 700} {
		if err := mgr.Deposit(treasurerAddr, tier, big.NewInt(amount)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	if err := mgr.EmergencyWithdraw(treasurerAddr, recipientAddr, big.NewInt(250), "incident"); !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("treasurer must not emergency-withdraw, got %v", err)
	}
	if err := mgr.EmergencyWithdraw(guardAddr, recipientAddr, big.NewInt(250), "incident"); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	// HOT fully drained, WARM absorbs the rest, COLD untouched.
	hot, _ := mgr.TierBalance(TierHot)
	warm, _ := mgr.TierBalance(TierWarm)
	cold, _ := mgr.TierBalance(TierCold)
	if hot.Sign() != 0 || warm.Cmp(big.NewInt(50)) != 0 || cold.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("drain order wrong: hot=%s warm=%s cold=%s", hot, warm, cold)
	}
	assertConserved(t, mgr)

	err := mgr.EmergencyWithdraw(guardAddr, recipientAddr, big.NewInt(10_000), "incident")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestEmergencyWithdrawSpansDrainedTiers(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.Deposit(treasurerAddr, TierHot, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mgr.Deposit(treasurerAddr, TierWarm, big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Draining HOT to zero must still charge the remainder to WARM only once.
	if err := mgr.EmergencyWithdraw(guardAddr, recipientAddr, big.NewInt(120), "incident"); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	hot, _ := mgr.TierBalance(TierHot)
	warm, _ := mgr.TierBalance(TierWarm)
	if hot.Sign() != 0 || warm.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("drain across tiers wrong: hot=%s warm=%s", hot, warm)
	}
	if got := mgr.TotalReserves(); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("total = %s, want 30", got)
	}
	assertConserved(t, mgr)
}

type recordingTransfer struct {
	to     []ethcommon.Address
	amount []*big.Int
	reason []string
	err    error
}

func (r *recordingTransfer) TransferReserve(to ethcommon.Address, amount *big.Int, reason string) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	r.amount = append(r.amount, new(big.Int).Set(amount))
	r.reason = append(r.reason, reason)
	return nil
}

func TestWithdrawInvokesReserveTransfer(t *testing.T) {
	mgr, _ := newTestManager(t)
	mover := &recordingTransfer{}
	mgr.SetTransfer(mover)
	if err := mgr.Deposit(treasurerAddr, TierHot, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mgr.Withdraw(treasurerAddr, recipientAddr, TierHot, big.NewInt(400), "ops"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(mover.to) != 1 || mover.to[0] != recipientAddr || mover.amount[0].Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("transfer calls = %v %v", mover.to, mover.amount)
	}
	if err := mgr.EmergencyWithdraw(guardAddr, recipientAddr, big.NewInt(100), "incident"); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if len(mover.to) != 2 || mover.reason[1] != "incident" {
		t.Fatalf("emergency transfer not recorded: %v %v", mover.to, mover.reason)
	}
	assertConserved(t, mgr)
}

func TestFailedReserveTransferAbortsWithdrawal(t *testing.T) {
	mgr, _ := newTestManager(t)
	mover := &recordingTransfer{err: errors.New("custodian offline")}
	mgr.SetTransfer(mover)
	if err := mgr.Deposit(treasurerAddr, TierHot, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mgr.Withdraw(treasurerAddr, recipientAddr, TierHot, big.NewInt(400), "ops"); err == nil {
		t.Fatalf("expected withdraw to fail with transfer down")
	}
	hot, _ := mgr.TierBalance(TierHot)
	if hot.Cmp(big.NewInt(1_000)) != 0 || mgr.TotalReserves().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("failed transfer mutated balances: hot=%s total=%s", hot, mgr.TotalReserves())
	}
	if err := mgr.EmergencyWithdraw(guardAddr, recipientAddr, big.NewInt(100), "incident"); err == nil {
		t.Fatalf("expected emergency withdraw to fail with transfer down")
	}
	assertConserved(t, mgr)
}

func TestAllocationTimelock(t *testing.T) {
	mgr, now := newTestManager(t)
	bad := Allocation{5_000, 5_000, 100, 0}
	if err := mgr.ProposeAllocation(governAddr, bad); !errors.Is(err, ErrAllocationSum) {
		t.Fatalf("expected ErrAllocationSum, got %v", err)
	}
	next := Allocation{1_000, 2_000, 6_000, 1_000}
	if err := mgr.ProposeAllocation(governAddr, next); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := mgr.ExecuteAllocation(governAddr); !errors.Is(err, timelock.ErrTimelockNotReady) {
		t.Fatalf("expected ErrTimelockNotReady, got %v", err)
	}
	*now = now.Add(48 * time.Hour)
	applied, err := mgr.ExecuteAllocation(governAddr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if applied != next || mgr.Allocation() != next {
		t.Fatalf("allocation = %v, want %v", mgr.Allocation(), next)
	}
	if err := mgr.CancelAllocation(governAddr); !errors.Is(err, timelock.ErrNoPendingChange) {
		t.Fatalf("expected ErrNoPendingChange, got %v", err)
	}
}

func TestAttestationCSV(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.Deposit(treasurerAddr, TierWarm, big.NewInt(1_234)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	csv := mgr.AttestationCSV()
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header plus four tiers, got %d lines", len(lines))
	}
	if lines[0] != strings.Join(AttestationCSVHeader, ",") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "WARM,1234,3000,1234,") {
		t.Fatalf("unexpected WARM row %q", lines[2])
	}
}
