package redemption

import (
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
)

var (
	holderAddr   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000f01")
	otherHolder  = ethcommon.HexToAddress("0x0000000000000000000000000000000000000f02")
	guardianAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000f03")
)

type mockLedger struct {
	balances map[ethcommon.Address]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[ethcommon.Address]*big.Int)}
}

func (m *mockLedger) credit(addr ethcommon.Address, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockLedger) balance(addr ethcommon.Address) *big.Int {
	if bal := m.balances[addr]; bal != nil {
		return bal
	}
	return big.NewInt(0)
}

func (m *mockLedger) Burn(from ethcommon.Address, amount *big.Int) error {
	bal := m.balance(from)
	if bal.Cmp(amount) < 0 {
		return errors.New("ledger: insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(bal, amount)
	return nil
}

func (m *mockLedger) Mint(to ethcommon.Address, amount *big.Int) error {
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

type mockReserves struct {
	payouts map[ethcommon.Address]*big.Int
	err     error
}

func newMockReserves() *mockReserves {
	return &mockReserves{payouts: make(map[ethcommon.Address]*big.Int)}
}

func (m *mockReserves) WithdrawForRedemption(to ethcommon.Address, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	prior := m.payouts[to]
	if prior == nil {
		prior = big.NewInt(0)
	}
	m.payouts[to] = new(big.Int).Add(prior, amount)
	return nil
}

type harness struct {
	queue    *Queue
	ledger   *mockLedger
	reserves *mockReserves
	pauses   *pause.Controller
	now      *time.Time
}

func defaultQueueConfig() Config {
	return Config{
		MinRedemption:   big.NewInt(100),
		DailyLimit:      big.NewInt(10_000),
		RedemptionDelay: 72 * time.Hour,
		FeeBps:          25,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	grants := access.NewGrants()
	grants.Grant(guardianAddr, access.CapGuardian|access.CapGovernor)
	ledger := newMockLedger()
	ledger.credit(holderAddr, 100_000)
	ledger.credit(otherHolder, 100_000)
	reserves := newMockReserves()
	pauses := pause.NewController(grants, pause.LevelShutdown)
	queue, err := NewQueue(cfg, ledger, reserves, pauses)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	now := time.Date(2026, time.June, 1, 23, 0, 0, 0, time.UTC)
	queue.SetClock(func() time.Time { return now })
	return &harness{queue: queue, ledger: ledger, reserves: reserves, pauses: pauses, now: &now}
}

func TestRequestBurnsAndQueues(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	request, err := h.queue.Request(holderAddr, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := h.ledger.balance(holderAddr); got.Cmp(big.NewInt(96_000)) != 0 {
		t.Fatalf("balance = %s, want burned to 96000", got)
	}
	if want := h.now.Add(72 * time.Hour); !request.UnlockTime.Equal(want) {
		t.Fatalf("unlock = %s, want %s", request.UnlockTime, want)
	}
	if _, err := h.queue.Request(holderAddr, big.NewInt(500)); !errors.Is(err, ErrPendingRequestExists) {
		t.Fatalf("expected ErrPendingRequestExists, got %v", err)
	}
	if _, err := h.queue.Request(otherHolder, big.NewInt(50)); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestDailyLimitResetsOnUTCBoundary(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	if _, err := h.queue.Request(holderAddr, big.NewInt(9_500)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := h.queue.Request(otherHolder, big.NewInt(1_000)); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	// Cross midnight UTC: hard reset, not a sliding window.
	*h.now = h.now.Add(2 * time.Hour)
	if _, err := h.queue.Request(otherHolder, big.NewInt(1_000)); err != nil {
		t.Fatalf("request after day boundary: %v", err)
	}
	if got := h.queue.DailyUsed(); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("daily used = %s, want fresh bucket 1000", got)
	}
}

func TestExecuteAfterDelay(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	if _, err := h.queue.Request(holderAddr, big.NewInt(8_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := h.queue.Execute(holderAddr); !errors.Is(err, ErrRedemptionNotReady) {
		t.Fatalf("expected ErrRedemptionNotReady, got %v", err)
	}
	if _, err := h.queue.Execute(otherHolder); !errors.Is(err, ErrNoPendingRedemption) {
		t.Fatalf("expected ErrNoPendingRedemption, got %v", err)
	}
	*h.now = h.now.Add(72 * time.Hour)
	output, err := h.queue.Execute(holderAddr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// 25 bps of 8000 = 20.
	if output.Fee.Cmp(big.NewInt(20)) != 0 || output.Payout.Cmp(big.NewInt(7_980)) != 0 {
		t.Fatalf("fee = %s payout = %s, want 20 / 7980", output.Fee, output.Payout)
	}
	if got := h.reserves.payouts[holderAddr]; got == nil || got.Cmp(big.NewInt(7_980)) != 0 {
		t.Fatalf("reserve payout = %s, want 7980", got)
	}
	if _, pending := h.queue.Pending(holderAddr); pending {
		t.Fatalf("request must clear after settlement")
	}
}

func TestExecuteAllowedWhilePaused(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	if _, err := h.queue.Request(holderAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.pauses.Escalate(guardianAddr, pause.LevelFullPause, pause.TriggerManual, "incident"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	// New requests are blocked, queued settlement is not.
	if _, err := h.queue.Request(otherHolder, big.NewInt(1_000)); !errors.Is(err, pause.ErrPaused) {
		t.Fatalf("expected ErrPaused for new request, got %v", err)
	}
	*h.now = h.now.Add(72 * time.Hour)
	if _, err := h.queue.Execute(holderAddr); err != nil {
		t.Fatalf("execute while paused: %v", err)
	}
	// Shutdown blocks settlement too.
	if _, err := h.queue.Request(holderAddr, big.NewInt(1_000)); !errors.Is(err, pause.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if err := h.pauses.Escalate(guardianAddr, pause.LevelShutdown, pause.TriggerManual, "incident"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if _, err := h.queue.Execute(holderAddr); !errors.Is(err, pause.ErrPaused) {
		t.Fatalf("expected ErrPaused at shutdown, got %v", err)
	}
}

func TestCancelRoundTrip(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	before := new(big.Int).Set(h.ledger.balance(holderAddr))
	if _, err := h.queue.Request(holderAddr, big.NewInt(5_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.queue.Cancel(holderAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.ledger.balance(holderAddr); got.Cmp(before) != 0 {
		t.Fatalf("balance = %s, want restored %s", got, before)
	}
	if _, pending := h.queue.Pending(holderAddr); pending {
		t.Fatalf("request must clear after cancellation")
	}
	// The consumed daily quota is not refunded.
	if got := h.queue.DailyUsed(); got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("daily used = %s, want 5000 retained after cancel", got)
	}
	if err := h.queue.Cancel(holderAddr); !errors.Is(err, ErrNoPendingRedemption) {
		t.Fatalf("expected ErrNoPendingRedemption, got %v", err)
	}
}

func TestDepegSurcharge(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	deviation := uint64(0)
	h.queue.SetSurcharge(LinearSurcharge{CapBps: 300}, func() uint64 { return deviation })

	output, err := h.queue.Output(big.NewInt(10_000))
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if output.Surcharge.Sign() != 0 {
		t.Fatalf("surcharge at peg = %s, want 0", output.Surcharge)
	}

	deviation = 150
	output, err = h.queue.Output(big.NewInt(10_000))
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	// fee 25 bps = 25, surcharge 150 bps = 150.
	if output.Surcharge.Cmp(big.NewInt(150)) != 0 || output.Payout.Cmp(big.NewInt(9_825)) != 0 {
		t.Fatalf("surcharge = %s payout = %s, want 150 / 9825", output.Surcharge, output.Payout)
	}

	deviation = 900
	output, err = h.queue.Output(big.NewInt(10_000))
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if output.Surcharge.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("surcharge = %s, want clamped 300", output.Surcharge)
	}
}

func TestExecuteSettlesZeroPayout(t *testing.T) {
	cfg := defaultQueueConfig()
	cfg.FeeBps = 9_500
	h := newHarness(t, cfg)
	h.queue.SetSurcharge(LinearSurcharge{CapBps: 1_000}, func() uint64 { return 1_000 })

	if _, err := h.queue.Request(holderAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	*h.now = h.now.Add(73 * time.Hour)

	// Fee plus surcharge consume the full amount; the request still clears
	// without touching reserves.
	output, err := h.queue.Execute(holderAddr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if output.Payout.Sign() != 0 {
		t.Fatalf("payout = %s, want 0", output.Payout)
	}
	if len(h.reserves.payouts) != 0 {
		t.Fatalf("reserves touched for zero payout: %v", h.reserves.payouts)
	}
	if _, pending := h.queue.Pending(holderAddr); pending {
		t.Fatalf("request not cleared after zero-payout settlement")
	}
}

func TestRequestFailsBeforeAnyMutation(t *testing.T) {
	h := newHarness(t, defaultQueueConfig())
	// Holder without balance: the ledger burn fails and nothing is consumed.
	broke := ethcommon.HexToAddress("0x0000000000000000000000000000000000000f99")
	if _, err := h.queue.Request(broke, big.NewInt(1_000)); err == nil {
		t.Fatalf("expected burn failure")
	}
	if got := h.queue.DailyUsed(); got.Sign() != 0 {
		t.Fatalf("failed request consumed daily quota: %s", got)
	}
	if _, pending := h.queue.Pending(broke); pending {
		t.Fatalf("failed request left a queue entry")
	}
}
