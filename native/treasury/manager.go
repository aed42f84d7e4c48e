package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/core/events"
	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/timelock"
)

const allocationDenominator = 10_000

var (
	// ErrInvalidTier indicates a tier index outside the fixed set.
	ErrInvalidTier = errors.New("treasury: invalid tier")
	// ErrZeroAmount indicates a zero or negative amount.
	ErrZeroAmount = errors.New("treasury: amount must be positive")
	// ErrInsufficientBalance indicates the addressed tier (or, for emergency
	// withdrawals, the whole treasury) cannot cover the amount.
	ErrInsufficientBalance = errors.New("treasury: insufficient balance")
	// ErrAllocationSum indicates a proposed allocation that does not sum to
	// exactly 10000 bps.
	ErrAllocationSum = errors.New("treasury: allocation must sum to 10000 bps")
)

// Tier indexes one of the four reserve buckets. Index order is load-bearing:
// rebalancing and emergency drains walk tiers in this order.
type Tier int

const (
	TierHot Tier = iota
	TierWarm
	TierCold
	TierRWA
	tierCount
)

// String renders the tier for events and reports.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "HOT"
	case TierWarm:
		return "WARM"
	case TierCold:
		return "COLD"
	case TierRWA:
		return "RWA"
	default:
		return fmt.Sprintf("TIER_%d", int(t))
	}
}

// Valid reports whether the tier index is within the fixed set.
func (t Tier) Valid() bool { return t >= TierHot && t < tierCount }

// ParseTier resolves a tier name as rendered by String.
func ParseTier(name string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "HOT":
		return TierHot, nil
	case "WARM":
		return TierWarm, nil
	case "COLD":
		return TierCold, nil
	case "RWA":
		return TierRWA, nil
	default:
		return 0, ErrInvalidTier
	}
}

// Allocation holds per-tier target weights in basis points.
type Allocation [tierCount]uint64

// Validate ensures the weights sum to exactly 10000 bps.
func (a Allocation) Validate() error {
	var sum uint64
	for _, bps := range a {
		sum += bps
	}
	if sum != allocationDenominator {
		return ErrAllocationSum
	}
	return nil
}

// ReserveTransfer executes the outbound reserve-asset movement behind a
// withdrawal: instruct the custodian (or chain) to pay the recipient. A
// failure aborts the withdrawal before any balance changes.
type ReserveTransfer interface {
	TransferReserve(to ethcommon.Address, amount *big.Int, reason string) error
}

// NoopTransfer acknowledges withdrawals without moving external value. Used
// when custody is reconciled out of band.
type NoopTransfer struct{}

func (NoopTransfer) TransferReserve(ethcommon.Address, *big.Int, string) error { return nil }

// Snapshot is a point-in-time consistent view of the treasury.
type Snapshot struct {
	Balances      [tierCount]*big.Int
	TotalReserves *big.Int
	Allocation    Allocation
	TakenAt       time.Time
}

// Manager owns the tiered reserve ledger. All balances are integers in the
// reserve asset's smallest unit; the conservation invariant is that tier
// balances always sum to TotalReserves.
type Manager struct {
	mu                sync.RWMutex
	balances          [tierCount]*big.Int
	totalReserves     *big.Int
	allocation        Allocation
	pendingAllocation timelock.PendingChange[Allocation]
	thresholdBps      uint64
	timelockDelay     time.Duration
	grants            *access.Grants
	clock             func() time.Time
	emitter           events.Emitter
	transfer          ReserveTransfer
}

// NewManager constructs an empty treasury with the supplied target allocation,
// rebalance threshold and allocation-change timelock delay.
func NewManager(grants *access.Grants, allocation Allocation, thresholdBps uint64, timelockDelay time.Duration) (*Manager, error) {
	if err := allocation.Validate(); err != nil {
		return nil, err
	}
	if thresholdBps == 0 || thresholdBps > allocationDenominator {
		return nil, fmt.Errorf("treasury: rebalance threshold must be within (0, 10000] bps")
	}
	if timelockDelay <= 0 {
		return nil, fmt.Errorf("treasury: timelock delay must be positive")
	}
	m := &Manager{
		totalReserves: big.NewInt(0),
		allocation:    allocation,
		thresholdBps:  thresholdBps,
		timelockDelay: timelockDelay,
		grants:        grants,
		clock:         time.Now,
		emitter:       events.NoopEmitter{},
		transfer:      NoopTransfer{},
	}
	for i := range m.balances {
		m.balances[i] = big.NewInt(0)
	}
	return m, nil
}

// SetClock overrides the time source. Primarily for tests.
func (m *Manager) SetClock(clock func() time.Time) {
	if m == nil || clock == nil {
		return
	}
	m.mu.Lock()
	m.clock = clock
	m.mu.Unlock()
}

// SetEmitter configures the event sink. Passing nil resets to a no-op.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
	} else {
		m.emitter = emitter
	}
	m.mu.Unlock()
}

// SetTransfer wires the outbound reserve-asset mover consulted on every
// withdrawal path. Passing nil resets to the no-op.
func (m *Manager) SetTransfer(transfer ReserveTransfer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if transfer == nil {
		m.transfer = NoopTransfer{}
	} else {
		m.transfer = transfer
	}
	m.mu.Unlock()
}

// Deposit credits one tier and grows total reserves by exactly the amount.
func (m *Manager) Deposit(caller ethcommon.Address, tier Tier, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if !tier.Valid() {
		return ErrInvalidTier
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := m.grants.Require(caller, access.CapTreasury); err != nil {
		return err
	}
	m.mu.Lock()
	m.balances[tier].Add(m.balances[tier], amount)
	m.totalReserves.Add(m.totalReserves, amount)
	emitter, total := m.emitter, new(big.Int).Set(m.totalReserves)
	m.mu.Unlock()
	emitter.Emit(events.ReserveDeposited{
		Tier:          tier.String(),
		Amount:        new(big.Int).Set(amount),
		TotalReserves: total,
	})
	return nil
}

// DepositDistributed splits a deposit across all tiers pro-rata by target
// allocation. Integer-division remainder lands in the first tier so the total
// grows by exactly the amount.
func (m *Manager) DepositDistributed(caller ethcommon.Address, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := m.grants.Require(caller, access.CapTreasury); err != nil {
		return err
	}
	m.mu.Lock()
	remainder := new(big.Int).Set(amount)
	for i := tierCount - 1; i >= TierHot; i-- {
		var share *big.Int
		if i == TierHot {
			share = remainder
		} else {
			share = new(big.Int).Mul(amount, new(big.Int).SetUint64(m.allocation[i]))
			share.Quo(share, big.NewInt(allocationDenominator))
			remainder.Sub(remainder, share)
		}
		m.balances[i].Add(m.balances[i], share)
	}
	m.totalReserves.Add(m.totalReserves, amount)
	emitter, total := m.emitter, new(big.Int).Set(m.totalReserves)
	m.mu.Unlock()
	emitter.Emit(events.ReserveDeposited{
		Tier:          "DISTRIBUTED",
		Amount:        new(big.Int).Set(amount),
		TotalReserves: total,
	})
	return nil
}

// Withdraw debits one tier. The tier alone must cover the amount; normal
// withdrawals never borrow across tiers.
func (m *Manager) Withdraw(caller, to ethcommon.Address, tier Tier, amount *big.Int, reason string) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if err := m.grants.Require(caller, access.CapTreasury); err != nil {
		return err
	}
	return m.withdraw(to, tier, amount, reason)
}

// WithdrawForRedemption pays a matured redemption out of the hot tier. It is
// the redemption queue's settlement path and carries no caller capability
// check of its own.
func (m *Manager) WithdrawForRedemption(to ethcommon.Address, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	return m.withdraw(to, TierHot, amount, "redemption settlement")
}

func (m *Manager) withdraw(to ethcommon.Address, tier Tier, amount *big.Int, reason string) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	m.mu.Lock()
	if m.balances[tier].Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: tier %s holds %s, need %s", ErrInsufficientBalance, tier, m.balances[tier], amount)
	}
	// Pay out first: a failed transfer leaves every balance untouched.
	if err := m.transfer.TransferReserve(to, amount, reason); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("treasury: reserve transfer: %w", err)
	}
	m.balances[tier].Sub(m.balances[tier], amount)
	m.totalReserves.Sub(m.totalReserves, amount)
	emitter, total := m.emitter, new(big.Int).Set(m.totalReserves)
	m.mu.Unlock()
	emitter.Emit(events.ReserveWithdrawn{
		Tier:          tier.String(),
		To:            to,
		Amount:        new(big.Int).Set(amount),
		Reason:        reason,
		TotalReserves: total,
	})
	return nil
}

// TransferBetweenTiers moves value internally without touching the total.
func (m *Manager) TransferBetweenTiers(caller ethcommon.Address, from, to Tier, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if !from.Valid() || !to.Valid() {
		return ErrInvalidTier
	}
	if from == to {
		return fmt.Errorf("%w: source and destination identical", ErrInvalidTier)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := m.grants.Require(caller, access.CapTreasury); err != nil {
		return err
	}
	m.mu.Lock()
	if m.balances[from].Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: tier %s holds %s, need %s", ErrInsufficientBalance, from, m.balances[from], amount)
	}
	m.balances[from].Sub(m.balances[from], amount)
	m.balances[to].Add(m.balances[to], amount)
	emitter := m.emitter
	m.mu.Unlock()
	emitter.Emit(events.TierTransfer{
		From:   from.String(),
		To:     to.String(),
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// targetsLocked computes per-tier targets. Floor-division remainder is pinned
// to the first tier so targets always sum to the exact total, which is what
// lets the greedy pass below fully reconcile.
func (m *Manager) targetsLocked() [tierCount]*big.Int {
	var targets [tierCount]*big.Int
	assigned := big.NewInt(0)
	for i := tierCount - 1; i >= TierHot; i-- {
		if i == TierHot {
			targets[i] = new(big.Int).Sub(m.totalReserves, assigned)
			continue
		}
		target := new(big.Int).Mul(m.totalReserves, new(big.Int).SetUint64(m.allocation[i]))
		target.Quo(target, big.NewInt(allocationDenominator))
		targets[i] = target
		assigned.Add(assigned, target)
	}
	return targets
}

// NeedsRebalancing reports whether any tier deviates from its target by more
// than the threshold share of total reserves.
func (m *Manager) NeedsRebalancing() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.totalReserves.Sign() == 0 {
		return false
	}
	tolerance := new(big.Int).Mul(m.totalReserves, new(big.Int).SetUint64(m.thresholdBps))
	tolerance.Quo(tolerance, big.NewInt(allocationDenominator))
	targets := m.targetsLocked()
	for i := TierHot; i < tierCount; i++ {
		deviation := new(big.Int).Sub(m.balances[i], targets[i])
		if deviation.CmpAbs(tolerance) > 0 {
			return true
		}
	}
	return false
}

// Rebalance moves excess from over-allocated tiers into under-allocated ones,
// scanning both sides in fixed index order. Greedy rather than optimal, but it
// always fully reconciles because targets and balances share the same sum.
// Total reserves are unchanged.
func (m *Manager) Rebalance(caller ethcommon.Address) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if err := m.grants.Require(caller, access.CapTreasury); err != nil {
		return err
	}
	m.mu.Lock()
	targets := m.targetsLocked()
	moves := 0
	movedTotal := big.NewInt(0)
	for from := TierHot; from < tierCount; from++ {
		excess := new(big.Int).Sub(m.balances[from], targets[from])
		if excess.Sign() <= 0 {
			continue
		}
		for to := TierHot; to < tierCount && excess.Sign() > 0; to++ {
			deficit := new(big.Int).Sub(targets[to], m.balances[to])
			if deficit.Sign() <= 0 {
				continue
			}
			move := excess
			if deficit.Cmp(excess) < 0 {
				move = deficit
			}
			m.balances[from].Sub(m.balances[from], move)
			m.balances[to].Add(m.balances[to], move)
			excess = new(big.Int).Sub(m.balances[from], targets[from])
			movedTotal.Add(movedTotal, move)
			moves++
		}
	}
	emitter, total := m.emitter, new(big.Int).Set(m.totalReserves)
	m.mu.Unlock()
	emitter.Emit(events.Rebalanced{
		Moves:         moves,
		MovedTotal:    movedTotal,
		TotalReserves: total,
	})
	return nil
}

// EmergencyWithdraw drains the requested amount across tiers in index order,
// first tiers absorbing the deduction first. Guardian capability required.
func (m *Manager) EmergencyWithdraw(caller, to ethcommon.Address, amount *big.Int, reason string) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := m.grants.Require(caller, access.CapGuardian); err != nil {
		return err
	}
	m.mu.Lock()
	if m.totalReserves.Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: treasury holds %s, need %s", ErrInsufficientBalance, m.totalReserves, amount)
	}
	if err := m.transfer.TransferReserve(to, amount, reason); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("treasury: reserve transfer: %w", err)
	}
	remaining := new(big.Int).Set(amount)
	for i := TierHot; i < tierCount && remaining.Sign() > 0; i++ {
		// Copy before mutating: taking the whole tier must not zero the
		// amount still being subtracted from remaining.
		take := new(big.Int).Set(m.balances[i])
		if take.Cmp(remaining) > 0 {
			take.Set(remaining)
		}
		m.balances[i].Sub(m.balances[i], take)
		remaining.Sub(remaining, take)
	}
	m.totalReserves.Sub(m.totalReserves, amount)
	emitter, total := m.emitter, new(big.Int).Set(m.totalReserves)
	m.mu.Unlock()
	emitter.Emit(events.EmergencyWithdrawal{
		To:            to,
		Amount:        new(big.Int).Set(amount),
		Reason:        reason,
		TotalReserves: total,
	})
	return nil
}

// ProposeAllocation stages a target-allocation change behind the timelock.
func (m *Manager) ProposeAllocation(caller ethcommon.Address, allocation Allocation) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if err := allocation.Validate(); err != nil {
		return err
	}
	if err := m.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingAllocation.Propose(allocation, m.clock().UTC(), m.timelockDelay)
}

// ExecuteAllocation applies a matured allocation change.
func (m *Manager) ExecuteAllocation(caller ethcommon.Address) (Allocation, error) {
	if m == nil {
		return Allocation{}, fmt.Errorf("treasury: manager not initialised")
	}
	if err := m.grants.Require(caller, access.CapGovernor); err != nil {
		return Allocation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	allocation, err := m.pendingAllocation.Execute(m.clock().UTC())
	if err != nil {
		return Allocation{}, err
	}
	m.allocation = allocation
	return allocation, nil
}

// CancelAllocation discards a pending allocation change.
func (m *Manager) CancelAllocation(caller ethcommon.Address) error {
	if m == nil {
		return fmt.Errorf("treasury: manager not initialised")
	}
	if err := m.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.pendingAllocation.Cancel()
	return err
}

// Allocation returns the active target allocation.
func (m *Manager) Allocation() Allocation {
	if m == nil {
		return Allocation{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocation
}

// TierBalance returns a detached copy of one tier's balance.
func (m *Manager) TierBalance(tier Tier) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("treasury: manager not initialised")
	}
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.balances[tier]), nil
}

// TotalReserves returns a detached copy of the total.
func (m *Manager) TotalReserves() *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.totalReserves)
}

// Snapshot returns a consistent view of all tier balances, the total and the
// active allocation, taken under one lock acquisition.
func (m *Manager) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{TotalReserves: big.NewInt(0)}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		TotalReserves: new(big.Int).Set(m.totalReserves),
		Allocation:    m.allocation,
		TakenAt:       m.clock().UTC(),
	}
	for i := range m.balances {
		snap.Balances[i] = new(big.Int).Set(m.balances[i])
	}
	return snap
}
