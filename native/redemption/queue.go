package redemption

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/core/events"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
)

const (
	dayFormat      = "2006-01-02"
	bpsDenominator = 10_000
)

var (
	// ErrZeroAmount indicates a zero or negative redemption amount.
	ErrZeroAmount = errors.New("redemption: amount must be positive")
	// ErrZeroAddress indicates the zero holder address.
	ErrZeroAddress = errors.New("redemption: holder must not be zero")
	// ErrBelowMinimum indicates an amount below the configured floor.
	ErrBelowMinimum = errors.New("redemption: amount below minimum")
	// ErrPendingRequestExists indicates the holder already has a queued request.
	ErrPendingRequestExists = errors.New("redemption: pending request exists")
	// ErrNoPendingRedemption indicates the holder has nothing queued.
	ErrNoPendingRedemption = errors.New("redemption: no pending request")
	// ErrRedemptionNotReady indicates the timelock has not matured.
	ErrRedemptionNotReady = errors.New("redemption: request not ready")
	// ErrDailyLimitExceeded indicates the UTC-day redemption budget is spent.
	ErrDailyLimitExceeded = errors.New("redemption: daily limit exceeded")
)

// TokenLedger is the slice of the external supply authority the queue needs:
// burn at request time, re-mint on cancellation.
type TokenLedger interface {
	Burn(from ethcommon.Address, amount *big.Int) error
	Mint(to ethcommon.Address, amount *big.Int) error
}

// ReserveSource pays matured redemptions out of the treasury.
type ReserveSource interface {
	WithdrawForRedemption(to ethcommon.Address, amount *big.Int) error
}

// SurchargeStrategy maps a peg deviation (bps below peg, 0 when at or above)
// to an additional redemption surcharge in bps.
type SurchargeStrategy interface {
	SurchargeBps(pegDeviationBps uint64) uint64
}

// NoSurcharge never applies a depeg surcharge.
type NoSurcharge struct{}

func (NoSurcharge) SurchargeBps(uint64) uint64 { return 0 }

// LinearSurcharge passes the peg deviation through one-for-one as surcharge,
// clamped at a cap.
type LinearSurcharge struct {
	CapBps uint64
}

func (s LinearSurcharge) SurchargeBps(pegDeviationBps uint64) uint64 {
	if pegDeviationBps > s.CapBps {
		return s.CapBps
	}
	return pegDeviationBps
}

// PegSource reports the current deviation below peg in bps. Nil means at peg.
type PegSource func() uint64

// Request is one holder's queued redemption. The token amount is already
// burned; only settlement or cancellation can release the request.
type Request struct {
	Holder      ethcommon.Address
	Amount      *big.Int
	RequestedAt time.Time
	UnlockTime  time.Time
}

// Copy returns a detached request safe to hand out of the lock.
func (r Request) Copy() Request {
	out := r
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	}
	return out
}

// Output is the reserve-asset breakdown of a redemption settlement.
type Output struct {
	TokenAmount *big.Int
	Fee         *big.Int
	Surcharge   *big.Int
	Payout      *big.Int
}

// Config carries the queue's settlement parameters.
type Config struct {
	MinRedemption   *big.Int
	DailyLimit      *big.Int
	RedemptionDelay time.Duration
	FeeBps          uint64
}

func (cfg Config) validate() error {
	if cfg.MinRedemption == nil || cfg.MinRedemption.Sign() <= 0 {
		return fmt.Errorf("redemption: minimum must be positive")
	}
	if cfg.DailyLimit == nil || cfg.DailyLimit.Sign() <= 0 {
		return fmt.Errorf("redemption: daily limit must be positive")
	}
	if cfg.RedemptionDelay <= 0 {
		return fmt.Errorf("redemption: delay must be positive")
	}
	if cfg.FeeBps >= bpsDenominator {
		return fmt.Errorf("redemption: fee must be below 10000 bps")
	}
	return nil
}

// Queue owns per-holder redemption requests and the shared UTC-day limit
// counter. One pending request per holder; the day window resets on the UTC
// boundary, not a sliding window.
type Queue struct {
	mu sync.Mutex

	cfg      Config
	ledger   TokenLedger
	reserves ReserveSource
	pauses   pause.View

	requests  map[ethcommon.Address]Request
	dailyUsed map[string]*big.Int

	surcharge SurchargeStrategy
	peg       PegSource

	clock   func() time.Time
	emitter events.Emitter
}

// NewQueue constructs an empty redemption queue.
func NewQueue(cfg Config, ledger TokenLedger, reserves ReserveSource, pauses pause.View) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("redemption: ledger must not be nil")
	}
	if reserves == nil {
		return nil, fmt.Errorf("redemption: reserve source must not be nil")
	}
	return &Queue{
		cfg:       cfg,
		ledger:    ledger,
		reserves:  reserves,
		pauses:    pauses,
		requests:  make(map[ethcommon.Address]Request),
		dailyUsed: make(map[string]*big.Int),
		surcharge: NoSurcharge{},
		clock:     time.Now,
		emitter:   events.NoopEmitter{},
	}, nil
}

// SetClock overrides the time source. Primarily for tests.
func (q *Queue) SetClock(clock func() time.Time) {
	if q == nil || clock == nil {
		return
	}
	q.mu.Lock()
	q.clock = clock
	q.mu.Unlock()
}

// SetEmitter configures the event sink. Passing nil resets to a no-op.
func (q *Queue) SetEmitter(emitter events.Emitter) {
	if q == nil {
		return
	}
	q.mu.Lock()
	if emitter == nil {
		q.emitter = events.NoopEmitter{}
	} else {
		q.emitter = emitter
	}
	q.mu.Unlock()
}

// SetSurcharge wires the depeg surcharge strategy and peg deviation source.
// A nil strategy resets to no surcharge.
func (q *Queue) SetSurcharge(strategy SurchargeStrategy, peg PegSource) {
	if q == nil {
		return
	}
	q.mu.Lock()
	if strategy == nil {
		q.surcharge = NoSurcharge{}
	} else {
		q.surcharge = strategy
	}
	q.peg = peg
	q.mu.Unlock()
}

// Request queues a redemption: every check runs first, then the daily counter
// is consumed and the tokens are burned. The burn is immediate and, from the
// ledger's perspective, irreversible.
func (q *Queue) Request(holder ethcommon.Address, amount *big.Int) (Request, error) {
	if q == nil {
		return Request{}, fmt.Errorf("redemption: queue not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return Request{}, ErrZeroAmount
	}
	if holder == (ethcommon.Address{}) {
		return Request{}, ErrZeroAddress
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := pause.Guard(q.pauses, pause.OpRedemptionRequest); err != nil {
		return Request{}, err
	}
	if _, exists := q.requests[holder]; exists {
		return Request{}, ErrPendingRequestExists
	}
	if amount.Cmp(q.cfg.MinRedemption) < 0 {
		return Request{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, q.cfg.MinRedemption)
	}
	now := q.clock().UTC()
	day := now.Format(dayFormat)
	used := q.dailyUsed[day]
	if used == nil {
		used = big.NewInt(0)
	}
	if new(big.Int).Add(used, amount).Cmp(q.cfg.DailyLimit) > 0 {
		return Request{}, fmt.Errorf("%w: used %s of %s", ErrDailyLimitExceeded, used, q.cfg.DailyLimit)
	}
	if err := q.ledger.Burn(holder, amount); err != nil {
		return Request{}, fmt.Errorf("redemption: ledger burn: %w", err)
	}
	// Burn succeeded: consume the day budget and record the request.
	q.pruneDaysLocked(day)
	q.dailyUsed[day] = new(big.Int).Add(used, amount)
	request := Request{
		Holder:      holder,
		Amount:      new(big.Int).Set(amount),
		RequestedAt: now,
		UnlockTime:  now.Add(q.cfg.RedemptionDelay),
	}
	q.requests[holder] = request
	q.emitter.Emit(events.RedemptionRequested{
		Holder:     holder,
		Amount:     new(big.Int).Set(amount),
		UnlockTime: request.UnlockTime.Unix(),
		DailyUsed:  new(big.Int).Set(q.dailyUsed[day]),
	})
	return request.Copy(), nil
}

// Output converts a token amount into its reserve-asset settlement breakdown:
// a fixed-bps fee, then the depeg surcharge the strategy derives from the
// current peg deviation.
func (q *Queue) Output(amount *big.Int) (Output, error) {
	if q == nil {
		return Output{}, fmt.Errorf("redemption: queue not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return Output{}, ErrZeroAmount
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outputLocked(amount), nil
}

func (q *Queue) outputLocked(amount *big.Int) Output {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(q.cfg.FeeBps))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	var deviation uint64
	if q.peg != nil {
		deviation = q.peg()
	}
	surcharge := new(big.Int).Mul(amount, new(big.Int).SetUint64(q.surcharge.SurchargeBps(deviation)))
	surcharge.Quo(surcharge, big.NewInt(bpsDenominator))
	payout := new(big.Int).Sub(amount, fee)
	payout.Sub(payout, surcharge)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}
	return Output{
		TokenAmount: new(big.Int).Set(amount),
		Fee:         fee,
		Surcharge:   surcharge,
		Payout:      payout,
	}
}

// Execute settles a matured request: pays the computed output from reserves
// and clears the queue entry. Settlement stays open while the system is
// paused (only shutdown blocks it) so queued holders are not trapped.
func (q *Queue) Execute(holder ethcommon.Address) (Output, error) {
	if q == nil {
		return Output{}, fmt.Errorf("redemption: queue not initialised")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := pause.Guard(q.pauses, pause.OpRedemptionExecute); err != nil {
		return Output{}, err
	}
	request, exists := q.requests[holder]
	if !exists {
		return Output{}, ErrNoPendingRedemption
	}
	now := q.clock().UTC()
	if now.Before(request.UnlockTime) {
		return Output{}, fmt.Errorf("%w: unlocks at %s", ErrRedemptionNotReady, request.UnlockTime.Format(time.RFC3339))
	}
	output := q.outputLocked(request.Amount)
	// Fee plus surcharge can consume the whole amount; such requests still
	// settle and clear, there is just nothing to pay out.
	if output.Payout.Sign() > 0 {
		if err := q.reserves.WithdrawForRedemption(holder, output.Payout); err != nil {
			return Output{}, fmt.Errorf("redemption: reserve payout: %w", err)
		}
	}
	delete(q.requests, holder)
	q.emitter.Emit(events.RedemptionExecuted{
		Holder:      holder,
		TokenAmount: output.TokenAmount,
		Payout:      new(big.Int).Set(output.Payout),
		FeePaid:     new(big.Int).Add(output.Fee, output.Surcharge),
	})
	return output, nil
}

// Cancel returns the burned tokens to the holder and clears the request. The
// daily-limit quota consumed at request time is deliberately not refunded.
func (q *Queue) Cancel(holder ethcommon.Address) error {
	if q == nil {
		return fmt.Errorf("redemption: queue not initialised")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	request, exists := q.requests[holder]
	if !exists {
		return ErrNoPendingRedemption
	}
	if err := q.ledger.Mint(holder, request.Amount); err != nil {
		return fmt.Errorf("redemption: return tokens: %w", err)
	}
	delete(q.requests, holder)
	q.emitter.Emit(events.RedemptionCancelled{
		Holder: holder,
		Amount: new(big.Int).Set(request.Amount),
	})
	return nil
}

// Pending returns the holder's queued request, if any.
func (q *Queue) Pending(holder ethcommon.Address) (Request, bool) {
	if q == nil {
		return Request{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	request, exists := q.requests[holder]
	if !exists {
		return Request{}, false
	}
	return request.Copy(), true
}

// DailyUsed returns the amount consumed against the limit for the current
// UTC day.
func (q *Queue) DailyUsed() *big.Int {
	if q == nil {
		return big.NewInt(0)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	used := q.dailyUsed[q.clock().UTC().Format(dayFormat)]
	if used == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(used)
}

// pruneDaysLocked drops counters for days other than the current one; the
// window is a hard UTC-day reset so stale buckets can never bind again.
func (q *Queue) pruneDaysLocked(today string) {
	for day := range q.dailyUsed {
		if day != today {
			delete(q.dailyUsed, day)
		}
	}
}
