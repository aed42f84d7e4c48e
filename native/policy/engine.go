package policy

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/core/events"
	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
	"github.com/rikitrader/secure-mint-engine-sub001/native/timelock"
)

var (
	// ErrZeroAmount indicates a zero or negative mint amount.
	ErrZeroAmount = errors.New("policy: amount must be positive")
	// ErrZeroAddress indicates the zero recipient address.
	ErrZeroAddress = errors.New("policy: recipient must not be zero")
	// ErrEpochCapExceeded indicates the mint would overrun the epoch cap.
	ErrEpochCapExceeded = errors.New("policy: epoch mint cap exceeded")
	// ErrGlobalCapExceeded indicates the mint would overrun the global supply cap.
	ErrGlobalCapExceeded = errors.New("policy: global supply cap exceeded")
	// ErrInsufficientBacking indicates verified backing cannot cover the
	// post-mint supply.
	ErrInsufficientBacking = errors.New("policy: insufficient verified backing")
	// ErrSanctioned indicates the recipient is on the deny list.
	ErrSanctioned = errors.New("policy: recipient sanctioned")
)

const (
	paramEpochMintCap = "epochMintCap"
	paramMaxOracleAge = "maxOracleAge"
)

// TokenLedger is the external supply authority. The engine never keeps its
// own balance table; supply truth lives behind this interface.
type TokenLedger interface {
	Mint(to ethcommon.Address, amount *big.Int) error
	TotalSupply() (*big.Int, error)
}

// Oracle is the backing consensus surface the engine gates mints on.
type Oracle interface {
	VerifiedBacking() (*big.Int, error)
	CanMint(currentSupply, amount *big.Int) (bool, error)
	Healthy() bool
	SetMaxAge(maxAge time.Duration) error
}

// PauseAuthority is the slice of the pause controller the engine consults and,
// on oracle failure, escalates.
type PauseAuthority interface {
	pause.View
	AutoEscalate(to pause.Level, reason string)
}

// Config carries the engine's issuance parameters.
type Config struct {
	GlobalSupplyCap *big.Int
	EpochMintCap    *big.Int
	EpochDuration   time.Duration
	TimelockDelay   time.Duration
	// AutoPauseLevel is the level the engine escalates to when a mint
	// discovers an unhealthy oracle.
	AutoPauseLevel pause.Level
}

func (cfg Config) validate() error {
	if cfg.GlobalSupplyCap == nil || cfg.GlobalSupplyCap.Sign() <= 0 {
		return fmt.Errorf("policy: global supply cap must be positive")
	}
	if cfg.EpochMintCap == nil || cfg.EpochMintCap.Sign() <= 0 {
		return fmt.Errorf("policy: epoch mint cap must be positive")
	}
	if cfg.EpochDuration <= 0 {
		return fmt.Errorf("policy: epoch duration must be positive")
	}
	if cfg.TimelockDelay <= 0 {
		return fmt.Errorf("policy: timelock delay must be positive")
	}
	return nil
}

// Engine enforces the solvency, global-cap and epoch-cap invariants on every
// mint. All checks run before any mutation; a failure at any step leaves the
// epoch counter and supply untouched.
type Engine struct {
	mu sync.Mutex

	ledger TokenLedger
	oracle Oracle
	pauses PauseAuthority
	grants *access.Grants

	globalSupplyCap *big.Int
	epochMintCap    *big.Int
	epochDuration   time.Duration
	epochStart      time.Time
	epochMinted     *big.Int

	timelockDelay    time.Duration
	autoPauseLevel   pause.Level
	pendingEpochCap  timelock.PendingChange[*big.Int]
	pendingOracleAge timelock.PendingChange[time.Duration]

	sanctions    SanctionsChecker
	sanctionsLog *SanctionsLog

	clock   func() time.Time
	emitter events.Emitter
}

// NewEngine constructs the policy engine. The first epoch starts at the
// engine's first observed clock reading.
func NewEngine(cfg Config, ledger TokenLedger, oracle Oracle, pauses PauseAuthority, grants *access.Grants) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("policy: ledger must not be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("policy: oracle must not be nil")
	}
	autoLevel := cfg.AutoPauseLevel
	if autoLevel <= pause.LevelNormal {
		autoLevel = pause.LevelIssuancePaused
	}
	return &Engine{
		ledger:          ledger,
		oracle:          oracle,
		pauses:          pauses,
		grants:          grants,
		globalSupplyCap: new(big.Int).Set(cfg.GlobalSupplyCap),
		epochMintCap:    new(big.Int).Set(cfg.EpochMintCap),
		epochDuration:   cfg.EpochDuration,
		epochMinted:     big.NewInt(0),
		timelockDelay:   cfg.TimelockDelay,
		autoPauseLevel:  autoLevel,
		sanctions:       DefaultSanctionsChecker,
		clock:           time.Now,
		emitter:         events.NoopEmitter{},
	}, nil
}

// SetClock overrides the time source. Primarily for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.mu.Lock()
	e.clock = clock
	e.mu.Unlock()
}

// SetEmitter configures the event sink. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
	} else {
		e.emitter = emitter
	}
	e.mu.Unlock()
}

// SetSanctionsChecker wires the deny-list checker and optional audit log.
// A nil checker resets to the allow-all default.
func (e *Engine) SetSanctionsChecker(checker SanctionsChecker, log *SanctionsLog) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if checker == nil {
		e.sanctions = DefaultSanctionsChecker
	} else {
		e.sanctions = checker
	}
	e.sanctionsLog = log
	e.mu.Unlock()
}

// Mint runs the full check sequence and, only after every check passes,
// settles through the external ledger and advances the epoch counter.
func (e *Engine) Mint(caller, recipient ethcommon.Address, amount *big.Int) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if err := e.grants.Require(caller, access.CapMint); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkMintLocked(recipient, amount, true); err != nil {
		return err
	}
	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return fmt.Errorf("policy: read total supply: %w", err)
	}
	verified, err := e.oracle.VerifiedBacking()
	if err != nil {
		// Step already validated health; a failure between the two reads
		// is treated the same way.
		e.escalateOracleFailureLocked(recipient, amount, err)
		return err
	}
	if err := e.ledger.Mint(recipient, amount); err != nil {
		return fmt.Errorf("policy: ledger mint: %w", err)
	}
	e.epochMinted.Add(e.epochMinted, amount)
	e.emitter.Emit(events.Minted{
		Recipient:       recipient,
		Amount:          new(big.Int).Set(amount),
		EpochMinted:     new(big.Int).Set(e.epochMinted),
		TotalSupply:     new(big.Int).Add(supply, amount),
		VerifiedBacking: verified,
	})
	return nil
}

// CanMintNow runs the same check sequence as Mint without settling, rolling
// the epoch, or escalating the pause level. Nil means the mint would pass.
func (e *Engine) CanMintNow(recipient ethcommon.Address, amount *big.Int) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkMintLocked(recipient, amount, false)
}

// checkMintLocked evaluates the ordered denial sequence. With mutate set it
// rolls the epoch and escalates the pause controller on oracle failure;
// without it the engine state is left byte-for-byte untouched.
func (e *Engine) checkMintLocked(recipient ethcommon.Address, amount *big.Int, mutate bool) error {
	if amount == nil || amount.Sign() <= 0 {
		return e.denyLocked(recipient, amount, ErrZeroAmount)
	}
	if recipient == (ethcommon.Address{}) {
		return e.denyLocked(recipient, amount, ErrZeroAddress)
	}
	if err := pause.Guard(e.pauses, pause.OpMint); err != nil {
		return e.denyLocked(recipient, amount, err)
	}
	if !e.sanctions(recipient) {
		if mutate && e.sanctionsLog != nil {
			if err := e.sanctionsLog.RecordHit(recipient, "mint"); err != nil {
				return fmt.Errorf("policy: record sanctions hit: %w", err)
			}
		}
		return e.denyLocked(recipient, amount, ErrSanctioned)
	}
	if _, err := e.oracle.VerifiedBacking(); err != nil {
		if mutate {
			e.escalateOracleFailureLocked(recipient, amount, err)
		}
		return err
	}

	epochMinted := e.epochMinted
	now := e.clock().UTC()
	if rolled := e.epochExpiredLocked(now); rolled {
		if mutate {
			e.rollEpochLocked(now)
			epochMinted = e.epochMinted
		} else {
			epochMinted = big.NewInt(0)
		}
	}
	if new(big.Int).Add(epochMinted, amount).Cmp(e.epochMintCap) > 0 {
		return e.denyLocked(recipient, amount, ErrEpochCapExceeded)
	}

	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return fmt.Errorf("policy: read total supply: %w", err)
	}
	if new(big.Int).Add(supply, amount).Cmp(e.globalSupplyCap) > 0 {
		return e.denyLocked(recipient, amount, ErrGlobalCapExceeded)
	}
	ok, err := e.oracle.CanMint(supply, amount)
	if err != nil {
		if mutate {
			e.escalateOracleFailureLocked(recipient, amount, err)
		}
		return err
	}
	if !ok {
		return e.denyLocked(recipient, amount, ErrInsufficientBacking)
	}
	return nil
}

func (e *Engine) epochExpiredLocked(now time.Time) bool {
	if e.epochStart.IsZero() {
		return true
	}
	return !now.Before(e.epochStart.Add(e.epochDuration))
}

func (e *Engine) rollEpochLocked(now time.Time) {
	previous := e.epochMinted
	e.epochMinted = big.NewInt(0)
	e.epochStart = now
	e.emitter.Emit(events.EpochRolled{
		PreviousMinted: previous,
		EpochStart:     now.Unix(),
	})
}

func (e *Engine) denyLocked(recipient ethcommon.Address, amount *big.Int, cause error) error {
	e.emitter.Emit(events.MintDenied{
		Recipient: recipient,
		Amount:    amount,
		Reason:    cause.Error(),
	})
	return cause
}

func (e *Engine) escalateOracleFailureLocked(recipient ethcommon.Address, amount *big.Int, cause error) {
	if e.pauses != nil {
		e.pauses.AutoEscalate(e.autoPauseLevel, cause.Error())
	}
	e.emitter.Emit(events.MintDenied{
		Recipient: recipient,
		Amount:    amount,
		Reason:    cause.Error(),
	})
}

// MintRequest is one entry of a batch pre-flight validation.
type MintRequest struct {
	Recipient ethcommon.Address
	Amount    *big.Int
}

// ValidateMintBatch checks a batch of prospective mints as if executed in
// order, accumulating amounts against the epoch and global caps, without
// mutating anything. The returned slice is index-aligned with the input; a
// nil entry means that request would pass given all earlier ones passed.
func (e *Engine) ValidateMintBatch(requests []MintRequest) []error {
	if e == nil || len(requests) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]error, len(requests))
	now := e.clock().UTC()
	epochMinted := new(big.Int).Set(e.epochMinted)
	if e.epochExpiredLocked(now) {
		epochMinted.SetInt64(0)
	}
	supply, supplyErr := e.ledger.TotalSupply()
	_, oracleErr := e.oracle.VerifiedBacking()
	pauseErr := pause.Guard(e.pauses, pause.OpMint)
	cumulative := big.NewInt(0)
	for i, req := range requests {
		switch {
		case req.Amount == nil || req.Amount.Sign() <= 0:
			results[i] = ErrZeroAmount
		case req.Recipient == (ethcommon.Address{}):
			results[i] = ErrZeroAddress
		case pauseErr != nil:
			results[i] = pauseErr
		case !e.sanctions(req.Recipient):
			results[i] = ErrSanctioned
		case oracleErr != nil:
			results[i] = oracleErr
		case supplyErr != nil:
			results[i] = fmt.Errorf("policy: read total supply: %w", supplyErr)
		default:
			pending := new(big.Int).Add(cumulative, req.Amount)
			if new(big.Int).Add(epochMinted, pending).Cmp(e.epochMintCap) > 0 {
				results[i] = ErrEpochCapExceeded
				continue
			}
			newSupply := new(big.Int).Add(supply, pending)
			if newSupply.Cmp(e.globalSupplyCap) > 0 {
				results[i] = ErrGlobalCapExceeded
				continue
			}
			if ok, err := e.oracle.CanMint(new(big.Int).Add(supply, cumulative), req.Amount); err != nil {
				results[i] = err
				continue
			} else if !ok {
				results[i] = ErrInsufficientBacking
				continue
			}
			cumulative = pending
		}
	}
	return results
}

// RemainingEpochMint returns the headroom left in the current epoch. A lapsed
// epoch reports the full cap, matching what the next mint would observe.
func (e *Engine) RemainingEpochMint() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epochExpiredLocked(e.clock().UTC()) {
		return new(big.Int).Set(e.epochMintCap)
	}
	remaining := new(big.Int).Sub(e.epochMintCap, e.epochMinted)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// EpochMinted returns the amount minted in the current epoch.
func (e *Engine) EpochMinted() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.epochMinted)
}

// EpochMintCap returns the active epoch cap.
func (e *Engine) EpochMintCap() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.epochMintCap)
}

// GlobalSupplyCap returns the active global cap.
func (e *Engine) GlobalSupplyCap() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.globalSupplyCap)
}

// ProposeEpochCap stages a new epoch mint cap behind the timelock.
func (e *Engine) ProposeEpochCap(caller ethcommon.Address, newCap *big.Int) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if newCap == nil || newCap.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := e.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock().UTC()
	if err := e.pendingEpochCap.Propose(new(big.Int).Set(newCap), now, e.timelockDelay); err != nil {
		return err
	}
	e.emitter.Emit(events.ChangeProposed{
		Parameter:    paramEpochMintCap,
		NewValue:     newCap.String(),
		ExecuteAfter: now.Add(e.timelockDelay).Unix(),
	})
	return nil
}

// ExecuteEpochCap applies a matured epoch cap change.
func (e *Engine) ExecuteEpochCap(caller ethcommon.Address) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if err := e.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	newCap, err := e.pendingEpochCap.Execute(e.clock().UTC())
	if err != nil {
		return err
	}
	oldCap := e.epochMintCap
	e.epochMintCap = new(big.Int).Set(newCap)
	e.emitter.Emit(events.ChangeExecuted{
		Parameter: paramEpochMintCap,
		OldValue:  oldCap.String(),
		NewValue:  newCap.String(),
	})
	return nil
}

// CancelEpochCap discards a pending epoch cap change.
func (e *Engine) CancelEpochCap(caller ethcommon.Address) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if err := e.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cancelled, err := e.pendingEpochCap.Cancel()
	if err != nil {
		return err
	}
	e.emitter.Emit(events.ChangeCancelled{
		Parameter: paramEpochMintCap,
		NewValue:  cancelled.String(),
	})
	return nil
}

// ProposeMaxOracleAge stages a new staleness threshold behind the timelock.
func (e *Engine) ProposeMaxOracleAge(caller ethcommon.Address, maxAge time.Duration) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if maxAge <= 0 {
		return fmt.Errorf("policy: max oracle age must be positive")
	}
	if err := e.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock().UTC()
	if err := e.pendingOracleAge.Propose(maxAge, now, e.timelockDelay); err != nil {
		return err
	}
	e.emitter.Emit(events.ChangeProposed{
		Parameter:    paramMaxOracleAge,
		NewValue:     maxAge.String(),
		ExecuteAfter: now.Add(e.timelockDelay).Unix(),
	})
	return nil
}

// ExecuteMaxOracleAge applies a matured staleness threshold change by pushing
// it down into the oracle.
func (e *Engine) ExecuteMaxOracleAge(caller ethcommon.Address) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if err := e.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	maxAge, err := e.pendingOracleAge.Execute(e.clock().UTC())
	if err != nil {
		return err
	}
	if err := e.oracle.SetMaxAge(maxAge); err != nil {
		return err
	}
	e.emitter.Emit(events.ChangeExecuted{
		Parameter: paramMaxOracleAge,
		NewValue:  maxAge.String(),
	})
	return nil
}

// CancelMaxOracleAge discards a pending staleness threshold change.
func (e *Engine) CancelMaxOracleAge(caller ethcommon.Address) error {
	if e == nil {
		return fmt.Errorf("policy: engine not initialised")
	}
	if err := e.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cancelled, err := e.pendingOracleAge.Cancel()
	if err != nil {
		return err
	}
	e.emitter.Emit(events.ChangeCancelled{
		Parameter: paramMaxOracleAge,
		NewValue:  cancelled.String(),
	})
	return nil
}
