package pause

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/core/events"
	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
)

var (
	// ErrPaused indicates the requested operation class is blocked at the
	// current pause level.
	ErrPaused = errors.New("pause: operation blocked")
	// ErrInvalidLevel indicates the supplied level is outside 0..5.
	ErrInvalidLevel = errors.New("pause: invalid level")
	// ErrNotEscalation indicates the target level does not raise the current one.
	ErrNotEscalation = errors.New("pause: target level must escalate")
	// ErrNotDeescalation indicates the target level does not lower the current one.
	ErrNotDeescalation = errors.New("pause: target level must de-escalate")
	// ErrAboveGuardianCeiling indicates the guardian tried to escalate past its ceiling.
	ErrAboveGuardianCeiling = errors.New("pause: level above guardian ceiling")
	// ErrOracleUnhealthy indicates a resume was attempted while the oracle
	// trigger that caused the pause is still unresolved.
	ErrOracleUnhealthy = errors.New("pause: cannot resume while oracle unhealthy")
)

// Level is the graduated emergency state, 0 (normal) through 5 (shutdown).
type Level int

const (
	LevelNormal Level = iota
	LevelElevated
	LevelIssuancePaused
	LevelSettlementGuard
	LevelFullPause
	LevelShutdown
)

const maxLevel = LevelShutdown

// String renders the level for logs and events.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelIssuancePaused:
		return "issuance_paused"
	case LevelSettlementGuard:
		return "settlement_guard"
	case LevelFullPause:
		return "full_pause"
	case LevelShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("level_%d", int(l))
	}
}

// Operation enumerates the operation classes gated by the pause table.
type Operation int

const (
	OpMint Operation = iota
	OpBurn
	OpTransfer
	OpRedemptionRequest
	OpRedemptionExecute
)

// String renders the operation class for diagnostics.
func (op Operation) String() string {
	switch op {
	case OpMint:
		return "mint"
	case OpBurn:
		return "burn"
	case OpTransfer:
		return "transfer"
	case OpRedemptionRequest:
		return "redemption_request"
	case OpRedemptionExecute:
		return "redemption_execute"
	default:
		return fmt.Sprintf("op_%d", int(op))
	}
}

// restrictions is the static per-level blocking table. Redemption execution
// stays open everywhere below shutdown so queued holders are never trapped
// mid-incident.
var restrictions = map[Level][]Operation{
	LevelNormal:          {},
	LevelElevated:        {OpMint},
	LevelIssuancePaused:  {OpMint, OpBurn},
	LevelSettlementGuard: {OpMint, OpBurn, OpRedemptionRequest},
	LevelFullPause:       {OpMint, OpBurn, OpTransfer, OpRedemptionRequest},
	LevelShutdown:        {OpMint, OpBurn, OpTransfer, OpRedemptionRequest, OpRedemptionExecute},
}

// Trigger records why an escalation happened; oracle triggers gate resumes.
type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerOracle
)

// View is the read surface the other engines consult before mutating state.
type View interface {
	Level() Level
	Blocked(op Operation) bool
}

// Guard returns ErrPaused when the supplied view blocks the operation class.
// A nil view never blocks.
func Guard(v View, op Operation) error {
	if v == nil {
		return nil
	}
	if v.Blocked(op) {
		return fmt.Errorf("%w: %s at level %s", ErrPaused, op, v.Level())
	}
	return nil
}

// OracleHealth reports whether the backing oracle currently has fresh
// consensus. Wired from the oracle component at construction time.
type OracleHealth func() bool

// Controller owns the pause level state machine.
type Controller struct {
	mu              sync.RWMutex
	level           Level
	oracleTriggered bool
	guardianCeiling Level
	grants          *access.Grants
	oracleHealthy   OracleHealth
	emitter         events.Emitter
}

// NewController constructs a controller at level 0 with the supplied guardian
// escalation ceiling.
func NewController(grants *access.Grants, guardianCeiling Level) *Controller {
	if guardianCeiling < LevelNormal || guardianCeiling > maxLevel {
		guardianCeiling = LevelSettlementGuard
	}
	return &Controller{
		guardianCeiling: guardianCeiling,
		grants:          grants,
		emitter:         events.NoopEmitter{},
	}
}

// SetEmitter configures the event sink. Passing nil resets to a no-op.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
	} else {
		c.emitter = emitter
	}
	c.mu.Unlock()
}

// SetOracleHealth wires the health probe consulted on resume.
func (c *Controller) SetOracleHealth(health OracleHealth) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.oracleHealthy = health
	c.mu.Unlock()
}

// Level returns the current pause level.
func (c *Controller) Level() Level {
	if c == nil {
		return LevelNormal
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// Blocked reports whether the operation class is blocked at the current level.
func (c *Controller) Blocked(op Operation) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	level := c.level
	c.mu.RUnlock()
	for _, blocked := range restrictions[level] {
		if blocked == op {
			return true
		}
	}
	return false
}

// OracleTriggered reports whether the current pause was caused by an oracle
// health failure.
func (c *Controller) OracleTriggered() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oracleTriggered
}

// Escalate raises the pause level. Guardians may escalate up to the configured
// ceiling; governors may escalate to any level.
func (c *Controller) Escalate(caller ethcommon.Address, to Level, trigger Trigger, reason string) error {
	if c == nil {
		return fmt.Errorf("pause: controller not initialised")
	}
	if to < LevelNormal || to > maxLevel {
		return ErrInvalidLevel
	}
	if err := c.grants.Require(caller, access.CapGuardian); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if to <= c.level {
		return ErrNotEscalation
	}
	if to > c.guardianCeiling && !c.grants.Held(caller).Has(access.CapGovernor) {
		return ErrAboveGuardianCeiling
	}
	c.applyLocked(to, trigger, reason)
	return nil
}

// AutoEscalate raises the level without a capability check. Used by the mint
// policy engine when it discovers an unhealthy oracle mid-operation.
func (c *Controller) AutoEscalate(to Level, reason string) {
	if c == nil {
		return
	}
	if to < LevelNormal || to > maxLevel {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if to <= c.level {
		return
	}
	c.applyLocked(to, TriggerOracle, reason)
}

// Resume lowers the pause level. Requires the governor capability, and a
// healthy oracle when the prior escalation was oracle-triggered.
func (c *Controller) Resume(caller ethcommon.Address, to Level, reason string) error {
	if c == nil {
		return fmt.Errorf("pause: controller not initialised")
	}
	if to < LevelNormal || to > maxLevel {
		return ErrInvalidLevel
	}
	if err := c.grants.Require(caller, access.CapGovernor); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if to >= c.level {
		return ErrNotDeescalation
	}
	if c.oracleTriggered {
		if c.oracleHealthy == nil || !c.oracleHealthy() {
			return ErrOracleUnhealthy
		}
		c.oracleTriggered = false
	}
	c.applyLocked(to, TriggerManual, reason)
	return nil
}

func (c *Controller) applyLocked(to Level, trigger Trigger, reason string) {
	previous := c.level
	c.level = to
	if trigger == TriggerOracle {
		c.oracleTriggered = true
	}
	c.emitter.Emit(events.PauseLevelChanged{
		Previous: int(previous),
		Current:  int(to),
		Reason:   strings.TrimSpace(reason),
	})
}
