package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/rikitrader/secure-mint-engine-sub001/core/events"
	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
)

const ratioDenominator = 10_000

var (
	// ErrOracleUnhealthy indicates fewer live attestations than the quorum.
	ErrOracleUnhealthy = errors.New("oracle: insufficient attestations")
	// ErrOracleStale indicates at least one live attestation exceeds the max age.
	ErrOracleStale = errors.New("oracle: attestation stale")
	// ErrInvalidBacking indicates a nil or negative reported backing value.
	ErrInvalidBacking = errors.New("oracle: invalid backing value")
	// ErrInvalidRatio indicates a backing ratio below 100% (10000 bps).
	ErrInvalidRatio = errors.New("oracle: backing ratio below 10000 bps")
	// ErrUnknownAttestor indicates the address has no live attestation or
	// authorization to revoke.
	ErrUnknownAttestor = errors.New("oracle: unknown attestor")
)

// Attestation is one attestor's live backing report. Resubmission overwrites
// the prior entry; only the freshest report per attestor ever counts.
type Attestation struct {
	Attestor    ethcommon.Address
	Backing     *big.Int
	ProofDigest string
	SubmittedAt time.Time
}

// Copy returns a detached attestation safe to hand out of the lock.
func (a Attestation) Copy() Attestation {
	out := a
	if a.Backing != nil {
		out.Backing = new(big.Int).Set(a.Backing)
	}
	return out
}

// Consensus aggregates per-attestor backing reports into a single verified
// figure. Aggregation is lazy: submission records, reads evaluate.
type Consensus struct {
	mu           sync.RWMutex
	grants       *access.Grants
	authorized   map[ethcommon.Address]struct{}
	attestations map[ethcommon.Address]Attestation
	minAttestors int
	maxAge       time.Duration
	ratioBps     uint64
	clock        func() time.Time
	emitter      events.Emitter
}

// NewConsensus constructs the aggregator. The ratio scales required backing
// per unit of supply and must be at least 10000 bps (fully backed).
func NewConsensus(grants *access.Grants, minAttestors int, maxAge time.Duration, ratioBps uint64) (*Consensus, error) {
	if minAttestors <= 0 {
		return nil, fmt.Errorf("oracle: min attestors must be positive")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("oracle: max age must be positive")
	}
	if ratioBps < ratioDenominator {
		return nil, ErrInvalidRatio
	}
	return &Consensus{
		grants:       grants,
		authorized:   make(map[ethcommon.Address]struct{}),
		attestations: make(map[ethcommon.Address]Attestation),
		minAttestors: minAttestors,
		maxAge:       maxAge,
		ratioBps:     ratioBps,
		clock:        time.Now,
		emitter:      events.NoopEmitter{},
	}, nil
}

// SetClock overrides the time source. Primarily for tests.
func (c *Consensus) SetClock(clock func() time.Time) {
	if c == nil || clock == nil {
		return
	}
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// SetEmitter configures the event sink. Passing nil resets to a no-op.
func (c *Consensus) SetEmitter(emitter events.Emitter) {
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

// SetMaxAge updates the staleness threshold. Invoked by governance after the
// corresponding timelock matures.
func (c *Consensus) SetMaxAge(maxAge time.Duration) error {
	if c == nil {
		return fmt.Errorf("oracle: consensus not initialised")
	}
	if maxAge <= 0 {
		return fmt.Errorf("oracle: max age must be positive")
	}
	c.mu.Lock()
	c.maxAge = maxAge
	c.mu.Unlock()
	return nil
}

// MaxAge returns the current staleness threshold.
func (c *Consensus) MaxAge() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxAge
}

// Authorize seeds an attestor without a capability check. Intended for
// bootstrap from configuration; runtime changes go through AddAttestor.
func (c *Consensus) Authorize(attestor ethcommon.Address) {
	if c == nil || attestor == (ethcommon.Address{}) {
		return
	}
	c.mu.Lock()
	c.authorized[attestor] = struct{}{}
	c.mu.Unlock()
}

// AddAttestor authorizes an address to submit attestations.
func (c *Consensus) AddAttestor(caller, attestor ethcommon.Address) error {
	if c == nil {
		return fmt.Errorf("oracle: consensus not initialised")
	}
	if attestor == (ethcommon.Address{}) {
		return fmt.Errorf("oracle: attestor address must not be zero")
	}
	if err := c.grants.Require(caller, access.CapAttestorAdmin); err != nil {
		return err
	}
	c.mu.Lock()
	c.authorized[attestor] = struct{}{}
	c.mu.Unlock()
	return nil
}

// RevokeAttestor removes authorization and discards the attestor's live
// attestation so it can no longer anchor consensus.
func (c *Consensus) RevokeAttestor(caller, attestor ethcommon.Address) error {
	if c == nil {
		return fmt.Errorf("oracle: consensus not initialised")
	}
	if err := c.grants.Require(caller, access.CapAttestorAdmin); err != nil {
		return err
	}
	c.mu.Lock()
	if _, ok := c.authorized[attestor]; !ok {
		c.mu.Unlock()
		return ErrUnknownAttestor
	}
	delete(c.authorized, attestor)
	delete(c.attestations, attestor)
	emitter := c.emitter
	c.mu.Unlock()
	emitter.Emit(events.AttestorRevoked{Attestor: attestor})
	return nil
}

// SubmitAttestation records a fresh backing report for the caller, replacing
// any prior one. No aggregation or invariant check happens here.
func (c *Consensus) SubmitAttestation(attestor ethcommon.Address, backing *big.Int, proof []byte) error {
	if c == nil {
		return fmt.Errorf("oracle: consensus not initialised")
	}
	if backing == nil || backing.Sign() < 0 {
		return ErrInvalidBacking
	}
	c.mu.Lock()
	if _, ok := c.authorized[attestor]; !ok {
		c.mu.Unlock()
		return access.ErrNotAuthorized
	}
	now := c.clock().UTC()
	att := Attestation{
		Attestor:    attestor,
		Backing:     new(big.Int).Set(backing),
		ProofDigest: ethcrypto.Keccak256Hash(proof).Hex(),
		SubmittedAt: now,
	}
	c.attestations[attestor] = att
	emitter := c.emitter
	c.mu.Unlock()
	emitter.Emit(events.AttestationSubmitted{
		Attestor:    att.Attestor,
		Backing:     att.Backing,
		ProofDigest: att.ProofDigest,
		SubmittedAt: now.Unix(),
	})
	return nil
}

// VerifiedBacking returns the conservative consensus value: the minimum
// backing across live attestations. It requires at least the quorum of
// attestations and rejects the whole set if any one is older than MaxAge,
// since a stale attestor may be masking a drawdown.
func (c *Consensus) VerifiedBacking() (*big.Int, error) {
	if c == nil {
		return nil, fmt.Errorf("oracle: consensus not initialised")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifiedBackingLocked()
}

func (c *Consensus) verifiedBackingLocked() (*big.Int, error) {
	if len(c.attestations) < c.minAttestors {
		return nil, ErrOracleUnhealthy
	}
	now := c.clock().UTC()
	var minBacking *big.Int
	for _, att := range c.attestations {
		if now.Sub(att.SubmittedAt) > c.maxAge {
			return nil, fmt.Errorf("%w: attestor %s", ErrOracleStale, att.Attestor.Hex())
		}
		if minBacking == nil || att.Backing.Cmp(minBacking) < 0 {
			minBacking = att.Backing
		}
	}
	return new(big.Int).Set(minBacking), nil
}

// Healthy reports whether a verified backing figure is currently derivable.
func (c *Consensus) Healthy() bool {
	_, err := c.VerifiedBacking()
	return err == nil
}

// DataAge returns the age of the most stale live attestation, which is the
// binding freshness constraint on consensus.
func (c *Consensus) DataAge() (time.Duration, error) {
	if c == nil {
		return 0, fmt.Errorf("oracle: consensus not initialised")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.attestations) == 0 {
		return 0, ErrOracleUnhealthy
	}
	now := c.clock().UTC()
	var oldest time.Duration
	for _, att := range c.attestations {
		if age := now.Sub(att.SubmittedAt); age > oldest {
			oldest = age
		}
	}
	return oldest, nil
}

// RequiredBacking returns the collateral required to support the supplied
// token supply at the configured ratio.
func (c *Consensus) RequiredBacking(supply *big.Int) *big.Int {
	if c == nil || supply == nil || supply.Sign() <= 0 {
		return big.NewInt(0)
	}
	c.mu.RLock()
	ratio := c.ratioBps
	c.mu.RUnlock()
	required := new(big.Int).Mul(supply, new(big.Int).SetUint64(ratio))
	return required.Quo(required, big.NewInt(ratioDenominator))
}

// CanMint reports whether verified backing covers the post-mint supply at the
// configured ratio. The error is non-nil when consensus is unavailable.
func (c *Consensus) CanMint(currentSupply, amount *big.Int) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("oracle: consensus not initialised")
	}
	verified, err := c.VerifiedBacking()
	if err != nil {
		return false, err
	}
	newSupply := new(big.Int).Add(currentSupply, amount)
	return c.RequiredBacking(newSupply).Cmp(verified) <= 0, nil
}

// Attestations returns detached copies of the live attestation set for
// point-in-time reads and reporting.
func (c *Consensus) Attestations() []Attestation {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Attestation, 0, len(c.attestations))
	for _, att := range c.attestations {
		out = append(out, att.Copy())
	}
	return out
}
