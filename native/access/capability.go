package access

import (
	"errors"
	"sort"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ErrNotAuthorized indicates the caller does not hold the required capability.
var ErrNotAuthorized = errors.New("access: not authorized")

// Capability is a bit flag naming one privileged operation class.
type Capability uint32

const (
	// CapMint permits calling the mint policy engine.
	CapMint Capability = 1 << iota
	// CapBurn permits burning through the external ledger.
	CapBurn
	// CapAttest permits submitting oracle attestations.
	CapAttest
	// CapAttestorAdmin permits granting and revoking attestors.
	CapAttestorAdmin
	// CapGuardian permits escalating the emergency pause level.
	CapGuardian
	// CapGovernor permits de-escalation and timelocked parameter changes.
	CapGovernor
	// CapTreasury permits treasury deposits, withdrawals, and rebalancing.
	CapTreasury
)

var capabilityNames = map[Capability]string{
	CapMint:          "mint",
	CapBurn:          "burn",
	CapAttest:        "attest",
	CapAttestorAdmin: "attestor_admin",
	CapGuardian:      "guardian",
	CapGovernor:      "governor",
	CapTreasury:      "treasury",
}

// String renders the capability set as a sorted comma separated list.
func (c Capability) String() string {
	names := make([]string, 0, len(capabilityNames))
	for flag, name := range capabilityNames {
		if c&flag != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Has reports whether every flag in required is present.
func (c Capability) Has(required Capability) bool {
	return c&required == required
}

// Parse resolves a single capability name to its flag.
func Parse(name string) (Capability, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for flag, candidate := range capabilityNames {
		if candidate == needle {
			return flag, true
		}
	}
	return 0, false
}

// ParseSet resolves a list of capability names into a combined flag set.
func ParseSet(names []string) (Capability, error) {
	var set Capability
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		flag, ok := Parse(trimmed)
		if !ok {
			return 0, errors.New("access: unknown capability " + trimmed)
		}
		set |= flag
	}
	return set, nil
}

// Grants maps callers to their capability sets. Safe for concurrent use.
type Grants struct {
	mu     sync.RWMutex
	grants map[ethcommon.Address]Capability
}

// NewGrants constructs an empty grant table.
func NewGrants() *Grants {
	return &Grants{grants: make(map[ethcommon.Address]Capability)}
}

// Grant adds the supplied capabilities to the caller's set.
func (g *Grants) Grant(caller ethcommon.Address, caps Capability) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.grants[caller] |= caps
	g.mu.Unlock()
}

// Revoke removes the supplied capabilities from the caller's set.
func (g *Grants) Revoke(caller ethcommon.Address, caps Capability) {
	if g == nil {
		return
	}
	g.mu.Lock()
	remaining := g.grants[caller] &^ caps
	if remaining == 0 {
		delete(g.grants, caller)
	} else {
		g.grants[caller] = remaining
	}
	g.mu.Unlock()
}

// Held returns the caller's current capability set.
func (g *Grants) Held(caller ethcommon.Address) Capability {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.grants[caller]
}

// Require returns ErrNotAuthorized unless the caller holds every required flag.
func (g *Grants) Require(caller ethcommon.Address, required Capability) error {
	if g == nil {
		return ErrNotAuthorized
	}
	if !g.Held(caller).Has(required) {
		return ErrNotAuthorized
	}
	return nil
}
