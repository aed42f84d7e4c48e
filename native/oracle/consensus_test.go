package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
)

var (
	adminAddr     = ethcommon.HexToAddress("0x0000000000000000000000000000000000000a01")
	attestorOne   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b01")
	attestorTwo   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b02")
	attestorThree = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b03")
)

func newTestConsensus(t *testing.T, minAttestors int, maxAge time.Duration) (*Consensus, *time.Time) {
	t.Helper()
	grants := access.NewGrants()
	grants.Grant(adminAddr, access.CapAttestorAdmin)
	consensus, err := NewConsensus(grants, minAttestors, maxAge, 10_000)
	if err != nil {
		t.Fatalf("new consensus: %v", err)
	}
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	consensus.SetClock(func() time.Time { return now })
	for _, attestor := range []ethcommon.Address{attestorOne, attestorTwo, attestorThree} {
		if err := consensus.AddAttestor(adminAddr, attestor); err != nil {
			t.Fatalf("add attestor: %v", err)
		}
	}
	return consensus, &now
}

func submit(t *testing.T, c *Consensus, attestor ethcommon.Address, backing int64) {
	t.Helper()
	if err := c.SubmitAttestation(attestor, big.NewInt(backing), []byte("por")); err != nil {
		t.Fatalf("submit attestation: %v", err)
	}
}

func TestVerifiedBackingTakesMinimum(t *testing.T) {
	consensus, _ := newTestConsensus(t, 3, time.Hour)
	submit(t, consensus, attestorOne, 1_000_000)
	submit(t, consensus, attestorTwo, 900_000)
	submit(t, consensus, attestorThree, 950_000)

	verified, err := consensus.VerifiedBacking()
	if err != nil {
		t.Fatalf("verified backing: %v", err)
	}
	if verified.Cmp(big.NewInt(900_000)) != 0 {
		t.Fatalf("verified = %s, want 900000", verified)
	}
}

func TestQuorumRequired(t *testing.T) {
	consensus, _ := newTestConsensus(t, 2, time.Hour)
	submit(t, consensus, attestorOne, 500_000)
	if _, err := consensus.VerifiedBacking(); !errors.Is(err, ErrOracleUnhealthy) {
		t.Fatalf("expected ErrOracleUnhealthy, got %v", err)
	}
	submit(t, consensus, attestorTwo, 400_000)
	if !consensus.Healthy() {
		t.Fatalf("quorum met, expected healthy")
	}
}

func TestStaleAttestationPoisonsConsensus(t *testing.T) {
	consensus, now := newTestConsensus(t, 2, time.Hour)
	submit(t, consensus, attestorOne, 500_000)
	*now = now.Add(30 * time.Minute)
	submit(t, consensus, attestorTwo, 400_000)
	*now = now.Add(45 * time.Minute)

	// attestorOne is now 75m old: the whole set is rejected even though
	// attestorTwo is still fresh.
	if _, err := consensus.VerifiedBacking(); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale, got %v", err)
	}

	age, err := consensus.DataAge()
	if err != nil {
		t.Fatalf("data age: %v", err)
	}
	if age != 75*time.Minute {
		t.Fatalf("data age = %s, want binding constraint 75m", age)
	}

	// Resubmission refreshes the binding attestation.
	submit(t, consensus, attestorOne, 500_000)
	if !consensus.Healthy() {
		t.Fatalf("expected healthy after resubmission")
	}
}

func TestResubmissionOverwrites(t *testing.T) {
	consensus, _ := newTestConsensus(t, 1, time.Hour)
	submit(t, consensus, attestorOne, 100)
	submit(t, consensus, attestorOne, 250)
	verified, err := consensus.VerifiedBacking()
	if err != nil {
		t.Fatalf("verified backing: %v", err)
	}
	if verified.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("verified = %s, want overwritten value 250", verified)
	}
	if got := len(consensus.Attestations()); got != 1 {
		t.Fatalf("attestation count = %d, want 1", got)
	}
}

func TestSubmitRequiresAuthorization(t *testing.T) {
	consensus, _ := newTestConsensus(t, 1, time.Hour)
	outsider := ethcommon.HexToAddress("0x0000000000000000000000000000000000000c01")
	err := consensus.SubmitAttestation(outsider, big.NewInt(1), nil)
	if !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := consensus.SubmitAttestation(attestorOne, nil, nil); !errors.Is(err, ErrInvalidBacking) {
		t.Fatalf("expected ErrInvalidBacking, got %v", err)
	}
}

func TestRevokeDropsLiveAttestation(t *testing.T) {
	consensus, _ := newTestConsensus(t, 2, time.Hour)
	submit(t, consensus, attestorOne, 300)
	submit(t, consensus, attestorTwo, 200)
	if err := consensus.RevokeAttestor(adminAddr, attestorTwo); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := consensus.VerifiedBacking(); !errors.Is(err, ErrOracleUnhealthy) {
		t.Fatalf("expected quorum loss after revocation, got %v", err)
	}
	if err := consensus.SubmitAttestation(attestorTwo, big.NewInt(1), nil); !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("revoked attestor must not submit, got %v", err)
	}
	if err := consensus.RevokeAttestor(adminAddr, attestorTwo); !errors.Is(err, ErrUnknownAttestor) {
		t.Fatalf("expected ErrUnknownAttestor, got %v", err)
	}
}

func TestCanMintAgainstRatio(t *testing.T) {
	grants := access.NewGrants()
	grants.Grant(adminAddr, access.CapAttestorAdmin)
	consensus, err := NewConsensus(grants, 1, time.Hour, 11_000)
	if err != nil {
		t.Fatalf("new consensus: %v", err)
	}
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	consensus.SetClock(func() time.Time { return now })
	if err := consensus.AddAttestor(adminAddr, attestorOne); err != nil {
		t.Fatalf("add attestor: %v", err)
	}
	submit(t, consensus, attestorOne, 1_100)

	// 110% ratio: backing 1100 covers supply 1000 exactly.
	ok, err := consensus.CanMint(big.NewInt(600), big.NewInt(400))
	if err != nil {
		t.Fatalf("can mint: %v", err)
	}
	if !ok {
		t.Fatalf("expected mint allowed at exact coverage")
	}
	ok, err = consensus.CanMint(big.NewInt(600), big.NewInt(401))
	if err != nil {
		t.Fatalf("can mint: %v", err)
	}
	if ok {
		t.Fatalf("expected mint denied past coverage")
	}
}

func TestRatioBelowParRejected(t *testing.T) {
	if _, err := NewConsensus(access.NewGrants(), 1, time.Hour, 9_999); !errors.Is(err, ErrInvalidRatio) {
		t.Fatalf("expected ErrInvalidRatio, got %v", err)
	}
}
