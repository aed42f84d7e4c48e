package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rikitrader/secure-mint-engine-sub001/native/treasury"
)

// Status is the operator-facing snapshot served by GET /v1/status.
type Status struct {
	PauseLevel      int                 `json:"pauseLevel"`
	OracleHealthy   bool                `json:"oracleHealthy"`
	OracleDataAge   string              `json:"oracleDataAge,omitempty"`
	VerifiedBacking *big.Int            `json:"verifiedBacking,omitempty"`
	TotalSupply     *big.Int            `json:"totalSupply"`
	GlobalSupplyCap *big.Int            `json:"globalSupplyCap"`
	EpochMinted     *big.Int            `json:"epochMinted"`
	EpochRemaining  *big.Int            `json:"epochRemaining"`
	EpochMintCap    *big.Int            `json:"epochMintCap"`
	TierBalances    map[string]*big.Int `json:"tierBalances"`
	TotalReserves   *big.Int            `json:"totalReserves"`
	DailyRedeemed   *big.Int            `json:"dailyRedeemed"`
	PegDeviationBps uint64              `json:"pegDeviationBps"`
	TakenAt         time.Time           `json:"takenAt"`
}

// InvariantReport is the result of a full solvency sweep, served by
// GET /v1/invariants. Violations is empty when every check holds.
type InvariantReport struct {
	CheckedAt          time.Time `json:"checkedAt"`
	OracleHealthy      bool      `json:"oracleHealthy"`
	Solvent            bool      `json:"solvent"`
	SupplyWithinCap    bool      `json:"supplyWithinCap"`
	EpochWithinCap     bool      `json:"epochWithinCap"`
	ReservesConsistent bool      `json:"reservesConsistent"`
	PauseLevel         int       `json:"pauseLevel"`
	VerifiedBacking    *big.Int  `json:"verifiedBacking,omitempty"`
	RequiredBacking    *big.Int  `json:"requiredBacking"`
	TotalSupply        *big.Int  `json:"totalSupply"`
	TotalReserves      *big.Int  `json:"totalReserves"`
	Violations         []string  `json:"violations"`
}

// Healthy reports whether the sweep found no violations.
func (r InvariantReport) Healthy() bool {
	return len(r.Violations) == 0
}

// Status assembles the operator snapshot and refreshes the gauges from it.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var status Status
	err := s.observe(ctx, "status", nil, func(ctx context.Context) error {
		supply, err := s.ledger.TotalSupply()
		if err != nil {
			return fmt.Errorf("mintd: read supply: %w", err)
		}
		snap := s.treasury.Snapshot()
		tiers := make(map[string]*big.Int, len(snap.Balances))
		for i, balance := range snap.Balances {
			tiers[treasury.Tier(i).String()] = balance
		}
		status = Status{
			PauseLevel:      int(s.pauses.Level()),
			OracleHealthy:   s.oracle.Healthy(),
			TotalSupply:     supply,
			GlobalSupplyCap: s.policy.GlobalSupplyCap(),
			EpochMinted:     s.policy.EpochMinted(),
			EpochRemaining:  s.policy.RemainingEpochMint(),
			EpochMintCap:    s.policy.EpochMintCap(),
			TierBalances:    tiers,
			TotalReserves:   snap.TotalReserves,
			DailyRedeemed:   s.queue.DailyUsed(),
			PegDeviationBps: s.pegDeviation.Load(),
			TakenAt:         s.clock().UTC(),
		}
		if backing, err := s.oracle.VerifiedBacking(); err == nil {
			status.VerifiedBacking = backing
		}
		if age, err := s.oracle.DataAge(); err == nil {
			status.OracleDataAge = age.Round(time.Second).String()
		}
		s.refreshGauges()
		return nil
	})
	return status, err
}

// CheckInvariants sweeps the cross-component solvency conditions: verified
// backing covers the required ratio for the outstanding supply, supply sits
// under the global cap, epoch issuance sits under the epoch cap, and tier
// balances reconcile with the tracked reserve total.
func (s *Service) CheckInvariants(ctx context.Context) (InvariantReport, error) {
	var report InvariantReport
	err := s.observe(ctx, "check_invariants", nil, func(ctx context.Context) error {
		supply, err := s.ledger.TotalSupply()
		if err != nil {
			return fmt.Errorf("mintd: read supply: %w", err)
		}
		snap := s.treasury.Snapshot()
		report = InvariantReport{
			CheckedAt:       s.clock().UTC(),
			OracleHealthy:   s.oracle.Healthy(),
			PauseLevel:      int(s.pauses.Level()),
			RequiredBacking: s.oracle.RequiredBacking(supply),
			TotalSupply:     supply,
			TotalReserves:   snap.TotalReserves,
			Violations:      []string{},
		}

		backing, backingErr := s.oracle.VerifiedBacking()
		if backingErr != nil {
			report.Violations = append(report.Violations, fmt.Sprintf("oracle consensus unavailable: %v", backingErr))
		} else {
			report.VerifiedBacking = backing
			report.Solvent = backing.Cmp(report.RequiredBacking) >= 0
			if !report.Solvent {
				report.Violations = append(report.Violations, fmt.Sprintf(
					"verified backing %s below required %s for supply %s",
					backing, report.RequiredBacking, supply))
			}
		}

		report.SupplyWithinCap = supply.Cmp(s.policy.GlobalSupplyCap()) <= 0
		if !report.SupplyWithinCap {
			report.Violations = append(report.Violations, fmt.Sprintf(
				"total supply %s exceeds global cap %s", supply, s.policy.GlobalSupplyCap()))
		}

		minted := s.policy.EpochMinted()
		report.EpochWithinCap = minted.Cmp(s.policy.EpochMintCap()) <= 0
		if !report.EpochWithinCap {
			report.Violations = append(report.Violations, fmt.Sprintf(
				"epoch minted %s exceeds epoch cap %s", minted, s.policy.EpochMintCap()))
		}

		tierSum := big.NewInt(0)
		for _, balance := range snap.Balances {
			tierSum.Add(tierSum, balance)
		}
		report.ReservesConsistent = tierSum.Cmp(snap.TotalReserves) == 0
		if !report.ReservesConsistent {
			report.Violations = append(report.Violations, fmt.Sprintf(
				"tier balances sum %s does not match tracked total %s", tierSum, snap.TotalReserves))
		}
		return nil
	})
	return report, err
}
