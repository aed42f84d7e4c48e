package events

import (
	"math/big"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	// TypeReserveDeposited is emitted on every tier deposit.
	TypeReserveDeposited = "treasury.deposited"
	// TypeReserveWithdrawn is emitted on every tier withdrawal.
	TypeReserveWithdrawn = "treasury.withdrawn"
	// TypeTierTransfer is emitted when value moves between tiers.
	TypeTierTransfer = "treasury.tier_transfer"
	// TypeRebalanced is emitted after a rebalance pass completes.
	TypeRebalanced = "treasury.rebalanced"
	// TypeEmergencyWithdrawal marks an emergency drain across tiers.
	TypeEmergencyWithdrawal = "treasury.emergency_withdrawal"
)

// ReserveDeposited captures a deposit and the resulting totals.
type ReserveDeposited struct {
	Tier          string
	Amount        *big.Int
	TotalReserves *big.Int
}

func (ReserveDeposited) EventType() string { return TypeReserveDeposited }

func (e ReserveDeposited) Attributes() map[string]string {
	return map[string]string{
		"tier":          e.Tier,
		"amount":        bigString(e.Amount),
		"totalReserves": bigString(e.TotalReserves),
	}
}

// ReserveWithdrawn captures a withdrawal and the operator supplied reason.
type ReserveWithdrawn struct {
	Tier          string
	To            ethcommon.Address
	Amount        *big.Int
	Reason        string
	TotalReserves *big.Int
}

func (ReserveWithdrawn) EventType() string { return TypeReserveWithdrawn }

func (e ReserveWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"tier":          e.Tier,
		"to":            strings.ToLower(e.To.Hex()),
		"amount":        bigString(e.Amount),
		"reason":        strings.TrimSpace(e.Reason),
		"totalReserves": bigString(e.TotalReserves),
	}
}

// TierTransfer records an internal move that leaves totals unchanged.
type TierTransfer struct {
	From   string
	To     string
	Amount *big.Int
}

func (TierTransfer) EventType() string { return TypeTierTransfer }

func (e TierTransfer) Attributes() map[string]string {
	return map[string]string{
		"from":   e.From,
		"to":     e.To,
		"amount": bigString(e.Amount),
	}
}

// Rebalanced summarises a completed rebalance pass.
type Rebalanced struct {
	Moves         int
	MovedTotal    *big.Int
	TotalReserves *big.Int
}

func (Rebalanced) EventType() string { return TypeRebalanced }

func (e Rebalanced) Attributes() map[string]string {
	return map[string]string{
		"moves":         strconv.Itoa(e.Moves),
		"movedTotal":    bigString(e.MovedTotal),
		"totalReserves": bigString(e.TotalReserves),
	}
}

// EmergencyWithdrawal records an index-ordered drain across tiers.
type EmergencyWithdrawal struct {
	To            ethcommon.Address
	Amount        *big.Int
	Reason        string
	TotalReserves *big.Int
}

func (EmergencyWithdrawal) EventType() string { return TypeEmergencyWithdrawal }

func (e EmergencyWithdrawal) Attributes() map[string]string {
	return map[string]string{
		"to":            strings.ToLower(e.To.Hex()),
		"amount":        bigString(e.Amount),
		"reason":        strings.TrimSpace(e.Reason),
		"totalReserves": bigString(e.TotalReserves),
	}
}
