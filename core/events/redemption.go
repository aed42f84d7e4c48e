package events

import (
	"math/big"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	// TypeRedemptionRequested is emitted when a holder queues a redemption.
	TypeRedemptionRequested = "redemption.requested"
	// TypeRedemptionExecuted is emitted when a queued redemption settles.
	TypeRedemptionExecuted = "redemption.executed"
	// TypeRedemptionCancelled is emitted when a holder cancels before settlement.
	TypeRedemptionCancelled = "redemption.cancelled"
)

// RedemptionRequested records the burn-at-request and the unlock schedule.
type RedemptionRequested struct {
	Holder     ethcommon.Address
	Amount     *big.Int
	UnlockTime int64
	DailyUsed  *big.Int
}

func (RedemptionRequested) EventType() string { return TypeRedemptionRequested }

func (e RedemptionRequested) Attributes() map[string]string {
	return map[string]string{
		"holder":     strings.ToLower(e.Holder.Hex()),
		"amount":     bigString(e.Amount),
		"unlockTime": strconv.FormatInt(e.UnlockTime, 10),
		"dailyUsed":  bigString(e.DailyUsed),
	}
}

// RedemptionExecuted records the payout that settled a queued request.
type RedemptionExecuted struct {
	Holder      ethcommon.Address
	TokenAmount *big.Int
	Payout      *big.Int
	FeePaid     *big.Int
}

func (RedemptionExecuted) EventType() string { return TypeRedemptionExecuted }

func (e RedemptionExecuted) Attributes() map[string]string {
	return map[string]string{
		"holder":      strings.ToLower(e.Holder.Hex()),
		"tokenAmount": bigString(e.TokenAmount),
		"payout":      bigString(e.Payout),
		"feePaid":     bigString(e.FeePaid),
	}
}

// RedemptionCancelled records the returned tokens for a cancelled request.
type RedemptionCancelled struct {
	Holder ethcommon.Address
	Amount *big.Int
}

func (RedemptionCancelled) EventType() string { return TypeRedemptionCancelled }

func (e RedemptionCancelled) Attributes() map[string]string {
	return map[string]string{
		"holder": strings.ToLower(e.Holder.Hex()),
		"amount": bigString(e.Amount),
	}
}
