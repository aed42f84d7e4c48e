package events

import (
	"math/big"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	// TypeMinted is emitted whenever a policy-approved mint settles.
	TypeMinted = "policy.minted"
	// TypeMintDenied is emitted when a mint attempt is refused by policy.
	TypeMintDenied = "policy.mint_denied"
	// TypeEpochRolled marks the start of a fresh mint epoch.
	TypeEpochRolled = "policy.epoch_rolled"
)

// Minted captures a settled mint together with the counters that bounded it.
type Minted struct {
	Recipient       ethcommon.Address
	Amount          *big.Int
	EpochMinted     *big.Int
	TotalSupply     *big.Int
	VerifiedBacking *big.Int
}

func (Minted) EventType() string { return TypeMinted }

// Attributes renders the event payload for downstream sinks.
func (e Minted) Attributes() map[string]string {
	return map[string]string{
		"recipient":       strings.ToLower(e.Recipient.Hex()),
		"amount":          bigString(e.Amount),
		"epochMinted":     bigString(e.EpochMinted),
		"totalSupply":     bigString(e.TotalSupply),
		"verifiedBacking": bigString(e.VerifiedBacking),
	}
}

// MintDenied records a refused mint and the reason the policy gave.
type MintDenied struct {
	Recipient ethcommon.Address
	Amount    *big.Int
	Reason    string
}

func (MintDenied) EventType() string { return TypeMintDenied }

func (e MintDenied) Attributes() map[string]string {
	return map[string]string{
		"recipient": strings.ToLower(e.Recipient.Hex()),
		"amount":    bigString(e.Amount),
		"reason":    strings.TrimSpace(e.Reason),
	}
}

// EpochRolled is emitted when the rate-limit window resets.
type EpochRolled struct {
	PreviousMinted *big.Int
	EpochStart     int64
}

func (EpochRolled) EventType() string { return TypeEpochRolled }

func (e EpochRolled) Attributes() map[string]string {
	return map[string]string{
		"previousMinted": bigString(e.PreviousMinted),
		"epochStart":     strconv.FormatInt(e.EpochStart, 10),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
