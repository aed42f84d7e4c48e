package ledger

import (
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
)

func addr(b byte) ethcommon.Address {
	var a ethcommon.Address
	a[19] = b
	return a
}

func TestMintBurnSupply(t *testing.T) {
	book := NewBook(nil)
	holder := addr(1)
	if err := book.Mint(holder, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.Burn(holder, big.NewInt(200)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	supply, err := book.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("supply = %s, want 300", supply)
	}
	if err := book.Burn(holder, big.NewInt(400)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overburn error = %v", err)
	}
}

func TestTransferBlockedDuringSettlementGuard(t *testing.T) {
	grants := access.NewGrants()
	guardian := addr(9)
	grants.Grant(guardian, access.CapGuardian|access.CapGovernor)
	controller := pause.NewController(grants, pause.LevelFullPause)

	book := NewBook(controller)
	from, to := addr(1), addr(2)
	if err := book.Mint(from, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.Transfer(from, to, big.NewInt(40)); err != nil {
		t.Fatalf("transfer at normal level: %v", err)
	}
	if err := controller.Escalate(guardian, pause.LevelFullPause, pause.TriggerManual, "drill"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if err := book.Transfer(from, to, big.NewInt(10)); !errors.Is(err, ErrTransfersRestricted) {
		t.Fatalf("transfer under full pause error = %v", err)
	}
	balance, err := book.BalanceOf(to)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("recipient balance = %s, want 40", balance)
	}
}
