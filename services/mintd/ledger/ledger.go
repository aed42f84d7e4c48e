// Package ledger is the daemon's in-process supply book. Deployments that
// settle against an external chain swap this for an adapter satisfying the
// same interface; the policy engine and redemption queue only see the
// interface.
package ledger

import (
	"errors"
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
)

var (
	ErrZeroAddress         = errors.New("ledger: zero address")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrTransfersRestricted = errors.New("ledger: transfers restricted")
)

// Book tracks per-address balances and the total supply.
type Book struct {
	mu       sync.Mutex
	balances map[ethcommon.Address]*big.Int
	supply   *big.Int
	pauses   pause.View
}

// NewBook returns an empty supply book. The pause view may be nil, in which
// case transfers are never restricted.
func NewBook(pauses pause.View) *Book {
	return &Book{
		balances: make(map[ethcommon.Address]*big.Int),
		supply:   big.NewInt(0),
		pauses:   pauses,
	}
}

// Mint credits freshly issued tokens. Policy checks happen upstream; the book
// only enforces well-formed inputs.
func (b *Book) Mint(to ethcommon.Address, amount *big.Int) error {
	if b == nil {
		return errors.New("ledger: book not initialised")
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creditLocked(to, amount)
	b.supply = new(big.Int).Add(b.supply, amount)
	return nil
}

// Burn destroys tokens held by from.
func (b *Book) Burn(from ethcommon.Address, amount *big.Int) error {
	if b == nil {
		return errors.New("ledger: book not initialised")
	}
	if from == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debitLocked(from, amount); err != nil {
		return err
	}
	b.supply = new(big.Int).Sub(b.supply, amount)
	return nil
}

// Transfer moves tokens between holders. Blocked once the pause controller
// restricts transfers.
func (b *Book) Transfer(from, to ethcommon.Address, amount *big.Int) error {
	if b == nil {
		return errors.New("ledger: book not initialised")
	}
	if from == (ethcommon.Address{}) || to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := pause.Guard(b.pauses, pause.OpTransfer); err != nil {
		return errors.Join(ErrTransfersRestricted, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debitLocked(from, amount); err != nil {
		return err
	}
	b.creditLocked(to, amount)
	return nil
}

// TotalSupply returns the outstanding supply.
func (b *Book) TotalSupply() (*big.Int, error) {
	if b == nil {
		return nil, errors.New("ledger: book not initialised")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.supply), nil
}

// BalanceOf returns the holder's balance, zero when unknown.
func (b *Book) BalanceOf(addr ethcommon.Address) (*big.Int, error) {
	if b == nil {
		return nil, errors.New("ledger: book not initialised")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if balance, ok := b.balances[addr]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (b *Book) creditLocked(addr ethcommon.Address, amount *big.Int) {
	balance := b.balances[addr]
	if balance == nil {
		balance = big.NewInt(0)
	}
	b.balances[addr] = new(big.Int).Add(balance, amount)
}

func (b *Book) debitLocked(addr ethcommon.Address, amount *big.Int) error {
	balance := b.balances[addr]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.balances[addr] = new(big.Int).Sub(balance, amount)
	return nil
}
