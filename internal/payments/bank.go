// Package payments implements the native value rail the auction engine uses
// to forward the winning payment to the seller.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/w3bx/dutchswap/internal/auction"
)

var (
	// ErrInsufficientFunds indicates that the payer cannot cover the transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount indicates a nil or negative transfer amount.
	ErrInvalidAmount = errors.New("payment amount must be non-negative")
)

// Bank is an in-process payment rail with per-account value balances.
type Bank struct {
	mu       sync.Mutex
	balances map[auction.Account]*big.Int
	log      *slog.Logger
}

// NewBank returns an empty in-memory payment rail.
func NewBank(log *slog.Logger) *Bank {
	if log == nil {
		log = slog.Default()
	}

	return &Bank{
		balances: make(map[auction.Account]*big.Int),
		log:      log,
	}
}

// Deposit credits an account, for seeding development environments and tests.
func (b *Bank) Deposit(_ context.Context, account auction.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.creditLocked(account, amount)
	return nil
}

// Transfer moves value between accounts; nothing moves when funds are short.
func (b *Bank) Transfer(_ context.Context, from, to auction.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		// Zero-price settlements move nothing; accounts need not exist.
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	balance := b.balances[from]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}

	balance.Sub(balance, amount)
	b.creditLocked(to, amount)
	return nil
}

// BalanceOf returns the account's value balance, zero when unknown.
func (b *Bank) BalanceOf(_ context.Context, account auction.Account) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	balance := b.balances[account]
	if balance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func (b *Bank) creditLocked(account auction.Account, amount *big.Int) {
	if b.balances[account] == nil {
		b.balances[account] = new(big.Int)
	}
	b.balances[account].Add(b.balances[account], amount)
}
