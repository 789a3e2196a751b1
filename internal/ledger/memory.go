// Package ledger provides asset-ledger implementations consumed by the
// auction engine: an in-process ledger for tests and single-node runs, and a
// Redis-backed ledger for deployments that share balances between processes.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/w3bx/dutchswap/internal/auction"
)

var (
	// ErrInsufficientBalance indicates that the owner does not hold the requested amount.
	ErrInsufficientBalance = errors.New("insufficient asset balance")
	// ErrInsufficientAllowance indicates that the owner has not approved the requested escrow.
	ErrInsufficientAllowance = errors.New("insufficient asset allowance")
	// ErrInvalidAmount indicates a nil or negative transfer amount.
	ErrInvalidAmount = errors.New("transfer amount must be non-negative")
)

type balanceKey struct {
	account auction.Account
	asset   auction.Asset
}

type allowanceKey struct {
	owner   auction.Account
	spender auction.Account
	asset   auction.Asset
}

// MemoryLedger is an in-process asset ledger with ERC20-style allowance
// semantics: escrow through TransferFrom requires a prior Approve by the
// owner in favour of the receiving account.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	log        *slog.Logger
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger(log *slog.Logger) *MemoryLedger {
	if log == nil {
		log = slog.Default()
	}

	return &MemoryLedger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		log:        log,
	}
}

// Mint credits an account, creating supply out of thin air. Intended for
// seeding development environments and tests.
func (l *MemoryLedger) Mint(_ context.Context, account auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.creditLocked(account, asset, amount)
	return nil
}

// Approve grants spender the right to pull up to amount of the owner's asset.
func (l *MemoryLedger) Approve(_ context.Context, owner, spender auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.allowances[allowanceKey{owner: owner, spender: spender, asset: asset}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining amount spender may pull from owner.
func (l *MemoryLedger) Allowance(_ context.Context, owner, spender auction.Account, asset auction.Asset) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowances[allowanceKey{owner: owner, spender: spender, asset: asset}]
	if allowance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(allowance), nil
}

// TransferFrom moves the owner's asset to the receiving account, consuming
// the matching allowance. Nothing moves when balance or allowance is short.
func (l *MemoryLedger) TransferFrom(_ context.Context, owner, to auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{owner: owner, spender: to, asset: asset}
	allowance := l.allowances[key]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	if err := l.moveLocked(owner, to, asset, amount); err != nil {
		return err
	}

	allowance.Sub(allowance, amount)
	return nil
}

// Transfer moves the sender's own balance.
func (l *MemoryLedger) Transfer(_ context.Context, from, to auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.moveLocked(from, to, asset, amount)
}

// BalanceOf returns the account's balance for the asset, zero when unknown.
func (l *MemoryLedger) BalanceOf(_ context.Context, account auction.Account, asset auction.Asset) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[balanceKey{account: account, asset: asset}]
	if balance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func (l *MemoryLedger) creditLocked(account auction.Account, asset auction.Asset, amount *big.Int) {
	key := balanceKey{account: account, asset: asset}
	if l.balances[key] == nil {
		l.balances[key] = new(big.Int)
	}
	l.balances[key].Add(l.balances[key], amount)
}

func (l *MemoryLedger) moveLocked(from, to auction.Account, asset auction.Asset, amount *big.Int) error {
	balance := l.balances[balanceKey{account: from, asset: asset}]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	balance.Sub(balance, amount)
	l.creditLocked(to, asset, amount)
	return nil
}
