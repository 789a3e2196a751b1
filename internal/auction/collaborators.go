package auction

import (
	"context"
	"math/big"
	"time"
)

// Account identifies a party on the asset ledger and the payment rail.
type Account string

// Asset identifies a fungible asset tracked by an external ledger.
type Asset string

// AssetLedger is the external ledger holding the asset being sold. The engine
// uses TransferFrom to pull the lot into escrow at start (the owner must have
// granted an allowance to the escrow account beforehand) and Transfer to
// release it to the buyer at settlement.
type AssetLedger interface {
	TransferFrom(ctx context.Context, owner, to Account, asset Asset, amount *big.Int) error
	Transfer(ctx context.Context, from, to Account, asset Asset, amount *big.Int) error
	BalanceOf(ctx context.Context, account Account, asset Asset) (*big.Int, error)
}

// PaymentRail moves native payment value between accounts.
type PaymentRail interface {
	Transfer(ctx context.Context, from, to Account, amount *big.Int) error
	BalanceOf(ctx context.Context, account Account) (*big.Int, error)
}

// Clock supplies the current time. Price decay is always computed on demand
// from a clock reading; the engine never runs its own timer.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }
