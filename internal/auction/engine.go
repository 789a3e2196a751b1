// Package auction implements a single-lot reverse Dutch auction settlement
// engine: a seller escrows a fixed quantity of an asset, the offer price
// decays linearly from a start price to zero over a fixed duration, and the
// first sufficient payment wins the lot in one atomic exchange.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// Config holds the auction parameters, frozen at a successful Start.
type Config struct {
	Seller     Account
	Asset      Asset
	Amount     *big.Int
	StartPrice *big.Int
	Duration   time.Duration
	StartTime  time.Time
}

// Snapshot is a consistent read of the auction configuration and state.
type Snapshot struct {
	Status       Status
	Seller       Account
	Asset        Asset
	Amount       *big.Int
	StartPrice   *big.Int
	Duration     time.Duration
	StartTime    time.Time
	Buyer        Account
	SettledPrice *big.Int
}

// Engine owns the state machine of one auction instance. All mutating
// operations run under a single mutex, so no two settlement attempts can
// interleave their read-validate-commit sequences. A settled engine is
// terminal; a fresh instance is constructed per auction.
type Engine struct {
	mu sync.RWMutex

	cfg     Config
	active  bool
	settled bool
	buyer   Account
	// settledPrice freezes the price captured at the winning purchase.
	settledPrice *big.Int

	seller Account
	escrow Account
	ledger AssetLedger
	rail   PaymentRail
	clock  Clock
	log    *slog.Logger
}

// NewEngine constructs an engine for a single auction. The seller identity is
// fixed at construction and escrow names the ledger account under which the
// engine holds the lot.
func NewEngine(seller, escrow Account, ledger AssetLedger, rail PaymentRail, clock Clock, log *slog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		seller: seller,
		escrow: escrow,
		ledger: ledger,
		rail:   rail,
		clock:  clock,
		log:    log,
	}
}

// Start escrows the lot and activates the auction. It is seller-only and
// one-shot: a second call fails with ErrAlreadyStarted regardless of whether
// the auction settled in between. No state is mutated when the escrow
// transfer is rejected.
func (e *Engine) Start(ctx context.Context, caller Account, asset Asset, amount, startPrice *big.Int, duration time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.seller {
		return ErrUnauthorized
	}
	if !IsTransitionAllowed(e.statusLocked(), StatusActive) {
		return ErrAlreadyStarted
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount", ErrInvalidParameters)
	}
	if startPrice == nil || startPrice.Sign() <= 0 {
		return fmt.Errorf("%w: start price", ErrInvalidParameters)
	}
	if duration < time.Second {
		return fmt.Errorf("%w: duration", ErrInvalidParameters)
	}

	if err := e.ledger.TransferFrom(ctx, e.seller, e.escrow, asset, amount); err != nil {
		e.log.Error("escrow transfer rejected",
			slog.String("seller", string(e.seller)),
			slog.String("asset", string(asset)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", ErrEscrowTransfer, err)
	}

	e.cfg = Config{
		Seller:     e.seller,
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		StartPrice: new(big.Int).Set(startPrice),
		Duration:   duration,
		StartTime:  e.clock.Now(),
	}
	e.active = true

	transitionRecorder(string(StatusPending), string(StatusActive))

	e.log.Info("auction started",
		slog.String("seller", string(e.seller)),
		slog.String("asset", string(asset)),
		slog.String("amount", amount.String()),
		slog.String("start_price", startPrice.String()),
		slog.Duration("duration", duration),
	)

	return nil
}

// CurrentPrice returns the offer price at this instant. Before Start it fails
// with ErrAuctionInactive; after settlement it reports the price frozen at
// the winning purchase.
func (e *Engine) CurrentPrice() (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case e.settled:
		return new(big.Int).Set(e.settledPrice), nil
	case e.active:
		return priceAt(e.cfg.StartPrice, e.cfg.Duration, e.cfg.StartTime, e.clock.Now()), nil
	default:
		return nil, ErrAuctionInactive
	}
}

// Buy attempts the atomic settlement: the current price is read and validated
// against the payment under the same lock that commits the state flags, so a
// stale quote can never be exploited. The state latch is committed before any
// external transfer is issued; if either leg fails the latch is reverted and
// the already-moved leg is compensated, leaving the auction exactly as it was.
func (e *Engine) Buy(ctx context.Context, buyer Account, payment *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !IsTransitionAllowed(e.statusLocked(), StatusSettled) {
		return ErrAuctionInactive
	}

	price := priceAt(e.cfg.StartPrice, e.cfg.Duration, e.cfg.StartTime, e.clock.Now())
	if payment == nil || payment.Cmp(price) < 0 {
		return ErrInsufficientPayment
	}

	// Commit the latch before touching external resources. Only the exact
	// current price is captured from the payment; any excess stays with the
	// buyer.
	e.active = false
	e.settled = true
	e.buyer = buyer
	e.settledPrice = price

	if err := e.rail.Transfer(ctx, buyer, e.seller, price); err != nil {
		e.rollbackSettlement()
		e.log.Error("payment leg rejected, purchase rolled back",
			slog.String("buyer", string(buyer)),
			slog.String("price", price.String()),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: payment leg: %v", ErrSettlementTransfer, err)
	}

	if err := e.ledger.Transfer(ctx, e.escrow, buyer, e.cfg.Asset, e.cfg.Amount); err != nil {
		// Return the captured payment before reverting the latch.
		if refundErr := e.rail.Transfer(ctx, e.seller, buyer, price); refundErr != nil {
			e.log.Error("payment compensation failed after asset leg rejection",
				slog.String("buyer", string(buyer)),
				slog.String("price", price.String()),
				slog.Any("error", refundErr),
			)
		}
		e.rollbackSettlement()
		e.log.Error("asset leg rejected, purchase rolled back",
			slog.String("buyer", string(buyer)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: asset leg: %v", ErrSettlementTransfer, err)
	}

	transitionRecorder(string(StatusActive), string(StatusSettled))

	e.log.Info("auction settled",
		slog.String("buyer", string(buyer)),
		slog.String("asset", string(e.cfg.Asset)),
		slog.String("amount", e.cfg.Amount.String()),
		slog.String("price", price.String()),
	)

	return nil
}

func (e *Engine) rollbackSettlement() {
	e.active = true
	e.settled = false
	e.buyer = ""
	e.settledPrice = nil
}

// Seller returns the designated seller identity.
func (e *Engine) Seller() Account {
	return e.seller
}

// Active reports whether the auction is open for purchase.
func (e *Engine) Active() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.active
}

// Settled reports whether a purchase completed.
func (e *Engine) Settled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.settled
}

// Buyer returns the winning purchaser, or the empty account before settlement.
func (e *Engine) Buyer() Account {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.buyer
}

// Status derives the lifecycle status from the state flags.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	switch {
	case e.settled:
		return StatusSettled
	case e.active:
		return StatusActive
	default:
		return StatusPending
	}
}

// SnapshotState returns a consistent copy of configuration and state.
func (e *Engine) SnapshotState() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Status:    e.statusLocked(),
		Seller:    e.seller,
		Asset:     e.cfg.Asset,
		Duration:  e.cfg.Duration,
		StartTime: e.cfg.StartTime,
		Buyer:     e.buyer,
	}

	if e.cfg.Amount != nil {
		snap.Amount = new(big.Int).Set(e.cfg.Amount)
	}
	if e.cfg.StartPrice != nil {
		snap.StartPrice = new(big.Int).Set(e.cfg.StartPrice)
	}
	if e.settledPrice != nil {
		snap.SettledPrice = new(big.Int).Set(e.settledPrice)
	}

	return snap
}
