// Package market hosts auction engines. Every open lot gets a fresh,
// isolated engine instance keyed by a UUID; the market routes operations to
// it, persists lifecycle records and publishes metrics and notifications. It
// never batches across lots.
package market

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/w3bx/dutchswap/internal/auction"
	apperrors "github.com/w3bx/dutchswap/internal/errors"
	"github.com/w3bx/dutchswap/internal/repository"
	"github.com/w3bx/dutchswap/pkg/metrics"
)

// ErrUnknownAuction indicates that no auction exists under the id.
var ErrUnknownAuction = errors.New("unknown auction")

// Notifier receives lifecycle announcements. Implementations must not block
// settlement; the market invokes them on a separate goroutine.
type Notifier interface {
	AuctionOpened(ctx context.Context, id string, snap auction.Snapshot)
	AuctionSettled(ctx context.Context, id string, snap auction.Snapshot)
}

// Market owns the set of hosted auctions. All lots are escrowed under one
// well-known escrow account, so a seller approves it once, the same way a
// token holder approves a swap contract address.
type Market struct {
	mu      sync.RWMutex
	engines map[string]*auction.Engine

	escrow   auction.Account
	ledger   auction.AssetLedger
	rail     auction.PaymentRail
	clock    auction.Clock
	repo     repository.AuctionRepository
	notifier Notifier
	log      *slog.Logger
}

// New constructs a Market escrowing under the given account. repo and
// notifier may be nil; persistence and announcements are then skipped.
func New(escrow auction.Account, ledger auction.AssetLedger, rail auction.PaymentRail, clock auction.Clock, repo repository.AuctionRepository, notifier Notifier, log *slog.Logger) *Market {
	if clock == nil {
		clock = auction.SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Market{
		engines:  make(map[string]*auction.Engine),
		escrow:   escrow,
		ledger:   ledger,
		rail:     rail,
		clock:    clock,
		repo:     repo,
		notifier: notifier,
		log:      log,
	}
}

// EscrowAccount returns the ledger account sellers must approve before Open.
func (m *Market) EscrowAccount() auction.Account {
	return m.escrow
}

// Open creates a fresh engine, starts the auction on it and registers it
// under a new id. When Start fails the engine is discarded and nothing is
// registered or persisted.
func (m *Market) Open(ctx context.Context, seller auction.Account, asset auction.Asset, amount, startPrice *big.Int, duration time.Duration) (string, error) {
	id := uuid.NewString()

	engine := auction.NewEngine(seller, m.escrow, m.ledger, m.rail, m.clock, m.log.With(slog.String("auction_id", id)))
	if err := engine.Start(ctx, seller, asset, amount, startPrice, duration); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.engines[id] = engine
	m.mu.Unlock()

	metrics.RecordAuctionOpened(string(asset))

	m.persistOpened(ctx, id, engine.SnapshotState())
	if m.notifier != nil {
		go m.notifier.AuctionOpened(context.WithoutCancel(ctx), id, engine.SnapshotState())
	}

	return id, nil
}

// Quote returns the current offer price of the auction.
func (m *Market) Quote(ctx context.Context, id string) (*big.Int, error) {
	engine, err := m.engine(id)
	if err != nil {
		return nil, err
	}

	price, err := engine.CurrentPrice()
	if err != nil {
		return nil, err
	}

	metrics.SetCurrentPrice(string(engine.SnapshotState().Asset), price)
	return price, nil
}

// Buy routes the purchase to the auction's engine and records the outcome.
func (m *Market) Buy(ctx context.Context, id string, buyer auction.Account, payment *big.Int) error {
	engine, err := m.engine(id)
	if err != nil {
		metrics.RecordPurchase("unknown_auction", 0)
		return err
	}

	started := time.Now()
	if err := engine.Buy(ctx, buyer, payment); err != nil {
		metrics.RecordPurchase(purchaseStatus(err), time.Since(started))
		return err
	}
	metrics.RecordPurchase("settled", time.Since(started))

	m.persistSettled(ctx, id, engine.SnapshotState())
	if m.notifier != nil {
		go m.notifier.AuctionSettled(context.WithoutCancel(ctx), id, engine.SnapshotState())
	}

	return nil
}

// Get returns a consistent snapshot of the auction.
func (m *Market) Get(_ context.Context, id string) (auction.Snapshot, error) {
	engine, err := m.engine(id)
	if err != nil {
		return auction.Snapshot{}, err
	}

	return engine.SnapshotState(), nil
}

// Seller returns the designated seller of the auction.
func (m *Market) Seller(id string) (auction.Account, error) {
	engine, err := m.engine(id)
	if err != nil {
		return "", err
	}

	return engine.Seller(), nil
}

// Statuses reports the lifecycle status of every hosted auction.
func (m *Market) Statuses(_ context.Context) map[string]auction.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]auction.Status, len(m.engines))
	for id, engine := range m.engines {
		statuses[id] = engine.Status()
	}

	return statuses
}

// Snapshots returns a snapshot of every hosted auction, keyed by id.
func (m *Market) Snapshots(_ context.Context) map[string]auction.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make(map[string]auction.Snapshot, len(m.engines))
	for id, engine := range m.engines {
		snaps[id] = engine.SnapshotState()
	}

	return snaps
}

func (m *Market) engine(id string) (*auction.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	engine, ok := m.engines[id]
	if !ok {
		return nil, ErrUnknownAuction
	}

	return engine, nil
}

func (m *Market) persistOpened(ctx context.Context, id string, snap auction.Snapshot) {
	if m.repo == nil {
		return
	}

	record := &repository.AuctionRecord{
		ID:              id,
		Seller:          string(snap.Seller),
		Asset:           string(snap.Asset),
		Amount:          snap.Amount.String(),
		StartPrice:      snap.StartPrice.String(),
		DurationSeconds: int64(snap.Duration / time.Second),
		Status:          string(snap.Status),
		StartedAt:       snap.StartTime,
	}

	// The auction is already live; a persistence hiccup must not undo it.
	err := apperrors.WithRetry(ctx, func() error {
		if err := m.repo.Create(ctx, record); err != nil {
			return apperrors.NewDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		m.log.Error("failed to persist opened auction", slog.String("auction_id", id), slog.Any("error", err))
	}
}

func (m *Market) persistSettled(ctx context.Context, id string, snap auction.Snapshot) {
	if m.repo == nil {
		return
	}

	// The settlement is committed; retry the bookkeeping, never the swap.
	err := apperrors.WithRetry(ctx, func() error {
		if err := m.repo.MarkSettled(ctx, id, string(snap.Buyer), snap.SettledPrice.String(), m.clock.Now()); err != nil {
			return apperrors.NewDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		m.log.Error("failed to persist settlement", slog.String("auction_id", id), slog.Any("error", err))
	}
}

func purchaseStatus(err error) string {
	switch {
	case errors.Is(err, auction.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, auction.ErrAuctionInactive):
		return "inactive"
	case errors.Is(err, auction.ErrSettlementTransfer):
		return "transfer_failed"
	default:
		return "error"
	}
}
