package market

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3bx/dutchswap/internal/auction"
	"github.com/w3bx/dutchswap/internal/ledger"
	"github.com/w3bx/dutchswap/internal/payments"
	"github.com/w3bx/dutchswap/internal/repository"
)

const (
	seller = auction.Account("alice")
	buyer  = auction.Account("bob")
	asset  = auction.Asset("EBU")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingRepo struct {
	mu      sync.Mutex
	created []*repository.AuctionRecord
	settled []string
}

func (r *recordingRepo) Create(_ context.Context, record *repository.AuctionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, record)
	return nil
}

func (r *recordingRepo) MarkSettled(_ context.Context, id, _, _ string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, id)
	return nil
}

func (r *recordingRepo) FindByID(_ context.Context, _ string) (*repository.AuctionRecord, error) {
	return nil, repository.ErrNotFound
}

func (r *recordingRepo) DeleteSettledBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	opened  []string
	settled []string
	done    chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 4)}
}

func (n *recordingNotifier) AuctionOpened(_ context.Context, id string, _ auction.Snapshot) {
	n.mu.Lock()
	n.opened = append(n.opened, id)
	n.mu.Unlock()
	n.done <- struct{}{}
}

func (n *recordingNotifier) AuctionSettled(_ context.Context, id string, _ auction.Snapshot) {
	n.mu.Lock()
	n.settled = append(n.settled, id)
	n.mu.Unlock()
	n.done <- struct{}{}
}

func (n *recordingNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(time.Second):
		t.Fatal("notifier was not invoked")
	}
}

const escrowAccount = auction.Account("dutchswap:escrow")

func newTestMarket(t *testing.T) (*Market, *ledger.MemoryLedger, *payments.Bank, *manualClock, *recordingRepo, *recordingNotifier) {
	t.Helper()

	assetLedger := ledger.NewMemoryLedger(testLogger())
	bank := payments.NewBank(testLogger())
	clock := newManualClock()
	repo := &recordingRepo{}
	notifier := newRecordingNotifier()
	m := New(escrowAccount, assetLedger, bank, clock, repo, notifier, testLogger())

	return m, assetLedger, bank, clock, repo, notifier
}

func openTestAuction(t *testing.T, m *Market, assetLedger *ledger.MemoryLedger) string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, assetLedger.Mint(ctx, seller, asset, big.NewInt(100)))

	id, err := openWithApproval(ctx, t, m, assetLedger)
	require.NoError(t, err)
	return id
}

func openWithApproval(ctx context.Context, t *testing.T, m *Market, assetLedger *ledger.MemoryLedger) (string, error) {
	t.Helper()

	require.NoError(t, assetLedger.Approve(ctx, seller, m.EscrowAccount(), asset, big.NewInt(100)))
	return m.Open(ctx, seller, asset, big.NewInt(100), big.NewInt(10), time.Hour)
}

func TestMarket_OpenQuoteBuyRoundTrip(t *testing.T) {
	m, assetLedger, bank, clock, repo, notifier := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, bank.Deposit(ctx, buyer, big.NewInt(50)))

	id := openTestAuction(t, m, assetLedger)
	notifier.wait(t)

	price, err := m.Quote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), price.Int64())

	clock.Advance(30 * time.Minute)

	price, err = m.Quote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), price.Int64())

	require.NoError(t, m.Buy(ctx, id, buyer, price))
	notifier.wait(t)

	snap, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusSettled, snap.Status)
	assert.Equal(t, buyer, snap.Buyer)
	assert.Equal(t, int64(5), snap.SettledPrice.Int64())

	lot, _ := assetLedger.BalanceOf(ctx, buyer, asset)
	assert.Equal(t, int64(100), lot.Int64())

	proceeds, _ := bank.BalanceOf(ctx, seller)
	assert.Equal(t, int64(5), proceeds.Int64())

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.created, 1)
	assert.Equal(t, id, repo.created[0].ID)
	assert.Equal(t, "100", repo.created[0].Amount)
	assert.Equal(t, []string{id}, repo.settled)
}

func TestMarket_UnknownAuction(t *testing.T) {
	m, _, _, _, _, _ := newTestMarket(t)
	ctx := context.Background()

	_, err := m.Quote(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownAuction)

	err = m.Buy(ctx, "missing", buyer, big.NewInt(10))
	assert.ErrorIs(t, err, ErrUnknownAuction)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownAuction)
}

func TestMarket_OpenFailsWithoutEscrowApproval(t *testing.T) {
	m, assetLedger, _, _, repo, _ := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, assetLedger.Mint(ctx, seller, asset, big.NewInt(100)))

	_, err := m.Open(ctx, seller, asset, big.NewInt(100), big.NewInt(10), time.Hour)

	assert.ErrorIs(t, err, auction.ErrEscrowTransfer)
	assert.Empty(t, m.Statuses(ctx), "failed open must not register an engine")

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.created)
}

func TestMarket_IndependentLots(t *testing.T) {
	m, assetLedger, bank, clock, _, _ := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, assetLedger.Mint(ctx, seller, asset, big.NewInt(200)))
	require.NoError(t, bank.Deposit(ctx, buyer, big.NewInt(50)))

	first, err := openWithApproval(ctx, t, m, assetLedger)
	require.NoError(t, err)
	second, err := openWithApproval(ctx, t, m, assetLedger)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	require.NoError(t, m.Buy(ctx, first, buyer, big.NewInt(5)))

	// Settling one lot must not touch the other.
	statuses := m.Statuses(ctx)
	assert.Equal(t, auction.StatusSettled, statuses[first])
	assert.Equal(t, auction.StatusActive, statuses[second])

	price, err := m.Quote(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), price.Int64())
}

func TestMarket_SnapshotsCoverAllLots(t *testing.T) {
	m, assetLedger, _, _, _, _ := newTestMarket(t)
	ctx := context.Background()

	require.NoError(t, assetLedger.Mint(ctx, seller, asset, big.NewInt(200)))

	first, err := openWithApproval(ctx, t, m, assetLedger)
	require.NoError(t, err)
	second, err := openWithApproval(ctx, t, m, assetLedger)
	require.NoError(t, err)

	snaps := m.Snapshots(ctx)
	require.Len(t, snaps, 2)
	assert.Contains(t, snaps, first)
	assert.Contains(t, snaps, second)
	assert.Equal(t, auction.StatusActive, snaps[first].Status)
	assert.Equal(t, auction.StatusActive, snaps[second].Status)
}
