package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLedgerDown = errors.New("ledger unavailable")

const (
	testSeller = Account("alice")
	testBuyer  = Account("bob")
	testEscrow = Account("escrow:test")
	testAsset  = Asset("EBU")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualClock lets tests advance time deterministically.
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

// fakeLedger is a thread-safe in-test asset ledger with failure injection.
type fakeLedger struct {
	mu               sync.Mutex
	balances         map[Account]map[Asset]*big.Int
	failTransferFrom bool
	failTransfer     bool
	transferFromCall int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[Account]map[Asset]*big.Int)}
}

func (l *fakeLedger) mint(account Account, asset Asset, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(account, asset, big.NewInt(amount))
}

func (l *fakeLedger) creditLocked(account Account, asset Asset, amount *big.Int) {
	if l.balances[account] == nil {
		l.balances[account] = make(map[Asset]*big.Int)
	}
	if l.balances[account][asset] == nil {
		l.balances[account][asset] = new(big.Int)
	}
	l.balances[account][asset].Add(l.balances[account][asset], amount)
}

func (l *fakeLedger) move(from, to Account, asset Asset, amount *big.Int) error {
	bal := l.balances[from][asset]
	if bal == nil || bal.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	bal.Sub(bal, amount)
	l.creditLocked(to, asset, amount)
	return nil
}

func (l *fakeLedger) TransferFrom(_ context.Context, owner, to Account, asset Asset, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transferFromCall++
	if l.failTransferFrom {
		return errLedgerDown
	}
	return l.move(owner, to, asset, amount)
}

func (l *fakeLedger) Transfer(_ context.Context, from, to Account, asset Asset, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failTransfer {
		return errLedgerDown
	}
	return l.move(from, to, asset, amount)
}

func (l *fakeLedger) BalanceOf(_ context.Context, account Account, asset Asset) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[account][asset]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

// fakeRail is a thread-safe in-test payment rail with failure injection.
type fakeRail struct {
	mu       sync.Mutex
	balances map[Account]*big.Int
	fail     bool
}

func newFakeRail() *fakeRail {
	return &fakeRail{balances: make(map[Account]*big.Int)}
}

func (r *fakeRail) deposit(account Account, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[account] == nil {
		r.balances[account] = new(big.Int)
	}
	r.balances[account].Add(r.balances[account], big.NewInt(amount))
}

func (r *fakeRail) Transfer(_ context.Context, from, to Account, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errLedgerDown
	}
	bal := r.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	bal.Sub(bal, amount)
	if r.balances[to] == nil {
		r.balances[to] = new(big.Int)
	}
	r.balances[to].Add(r.balances[to], amount)
	return nil
}

func (r *fakeRail) BalanceOf(_ context.Context, account Account) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal := r.balances[account]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeLedger, *fakeRail, *manualClock) {
	t.Helper()

	ledger := newFakeLedger()
	rail := newFakeRail()
	clock := newManualClock()
	engine := NewEngine(testSeller, testEscrow, ledger, rail, clock, testLogger())

	return engine, ledger, rail, clock
}

func startedTestEngine(t *testing.T) (*Engine, *fakeLedger, *fakeRail, *manualClock) {
	t.Helper()

	engine, ledger, rail, clock := newTestEngine(t)
	ledger.mint(testSeller, testAsset, 100)
	rail.deposit(testBuyer, 50)

	err := engine.Start(context.Background(), testSeller, testAsset, big.NewInt(100), big.NewInt(10), time.Hour)
	require.NoError(t, err)

	return engine, ledger, rail, clock
}

func TestEngine_StartActivatesAuction(t *testing.T) {
	engine, ledger, _, _ := startedTestEngine(t)

	assert.True(t, engine.Active())
	assert.False(t, engine.Settled())
	assert.Equal(t, StatusActive, engine.Status())

	price, err := engine.CurrentPrice()
	require.NoError(t, err)
	assert.Equal(t, int64(10), price.Int64())

	escrowed, err := ledger.BalanceOf(context.Background(), testEscrow, testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(100), escrowed.Int64())

	remaining, err := ledger.BalanceOf(context.Background(), testSeller, testAsset)
	require.NoError(t, err)
	assert.Zero(t, remaining.Int64())
}

func TestEngine_StartUnauthorized(t *testing.T) {
	engine, ledger, _, _ := newTestEngine(t)
	ledger.mint(testSeller, testAsset, 100)

	err := engine.Start(context.Background(), testBuyer, testAsset, big.NewInt(100), big.NewInt(10), time.Hour)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, engine.Active())
	assert.Zero(t, ledger.transferFromCall, "unauthorized start must not touch the ledger")
}

func TestEngine_StartTwice(t *testing.T) {
	engine, ledger, _, _ := startedTestEngine(t)
	ledger.mint(testSeller, testAsset, 100)

	err := engine.Start(context.Background(), testSeller, testAsset, big.NewInt(100), big.NewInt(10), time.Hour)

	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.True(t, engine.Active())

	escrowed, _ := ledger.BalanceOf(context.Background(), testEscrow, testAsset)
	assert.Equal(t, int64(100), escrowed.Int64(), "failed restart must not escrow again")
}

func TestEngine_StartAfterSettlement(t *testing.T) {
	engine, ledger, _, _ := startedTestEngine(t)
	require.NoError(t, engine.Buy(context.Background(), testBuyer, big.NewInt(10)))
	ledger.mint(testSeller, testAsset, 100)

	err := engine.Start(context.Background(), testSeller, testAsset, big.NewInt(100), big.NewInt(10), time.Hour)

	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, StatusSettled, engine.Status())
}

func TestEngine_StartEscrowFailure(t *testing.T) {
	engine, ledger, _, _ := newTestEngine(t)
	ledger.mint(testSeller, testAsset, 100)
	ledger.failTransferFrom = true

	err := engine.Start(context.Background(), testSeller, testAsset, big.NewInt(100), big.NewInt(10), time.Hour)

	assert.ErrorIs(t, err, ErrEscrowTransfer)
	assert.False(t, engine.Active())
	assert.Equal(t, StatusPending, engine.Status())

	_, priceErr := engine.CurrentPrice()
	assert.ErrorIs(t, priceErr, ErrAuctionInactive)
}

func TestEngine_StartInvalidParameters(t *testing.T) {
	testCases := []struct {
		name       string
		amount     *big.Int
		startPrice *big.Int
		duration   time.Duration
	}{
		{name: "zero amount", amount: big.NewInt(0), startPrice: big.NewInt(10), duration: time.Hour},
		{name: "nil amount", amount: nil, startPrice: big.NewInt(10), duration: time.Hour},
		{name: "negative price", amount: big.NewInt(100), startPrice: big.NewInt(-1), duration: time.Hour},
		{name: "zero duration", amount: big.NewInt(100), startPrice: big.NewInt(10), duration: 0},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			engine, ledger, _, _ := newTestEngine(t)
			ledger.mint(testSeller, testAsset, 100)

			err := engine.Start(context.Background(), testSeller, testAsset, tc.amount, tc.startPrice, tc.duration)

			assert.ErrorIs(t, err, ErrInvalidParameters)
			assert.False(t, engine.Active())
			assert.Zero(t, ledger.transferFromCall)
		})
	}
}

func TestEngine_BuyAtHalfwayPrice(t *testing.T) {
	engine, ledger, rail, clock := startedTestEngine(t)
	ctx := context.Background()

	clock.Advance(30 * time.Minute)

	price, err := engine.CurrentPrice()
	require.NoError(t, err)
	require.Equal(t, int64(5), price.Int64())

	err = engine.Buy(ctx, testBuyer, price)
	require.NoError(t, err)

	assert.False(t, engine.Active())
	assert.True(t, engine.Settled())
	assert.Equal(t, testBuyer, engine.Buyer())
	assert.Equal(t, StatusSettled, engine.Status())

	lot, _ := ledger.BalanceOf(ctx, testBuyer, testAsset)
	assert.Equal(t, int64(100), lot.Int64())

	proceeds, _ := rail.BalanceOf(ctx, testSeller)
	assert.Equal(t, int64(5), proceeds.Int64())

	remaining, _ := rail.BalanceOf(ctx, testBuyer)
	assert.Equal(t, int64(45), remaining.Int64())
}

func TestEngine_BuyExcessPaymentCapturesOnlyPrice(t *testing.T) {
	engine, _, rail, clock := startedTestEngine(t)
	ctx := context.Background()

	clock.Advance(30 * time.Minute)

	err := engine.Buy(ctx, testBuyer, big.NewInt(50))
	require.NoError(t, err)

	proceeds, _ := rail.BalanceOf(ctx, testSeller)
	assert.Equal(t, int64(5), proceeds.Int64(), "seller receives exactly the current price")

	remaining, _ := rail.BalanceOf(ctx, testBuyer)
	assert.Equal(t, int64(45), remaining.Int64(), "excess stays with the buyer")

	settled, err := engine.CurrentPrice()
	require.NoError(t, err)
	assert.Equal(t, int64(5), settled.Int64(), "settled price stays frozen")
}

func TestEngine_BuyInsufficientPayment(t *testing.T) {
	engine, _, _, clock := startedTestEngine(t)

	clock.Advance(30 * time.Minute)

	err := engine.Buy(context.Background(), testBuyer, big.NewInt(4))

	assert.ErrorIs(t, err, ErrInsufficientPayment)
	assert.True(t, engine.Active())
	assert.False(t, engine.Settled())
	assert.Empty(t, engine.Buyer())
}

func TestEngine_BuyBeforeStart(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	err := engine.Buy(context.Background(), testBuyer, big.NewInt(10))

	assert.ErrorIs(t, err, ErrAuctionInactive)
}

func TestEngine_SecondBuyLosesAfterSettlement(t *testing.T) {
	engine, _, rail, _ := startedTestEngine(t)
	ctx := context.Background()
	rail.deposit(Account("carol"), 50)

	require.NoError(t, engine.Buy(ctx, testBuyer, big.NewInt(10)))

	err := engine.Buy(ctx, Account("carol"), big.NewInt(10))

	assert.ErrorIs(t, err, ErrAuctionInactive)
	assert.Equal(t, testBuyer, engine.Buyer())
}

func TestEngine_BuyAtZeroPriceAfterDeadline(t *testing.T) {
	engine, ledger, rail, clock := startedTestEngine(t)
	ctx := context.Background()

	clock.Advance(2 * time.Hour)

	price, err := engine.CurrentPrice()
	require.NoError(t, err)
	require.Zero(t, price.Int64(), "price floors at zero past the deadline")

	// No implicit expiry: the lot stays purchasable at zero.
	require.NoError(t, engine.Buy(ctx, testBuyer, big.NewInt(0)))

	lot, _ := ledger.BalanceOf(ctx, testBuyer, testAsset)
	assert.Equal(t, int64(100), lot.Int64())

	proceeds, _ := rail.BalanceOf(ctx, testSeller)
	assert.Zero(t, proceeds.Int64())
}

func TestEngine_BuyPaymentLegFailureRollsBack(t *testing.T) {
	engine, ledger, rail, clock := startedTestEngine(t)
	ctx := context.Background()

	clock.Advance(30 * time.Minute)
	rail.fail = true

	err := engine.Buy(ctx, testBuyer, big.NewInt(5))

	assert.ErrorIs(t, err, ErrSettlementTransfer)
	assert.True(t, engine.Active())
	assert.False(t, engine.Settled())
	assert.Empty(t, engine.Buyer())

	escrowed, _ := ledger.BalanceOf(ctx, testEscrow, testAsset)
	assert.Equal(t, int64(100), escrowed.Int64(), "lot must remain escrowed")

	// A later valid purchase still succeeds.
	rail.fail = false
	assert.NoError(t, engine.Buy(ctx, testBuyer, big.NewInt(5)))
}

func TestEngine_BuyAssetLegFailureRefundsPayment(t *testing.T) {
	engine, ledger, rail, clock := startedTestEngine(t)
	ctx := context.Background()

	clock.Advance(30 * time.Minute)
	ledger.failTransfer = true

	err := engine.Buy(ctx, testBuyer, big.NewInt(5))

	assert.ErrorIs(t, err, ErrSettlementTransfer)
	assert.True(t, engine.Active())
	assert.False(t, engine.Settled())

	buyerFunds, _ := rail.BalanceOf(ctx, testBuyer)
	assert.Equal(t, int64(50), buyerFunds.Int64(), "payment must be returned to the buyer")

	sellerFunds, _ := rail.BalanceOf(ctx, testSeller)
	assert.Zero(t, sellerFunds.Int64())
}

func TestEngine_ConcurrentBuyExactlyOneWins(t *testing.T) {
	engine, ledger, rail, _ := startedTestEngine(t)
	ctx := context.Background()

	rivals := []Account{testBuyer, "carol", "dave", "erin"}
	for _, rival := range rivals {
		rail.deposit(rival, 20)
	}

	results := make(chan error, len(rivals))
	var wg sync.WaitGroup
	for _, rival := range rivals {
		rival := rival
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.Buy(ctx, rival, big.NewInt(10))
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAuctionInactive)
		losses++
	}

	assert.Equal(t, 1, wins, "exactly one purchase may succeed")
	assert.Equal(t, len(rivals)-1, losses)

	lot, _ := ledger.BalanceOf(ctx, engine.Buyer(), testAsset)
	assert.Equal(t, int64(100), lot.Int64())

	escrowed, _ := ledger.BalanceOf(ctx, testEscrow, testAsset)
	assert.Zero(t, escrowed.Int64(), "no double release of the lot")
}

func TestEngine_SnapshotState(t *testing.T) {
	engine, _, _, clock := startedTestEngine(t)

	snap := engine.SnapshotState()
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, testSeller, snap.Seller)
	assert.Equal(t, testAsset, snap.Asset)
	assert.Equal(t, int64(100), snap.Amount.Int64())
	assert.Equal(t, int64(10), snap.StartPrice.Int64())
	assert.Nil(t, snap.SettledPrice)

	clock.Advance(30 * time.Minute)
	require.NoError(t, engine.Buy(context.Background(), testBuyer, big.NewInt(5)))

	snap = engine.SnapshotState()
	assert.Equal(t, StatusSettled, snap.Status)
	assert.Equal(t, testBuyer, snap.Buyer)
	assert.Equal(t, int64(5), snap.SettledPrice.Int64())
}
