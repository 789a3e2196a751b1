package payments

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3bx/dutchswap/internal/auction"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBank_TransferMovesFunds(t *testing.T) {
	ctx := context.Background()
	bank := NewBank(testLogger())

	require.NoError(t, bank.Deposit(ctx, "bob", big.NewInt(50)))
	require.NoError(t, bank.Transfer(ctx, "bob", "alice", big.NewInt(5)))

	bob, err := bank.BalanceOf(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(45), bob.Int64())

	alice, err := bank.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), alice.Int64())
}

func TestBank_TransferInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	bank := NewBank(testLogger())

	require.NoError(t, bank.Deposit(ctx, "bob", big.NewInt(3)))

	err := bank.Transfer(ctx, "bob", "alice", big.NewInt(5))

	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bob, _ := bank.BalanceOf(ctx, "bob")
	assert.Equal(t, int64(3), bob.Int64(), "failed transfer must not mutate balances")
}

func TestBank_ZeroAmountTransfer(t *testing.T) {
	ctx := context.Background()
	bank := NewBank(testLogger())

	// A free lot settles with a zero payment; the rail must accept it even
	// for accounts it has never seen.
	assert.NoError(t, bank.Transfer(ctx, "bob", "alice", big.NewInt(0)))
}

func TestBank_RejectsNegativeAmounts(t *testing.T) {
	ctx := context.Background()
	bank := NewBank(testLogger())

	assert.ErrorIs(t, bank.Deposit(ctx, auction.Account("bob"), big.NewInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, bank.Transfer(ctx, "bob", "alice", nil), ErrInvalidAmount)
}
