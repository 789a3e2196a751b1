package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/redis/go-redis/v9"

	"github.com/w3bx/dutchswap/internal/auction"
)

const (
	balanceKeyPattern   = "ledger:balance:%s:%s"
	allowanceKeyPattern = "ledger:allowance:%s:%s:%s"

	// txRetries bounds optimistic-lock retries when concurrent transfers
	// touch the same keys.
	txRetries = 5
)

// ErrTransferContention indicates that a transfer kept losing the optimistic
// lock and gave up; the caller may retry.
var ErrTransferContention = errors.New("transfer aborted after repeated contention")

// RedisLedger keeps asset balances in Redis. Transfers run under WATCH/MULTI
// so that two settlements racing for the same escrow cannot both drain it.
type RedisLedger struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisLedger creates a Redis-backed asset ledger.
func NewRedisLedger(client *redis.Client, log *slog.Logger) *RedisLedger {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLedger{
		client: client,
		log:    log,
	}
}

// Mint credits an account outside of any transfer, for seeding environments.
func (l *RedisLedger) Mint(ctx context.Context, account auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	key := redisBalanceKey(account, asset)

	for attempt := 0; attempt < txRetries; attempt++ {
		err := l.client.Watch(ctx, func(tx *redis.Tx) error {
			balance, err := readAmount(ctx, tx, key)
			if err != nil {
				return err
			}

			balance.Add(balance, amount)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, balance.String(), 0)
				return nil
			})
			return err
		}, key)

		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return ErrTransferContention
}

// Approve grants spender the right to pull up to amount of the owner's asset.
func (l *RedisLedger) Approve(ctx context.Context, owner, spender auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	return l.client.Set(ctx, redisAllowanceKey(owner, spender, asset), amount.String(), 0).Err()
}

// TransferFrom atomically consumes the allowance and moves the balance.
func (l *RedisLedger) TransferFrom(ctx context.Context, owner, to auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	fromKey := redisBalanceKey(owner, asset)
	toKey := redisBalanceKey(to, asset)
	allowanceKey := redisAllowanceKey(owner, to, asset)

	for attempt := 0; attempt < txRetries; attempt++ {
		err := l.client.Watch(ctx, func(tx *redis.Tx) error {
			allowance, err := readAmount(ctx, tx, allowanceKey)
			if err != nil {
				return err
			}
			if allowance.Cmp(amount) < 0 {
				return ErrInsufficientAllowance
			}

			fromBalance, err := readAmount(ctx, tx, fromKey)
			if err != nil {
				return err
			}
			if fromBalance.Cmp(amount) < 0 {
				return ErrInsufficientBalance
			}

			toBalance, err := readAmount(ctx, tx, toKey)
			if err != nil {
				return err
			}

			allowance.Sub(allowance, amount)
			fromBalance.Sub(fromBalance, amount)
			toBalance.Add(toBalance, amount)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, allowanceKey, allowance.String(), 0)
				pipe.Set(ctx, fromKey, fromBalance.String(), 0)
				pipe.Set(ctx, toKey, toBalance.String(), 0)
				return nil
			})
			return err
		}, allowanceKey, fromKey, toKey)

		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	l.log.Warn("escrow transfer kept losing the optimistic lock",
		slog.String("owner", string(owner)),
		slog.String("asset", string(asset)),
	)
	return ErrTransferContention
}

// Transfer atomically moves the sender's own balance.
func (l *RedisLedger) Transfer(ctx context.Context, from, to auction.Account, asset auction.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	fromKey := redisBalanceKey(from, asset)
	toKey := redisBalanceKey(to, asset)

	for attempt := 0; attempt < txRetries; attempt++ {
		err := l.client.Watch(ctx, func(tx *redis.Tx) error {
			fromBalance, err := readAmount(ctx, tx, fromKey)
			if err != nil {
				return err
			}
			if fromBalance.Cmp(amount) < 0 {
				return ErrInsufficientBalance
			}

			toBalance, err := readAmount(ctx, tx, toKey)
			if err != nil {
				return err
			}

			fromBalance.Sub(fromBalance, amount)
			toBalance.Add(toBalance, amount)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, fromKey, fromBalance.String(), 0)
				pipe.Set(ctx, toKey, toBalance.String(), 0)
				return nil
			})
			return err
		}, fromKey, toKey)

		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	l.log.Warn("asset transfer kept losing the optimistic lock",
		slog.String("from", string(from)),
		slog.String("asset", string(asset)),
	)
	return ErrTransferContention
}

// BalanceOf returns the account's balance for the asset, zero when unknown.
func (l *RedisLedger) BalanceOf(ctx context.Context, account auction.Account, asset auction.Asset) (*big.Int, error) {
	value, err := l.client.Get(ctx, redisBalanceKey(account, asset)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return new(big.Int), nil
		}
		return nil, err
	}

	return parseAmount(value)
}

func readAmount(ctx context.Context, tx *redis.Tx, key string) (*big.Int, error) {
	value, err := tx.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return new(big.Int), nil
		}
		return nil, err
	}

	return parseAmount(value)
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt ledger value %q", value)
	}
	return amount, nil
}

func redisBalanceKey(account auction.Account, asset auction.Asset) string {
	return fmt.Sprintf(balanceKeyPattern, asset, account)
}

func redisAllowanceKey(owner, spender auction.Account, asset auction.Asset) string {
	return fmt.Sprintf(allowanceKeyPattern, asset, owner, spender)
}
