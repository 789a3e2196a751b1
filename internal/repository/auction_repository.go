// Package repository persists auction lifecycle records in PostgreSQL. The
// database is a ledger of record for reporting; the engine state itself lives
// in memory and is never reconstructed from these rows.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound indicates that no auction row exists for the id.
var ErrNotFound = errors.New("auction record not found")

// AuctionRecord mirrors one row of the auctions table. Amounts are stored as
// decimal strings so that 256-bit asset quantities survive the round trip.
type AuctionRecord struct {
	ID              string
	Seller          string
	Asset           string
	Amount          string
	StartPrice      string
	DurationSeconds int64
	Status          string
	Buyer           sql.NullString
	SettledPrice    sql.NullString
	StartedAt       time.Time
	SettledAt       sql.NullTime
}

// AuctionRepository defines persistence operations for auction records.
type AuctionRepository interface {
	Create(ctx context.Context, record *AuctionRecord) error
	MarkSettled(ctx context.Context, id, buyer, settledPrice string, settledAt time.Time) error
	FindByID(ctx context.Context, id string) (*AuctionRecord, error)
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type auctionRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewAuctionRepository creates a new SQL-backed auction repository.
func NewAuctionRepository(db *sql.DB, log *slog.Logger) AuctionRepository {
	return &auctionRepository{
		db:  db,
		log: log,
	}
}

// Create inserts the record written at auction start.
func (r *auctionRepository) Create(ctx context.Context, record *AuctionRecord) error {
	const query = `
		INSERT INTO auctions (id, seller, asset, amount, start_price, duration_seconds, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.Seller,
		record.Asset,
		record.Amount,
		record.StartPrice,
		record.DurationSeconds,
		record.Status,
		record.StartedAt,
	); err != nil {
		if r.log != nil {
			r.log.Error("failed to insert auction record", slog.String("auction_id", record.ID), slog.Any("error", err))
		}
		return fmt.Errorf("insert auction: %w", err)
	}

	return nil
}

// MarkSettled records the winning purchase on an existing row.
func (r *auctionRepository) MarkSettled(ctx context.Context, id, buyer, settledPrice string, settledAt time.Time) error {
	const query = `
		UPDATE auctions
		SET status = 'settled', buyer = $2, settled_price = $3, settled_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, buyer, settledPrice, settledAt)
	if err != nil {
		if r.log != nil {
			r.log.Error("failed to mark auction settled", slog.String("auction_id", id), slog.Any("error", err))
		}
		return fmt.Errorf("update auction settlement: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	return nil
}

// FindByID retrieves one auction record.
func (r *auctionRepository) FindByID(ctx context.Context, id string) (*AuctionRecord, error) {
	const query = `
		SELECT id, seller, asset, amount, start_price, duration_seconds, status, buyer, settled_price, started_at, settled_at
		FROM auctions
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	var record AuctionRecord
	if err := row.Scan(
		&record.ID,
		&record.Seller,
		&record.Asset,
		&record.Amount,
		&record.StartPrice,
		&record.DurationSeconds,
		&record.Status,
		&record.Buyer,
		&record.SettledPrice,
		&record.StartedAt,
		&record.SettledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		if r.log != nil {
			r.log.Error("failed to fetch auction record", slog.String("auction_id", id), slog.Any("error", err))
		}
		return nil, fmt.Errorf("select auction by id: %w", err)
	}

	return &record, nil
}

// DeleteSettledBefore prunes settled auction rows older than cutoff and
// returns the number of rows removed.
func (r *auctionRepository) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM auctions
		WHERE status = 'settled' AND settled_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		if r.log != nil {
			r.log.Error("failed to prune settled auctions", slog.Any("error", err))
		}
		return 0, fmt.Errorf("delete settled auctions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete settled auctions: %w", err)
	}

	return affected, nil
}
