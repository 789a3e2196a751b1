// Package handlers implements asynq task handlers for auction maintenance.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"

	"github.com/hibiken/asynq"

	"github.com/w3bx/dutchswap/internal/auction"
	"github.com/w3bx/dutchswap/internal/jobs"
)

// PriceSource exposes the market operations the snapshot task needs.
type PriceSource interface {
	Snapshots(ctx context.Context) map[string]auction.Snapshot
	Quote(ctx context.Context, id string) (*big.Int, error)
}

// PriceSnapshotHandler walks the open auctions and re-quotes each one so the
// exported price gauges track the decay curve even when no client is polling.
type PriceSnapshotHandler struct {
	source PriceSource
	log    *slog.Logger
}

func NewPriceSnapshotHandler(source PriceSource, log *slog.Logger) *PriceSnapshotHandler {
	if log == nil {
		log = slog.Default()
	}

	return &PriceSnapshotHandler{source: source, log: log}
}

func (h *PriceSnapshotHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.PriceSnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "price snapshot: failed to decode payload",
			slog.String("task_type", t.Type()), slog.Any("error", err))
		return err
	}

	wanted := make(map[string]bool, len(payload.Statuses))
	for _, s := range payload.Statuses {
		wanted[s] = true
	}

	quoted := 0
	for id, snap := range h.source.Snapshots(ctx) {
		if len(wanted) > 0 && !wanted[string(snap.Status)] {
			continue
		}
		if snap.Status != auction.StatusActive {
			continue
		}

		if _, err := h.source.Quote(ctx, id); err != nil {
			h.log.WarnContext(ctx, "price snapshot: quote failed",
				slog.String("auction_id", id), slog.Any("error", err))
			continue
		}
		quoted++
	}

	h.log.InfoContext(ctx, "price snapshot complete", slog.Int("auctions", quoted))

	return nil
}
