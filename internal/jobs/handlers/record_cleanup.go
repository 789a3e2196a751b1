package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/w3bx/dutchswap/internal/jobs"
	"github.com/w3bx/dutchswap/internal/repository"
)

// RecordCleanupHandler prunes settled auction rows past the retention window.
type RecordCleanupHandler struct {
	repo repository.AuctionRepository
	log  *slog.Logger
}

func NewRecordCleanupHandler(repo repository.AuctionRepository, log *slog.Logger) *RecordCleanupHandler {
	if log == nil {
		log = slog.Default()
	}

	return &RecordCleanupHandler{repo: repo, log: log}
}

func (h *RecordCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.RecordCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "record cleanup: failed to decode payload",
			slog.String("task_type", t.Type()), slog.Any("error", err))
		return err
	}

	if payload.OlderThan <= 0 {
		h.log.WarnContext(ctx, "record cleanup: non-positive retention, skipping")
		return nil
	}

	cutoff := time.Now().Add(-payload.OlderThan)

	removed, err := h.repo.DeleteSettledBefore(ctx, cutoff)
	if err != nil {
		h.log.ErrorContext(ctx, "record cleanup failed", slog.Any("error", err))
		return err
	}

	h.log.InfoContext(ctx, "record cleanup complete",
		slog.Int64("removed", removed), slog.Time("cutoff", cutoff))

	return nil
}
