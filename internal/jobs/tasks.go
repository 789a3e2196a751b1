// Package jobs schedules and processes background work over asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePriceSnapshot = "auction:price_snapshot"
	TaskTypeRecordCleanup = "auction:record_cleanup"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// PriceSnapshotPayload selects which auctions to snapshot. An empty Statuses
// slice means all active auctions.
type PriceSnapshotPayload struct {
	Statuses []string `json:"statuses"`
}

// RecordCleanupPayload bounds how far back settled auction records are kept.
type RecordCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

func NewPriceSnapshotTask(statuses []string) (*asynq.Task, error) {
	payload, err := json.Marshal(PriceSnapshotPayload{Statuses: statuses})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypePriceSnapshot, payload, asynq.Queue(QueueDefault)), nil
}

func NewRecordCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(RecordCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeRecordCleanup, payload, asynq.Queue(QueueLow)), nil
}
