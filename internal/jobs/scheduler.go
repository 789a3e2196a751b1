package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks(snapshotSchedule string) error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		log:            log,
	}
}

func (s *scheduler) RegisterTasks(snapshotSchedule string) error {
	snapshot, err := NewPriceSnapshotTask(nil)
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register(snapshotSchedule, snapshot); err != nil {
		return err
	}

	cleanup, err := NewRecordCleanupTask(30 * 24 * time.Hour)
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register("0 4 * * *", cleanup); err != nil {
		return err
	}

	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: registered auction maintenance tasks")
	}

	return nil
}

func (s *scheduler) Run() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	go func() {
		if err := s.asynqScheduler.Run(); err != nil && s.log != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
