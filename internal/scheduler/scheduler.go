// Package scheduler enqueues periodic background tasks on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/tasks"
)

// Scheduler enqueues the subscription roll task. The worker does the work,
// so several API instances may run a Scheduler; the task is unique per
// window.
type Scheduler struct {
	client  tasks.Enqueuer
	spec    string
	window  time.Duration
	log     logrus.FieldLogger
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// New creates a scheduler firing on spec, a standard 5-field cron
// expression or a descriptor such as "@hourly".
func New(client tasks.Enqueuer, spec string, log logrus.FieldLogger) *Scheduler {
	if spec == "" {
		spec = "@hourly"
	}
	return &Scheduler{
		client: client,
		spec:   spec,
		window: time.Hour,
		log:    log.WithField("component", "scheduler"),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.spec, s.EnqueueSubscriptionRoll); err != nil {
		s.log.WithError(err).WithField("schedule", s.spec).Error("Failed to schedule subscription roll")
		return err
	}
	s.cron.Start()
	s.running = true
	s.log.WithField("schedule", s.spec).Info("Scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("Scheduler stopped")
}

// EnqueueSubscriptionRoll enqueues one roll task.
func (s *Scheduler) EnqueueSubscriptionRoll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := s.client.EnqueueContext(ctx, tasks.NewSubscriptionRollTask(s.window))
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		s.log.Debug("Subscription roll already pending")
	case err != nil:
		s.log.WithError(err).Error("Failed to enqueue subscription roll")
	default:
		s.log.WithField("task_id", info.ID).Debug("Subscription roll enqueued")
	}
}
