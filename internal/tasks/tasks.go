package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/services"
)

// TaskType defines the type of a background task.
const (
	TypePushDispatch     = "push:dispatch"
	TypeSubscriptionRoll = "subscription:roll"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// --- Task Client (Enqueuing tasks) ---

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

// Enqueuer is the part of *asynq.Client the producers use.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PushQueue implements services.PushEnqueuer on the task queue.
type PushQueue struct {
	client Enqueuer
	log    logrus.FieldLogger
}

var _ services.PushEnqueuer = (*PushQueue)(nil)

func NewPushQueue(client Enqueuer, log logrus.FieldLogger) *PushQueue {
	return &PushQueue{client: client, log: log.WithField("component", "push_queue")}
}

// NewPushDispatchTask wraps a notification in a task.
func NewPushDispatchTask(req services.DispatchRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}
	return asynq.NewTask(TypePushDispatch, payload, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

func (q *PushQueue) EnqueuePush(ctx context.Context, req services.DispatchRequest) error {
	task, err := NewPushDispatchTask(req)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(QueueCritical))
	if err != nil {
		return fmt.Errorf("failed to enqueue push for %s: %w", req.UserID, err)
	}
	q.log.WithFields(logrus.Fields{"task_id": info.ID, "user_id": req.UserID.String()}).Debug("Push enqueued")
	return nil
}

// NewSubscriptionRollTask creates the periodic allowance reset. Only one
// can be pending per window.
func NewSubscriptionRollTask(window time.Duration) *asynq.Task {
	if window <= 0 {
		window = time.Hour
	}
	return asynq.NewTask(TypeSubscriptionRoll, nil, asynq.Unique(window), asynq.MaxRetry(3), asynq.Queue(QueueLow))
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	notifications services.INotificationService
	entitlements  services.IEntitlementService
	log           logrus.FieldLogger
	now           func() time.Time
}

func NewTaskProcessor(notifications services.INotificationService, entitlements services.IEntitlementService, log logrus.FieldLogger) *TaskProcessor {
	return &TaskProcessor{
		notifications: notifications,
		entitlements:  entitlements,
		log:           log.WithField("component", "tasks"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// NewServeMux registers every handler of the background worker.
func NewServeMux(p *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePushDispatch, p.HandlePushDispatchTask)
	mux.HandleFunc(TypeSubscriptionRoll, p.HandleSubscriptionRollTask)
	return mux
}

// SetupServer configures an Asynq server. The caller starts it with the
// mux from NewServeMux and shuts it down.
func SetupServer(rdb *redis.Client, concurrency int, log logrus.FieldLogger) *asynq.Server {
	log = log.WithField("component", "asynq")
	return asynq.NewServer(
		redisOpt(rdb),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			Logger: log,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.WithError(err).WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retried":   retried,
					"max_retry": maxRetry,
				}).Warn("Task failed")
			}),
		},
	)
}

// --- Task Handlers ---

// HandlePushDispatchTask delivers one notification to every device of an
// account.
func (p *TaskProcessor) HandlePushDispatchTask(ctx context.Context, t *asynq.Task) error {
	var req services.DispatchRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal push payload: %v: %w", err, asynq.SkipRetry)
	}
	if req.UserID.IsZero() {
		return fmt.Errorf("push payload has no user: %w", asynq.SkipRetry)
	}

	res, err := p.notifications.Dispatch(ctx, req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return fmt.Errorf("invalid push: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log := p.log.WithFields(logrus.Fields{
		"user_id":       req.UserID.String(),
		"sent":          res.Sent,
		"undeliverable": res.Undeliverable,
		"removed":       res.Removed,
		"failed":        res.Failed,
	})
	// A retry resends to every token, so only retry when nothing got through.
	if res.Failed > 0 && res.Sent == 0 {
		log.Warn("Push delivery failed on every token")
		return errors.New("push delivery failed on every token")
	}
	log.Debug("Push task processed")
	return nil
}

// HandleSubscriptionRollTask resets the allowance of every plan whose
// period has elapsed.
func (p *TaskProcessor) HandleSubscriptionRollTask(ctx context.Context, t *asynq.Task) error {
	rolled, err := p.entitlements.RollSubscriptions(ctx, p.now())
	if err != nil {
		return fmt.Errorf("subscription roll stopped after %d: %w", rolled, err)
	}
	p.log.WithField("rolled", rolled).Info("Subscription roll finished")
	return nil
}
