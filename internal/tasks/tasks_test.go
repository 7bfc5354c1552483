package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/services"
	"lazone/api/internal/tasks"
	"lazone/api/internal/utils"
)

// --- Mocks ---

type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) ResolveTokens(ctx context.Context, userID utils.SixID) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockNotificationService) Dispatch(ctx context.Context, req services.DispatchRequest) (*services.DispatchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DispatchResult), args.Error(1)
}

func (m *MockNotificationService) RegisterToken(ctx context.Context, userID utils.SixID, token, platform string) error {
	return m.Called(ctx, userID, token, platform).Error(0)
}

func (m *MockNotificationService) UnregisterToken(ctx context.Context, userID utils.SixID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

type MockEntitlementService struct {
	mock.Mock
}

func (m *MockEntitlementService) Snapshot(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (*policy.Snapshot, error) {
	args := m.Called(ctx, accountID, listingType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Snapshot), args.Error(1)
}

func (m *MockEntitlementService) Consume(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (models.EntitlementSource, error) {
	args := m.Called(ctx, accountID, listingType)
	return args.Get(0).(models.EntitlementSource), args.Error(1)
}

func (m *MockEntitlementService) GrantCredits(ctx context.Context, accountID utils.SixID, productID, transactionID string, credits int, expiresAt *time.Time) (bool, error) {
	args := m.Called(ctx, accountID, productID, transactionID, credits, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntitlementService) ActivateSubscription(ctx context.Context, accountID utils.SixID, plan models.PlanType, activeUntil time.Time, originalTransactionID string) error {
	return m.Called(ctx, accountID, plan, activeUntil, originalTransactionID).Error(0)
}

func (m *MockEntitlementService) RollSubscriptions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// captureEnqueuer records enqueued tasks instead of talking to Redis.
type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func newProcessor() (*tasks.TaskProcessor, *MockNotificationService, *MockEntitlementService) {
	log, _ := logtest.NewNullLogger()
	notifications := new(MockNotificationService)
	entitlements := new(MockEntitlementService)
	return tasks.NewTaskProcessor(notifications, entitlements, log), notifications, entitlements
}

// --- Tests ---

func TestPushQueue_EnqueuePush(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	capture := &captureEnqueuer{}
	queue := tasks.NewPushQueue(capture, log)

	req := services.DispatchRequest{
		UserID: utils.NewSixID(),
		Title:  "Booking approved",
		Body:   "See you soon",
		Data:   map[string]string{"type": "booking_approved"},
	}
	require.NoError(t, queue.EnqueuePush(context.Background(), req))
	require.Len(t, capture.tasks, 1)
	assert.Equal(t, tasks.TypePushDispatch, capture.tasks[0].Type())

	var decoded services.DispatchRequest
	require.NoError(t, json.Unmarshal(capture.tasks[0].Payload(), &decoded))
	assert.Equal(t, req, decoded)

	capture.err = errors.New("redis down")
	assert.Error(t, queue.EnqueuePush(context.Background(), req))
}

func TestHandlePushDispatchTask(t *testing.T) {
	user := utils.NewSixID()
	req := services.DispatchRequest{UserID: user, Title: "Listing published"}
	task, err := tasks.NewPushDispatchTask(req)
	require.NoError(t, err)

	t.Run("delivered", func(t *testing.T) {
		p, notifications, _ := newProcessor()
		notifications.On("Dispatch", mock.Anything, req).Return(&services.DispatchResult{Sent: 1, Failed: 1}, nil)
		assert.NoError(t, p.HandlePushDispatchTask(context.Background(), task))
		notifications.AssertExpectations(t)
	})

	t.Run("no devices", func(t *testing.T) {
		p, notifications, _ := newProcessor()
		notifications.On("Dispatch", mock.Anything, req).Return(&services.DispatchResult{}, nil)
		assert.NoError(t, p.HandlePushDispatchTask(context.Background(), task))
	})

	t.Run("every token failed is retried", func(t *testing.T) {
		p, notifications, _ := newProcessor()
		notifications.On("Dispatch", mock.Anything, req).Return(&services.DispatchResult{Failed: 2}, nil)
		err := p.HandlePushDispatchTask(context.Background(), task)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("invalid notification is not retried", func(t *testing.T) {
		p, notifications, _ := newProcessor()
		notifications.On("Dispatch", mock.Anything, req).Return(nil, apperr.New(apperr.KindValidation, "", "empty"))
		err := p.HandlePushDispatchTask(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		p, notifications, _ := newProcessor()
		err := p.HandlePushDispatchTask(context.Background(), asynq.NewTask(tasks.TypePushDispatch, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)

		err = p.HandlePushDispatchTask(context.Background(), asynq.NewTask(tasks.TypePushDispatch, []byte(`{"title":"x"}`)))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		notifications.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})
}

func TestHandleSubscriptionRollTask(t *testing.T) {
	task := tasks.NewSubscriptionRollTask(0)
	assert.Equal(t, tasks.TypeSubscriptionRoll, task.Type())

	p, _, entitlements := newProcessor()
	entitlements.On("RollSubscriptions", mock.Anything, mock.AnythingOfType("time.Time")).Return(3, nil).Once()
	assert.NoError(t, p.HandleSubscriptionRollTask(context.Background(), task))

	entitlements.On("RollSubscriptions", mock.Anything, mock.AnythingOfType("time.Time")).Return(1, errors.New("mongo down")).Once()
	assert.Error(t, p.HandleSubscriptionRollTask(context.Background(), task))
	entitlements.AssertExpectations(t)
}

func TestNewServeMux_RoutesTaskTypes(t *testing.T) {
	p, notifications, entitlements := newProcessor()
	mux := tasks.NewServeMux(p)

	entitlements.On("RollSubscriptions", mock.Anything, mock.Anything).Return(0, nil)
	assert.NoError(t, mux.ProcessTask(context.Background(), tasks.NewSubscriptionRollTask(time.Hour)))

	req := services.DispatchRequest{UserID: utils.NewSixID(), Body: "hi"}
	notifications.On("Dispatch", mock.Anything, req).Return(&services.DispatchResult{Sent: 1}, nil)
	task, err := tasks.NewPushDispatchTask(req)
	require.NoError(t, err)
	assert.NoError(t, mux.ProcessTask(context.Background(), task))
}
