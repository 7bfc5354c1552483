package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/metrics"
	"lazone/api/internal/push"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

// DispatchRequest is one notification for every device of an account.
type DispatchRequest struct {
	UserID   utils.SixID       `json:"userId"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	ImageURL string            `json:"imageUrl,omitempty"`
}

// DispatchResult reports what happened to each resolved token.
type DispatchResult struct {
	Sent          int `json:"sent"`
	Undeliverable int `json:"undeliverable"`
	Removed       int `json:"removed"`
	Failed        int `json:"failed"`
}

// PushEnqueuer hands a notification to background delivery.
type PushEnqueuer interface {
	EnqueuePush(ctx context.Context, req DispatchRequest) error
}

// INotificationService defines the push notification operations.
type INotificationService interface {
	// ResolveTokens returns the account's device tokens, most recently
	// updated first. The legacy single token is used only when the
	// multi-device store has none.
	ResolveTokens(ctx context.Context, userID utils.SixID) ([]string, error)
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
	RegisterToken(ctx context.Context, userID utils.SixID, token, platform string) error
	UnregisterToken(ctx context.Context, userID utils.SixID, token string) error
}

var validPlatforms = map[string]bool{"ios": true, "android": true, "web": true}

// notificationService implements INotificationService.
type notificationService struct {
	store  store.Store
	sender push.Sender
	log    logrus.FieldLogger
}

// NewNotificationService creates a new NotificationService. A nil sender
// makes every dispatch report zero deliveries.
func NewNotificationService(st store.Store, sender push.Sender, log logrus.FieldLogger) INotificationService {
	return &notificationService{
		store:  st,
		sender: sender,
		log:    log.WithField("component", "notification"),
	}
}

func (s *notificationService) ResolveTokens(ctx context.Context, userID utils.SixID) ([]string, error) {
	tokens, _, err := s.resolveTokens(ctx, userID)
	return tokens, err
}

// resolveTokens also reports whether the tokens came from the account's
// legacy push_token field rather than device_tokens.
func (s *notificationService) resolveTokens(ctx context.Context, userID utils.SixID) ([]string, bool, error) {
	rows, err := s.store.ListDeviceTokens(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list device tokens of %s: %w", userID, err)
	}
	if len(rows) > 0 {
		tokens := make([]string, 0, len(rows))
		for _, row := range rows {
			tokens = append(tokens, row.Token)
		}
		return tokens, false, nil
	}

	account, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load account %s: %w", userID, err)
	}
	if account.PushToken == "" {
		return nil, false, nil
	}
	return []string{account.PushToken}, true, nil
}

// forgetToken drops a token the provider rejected from wherever it was
// resolved. It reports whether anything was removed.
func (s *notificationService) forgetToken(ctx context.Context, userID utils.SixID, token string, legacy bool) (bool, error) {
	if legacy {
		return s.store.ClearLegacyPushToken(ctx, userID, token)
	}
	return s.store.DeleteDeviceToken(ctx, userID, token)
}

// Dispatch sends the notification to every FCM-format token of the account.
// Tokens the provider rejects permanently are deleted. Zero deliveries is a
// valid outcome.
func (s *notificationService) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
		return nil, apperr.New(apperr.KindValidation, "", "notification needs a title or a body")
	}
	tokens, legacy, err := s.resolveTokens(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	log := s.log.WithField("user_id", req.UserID.String())
	result := &DispatchResult{}
	for _, token := range tokens {
		if push.ClassifyToken(token) != push.TokenFCM {
			result.Undeliverable++
			metrics.PushDeliveries.WithLabelValues("undeliverable").Inc()
			log.WithField("token_kind", push.TokenAPNsRaw.String()).Debug("Skipping raw APNs token")
			continue
		}
		if s.sender == nil {
			result.Undeliverable++
			metrics.PushDeliveries.WithLabelValues("undeliverable").Inc()
			continue
		}

		_, err := s.sender.Send(ctx, push.Message{
			Token:    token,
			Title:    req.Title,
			Body:     req.Body,
			Data:     req.Data,
			ImageURL: req.ImageURL,
		})
		switch {
		case err == nil:
			result.Sent++
			metrics.PushDeliveries.WithLabelValues("sent").Inc()
		case apperr.KindOf(err) == apperr.KindTokenInvalid:
			metrics.PushDeliveries.WithLabelValues("token_invalid").Inc()
			removed, delErr := s.forgetToken(ctx, req.UserID, token, legacy)
			if delErr != nil {
				log.WithError(delErr).Warn("Failed to delete invalid device token")
				continue
			}
			if removed {
				result.Removed++
				log.WithField("legacy", legacy).Info("Removed permanently invalid device token")
			}
		default:
			result.Failed++
			metrics.PushDeliveries.WithLabelValues("failed").Inc()
			log.WithError(err).Warn("Push delivery failed")
		}
	}

	log.WithFields(logrus.Fields{
		"sent":          result.Sent,
		"undeliverable": result.Undeliverable,
		"removed":       result.Removed,
	}).Debug("Push dispatched")
	return result, nil
}

func (s *notificationService) RegisterToken(ctx context.Context, userID utils.SixID, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.New(apperr.KindValidation, "", "token is required")
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform == "" {
		platform = "android"
		if push.ClassifyToken(token) == push.TokenAPNsRaw {
			platform = "ios"
		}
	}
	if !validPlatforms[platform] {
		return apperr.New(apperr.KindValidation, "", fmt.Sprintf("unknown platform %q", platform))
	}
	if err := s.store.UpsertDeviceToken(ctx, userID, token, platform, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

func (s *notificationService) UnregisterToken(ctx context.Context, userID utils.SixID, token string) error {
	if _, err := s.store.DeleteDeviceToken(ctx, userID, strings.TrimSpace(token)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to unregister device token: %w", err)
	}
	return nil
}

// directPush delivers synchronously when no background queue is wired.
type directPush struct {
	notifications INotificationService
}

// NewDirectPushEnqueuer returns a PushEnqueuer that dispatches in the
// calling goroutine.
func NewDirectPushEnqueuer(notifications INotificationService) PushEnqueuer {
	return &directPush{notifications: notifications}
}

func (d *directPush) EnqueuePush(ctx context.Context, req DispatchRequest) error {
	_, err := d.notifications.Dispatch(ctx, req)
	return err
}

// notify enqueues a push without failing the caller.
func notify(ctx context.Context, enqueuer PushEnqueuer, log logrus.FieldLogger, req DispatchRequest) {
	if enqueuer == nil {
		return
	}
	if err := enqueuer.EnqueuePush(ctx, req); err != nil {
		log.WithError(err).WithField("user_id", req.UserID.String()).Warn("Failed to enqueue push notification")
	}
}
