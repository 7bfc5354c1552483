package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

// IAccountService manages the marketplace side of an account. Sign-in and
// credentials belong to the hosted auth provider.
type IAccountService interface {
	// EnsureAccount returns the account for id, creating it on first sight.
	EnsureAccount(ctx context.Context, id utils.SixID, email string) (*models.Account, error)
	FindByID(ctx context.Context, id utils.SixID) (*models.Account, error)
	// SetFreeListingLimit overrides the free quota of one account. A nil
	// limit restores the configured default.
	SetFreeListingLimit(ctx context.Context, adminID, userID utils.SixID, limit *int) error
}

// accountService implements IAccountService.
type accountService struct {
	store store.Store
	log   logrus.FieldLogger
}

// NewAccountService creates a new AccountService.
func NewAccountService(st store.Store, log logrus.FieldLogger) IAccountService {
	return &accountService{store: st, log: log.WithField("component", "account")}
}

func (s *accountService) EnsureAccount(ctx context.Context, id utils.SixID, email string) (*models.Account, error) {
	if id.IsZero() {
		return nil, apperr.New(apperr.KindNotAuthenticated, "", "authentication required")
	}
	account, err := s.store.GetAccount(ctx, id)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	now := time.Now().UTC()
	account = &models.Account{
		Base:      models.Base{ID: id},
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", id, err)
	}
	s.log.WithField("user_id", id.String()).Info("Account created")
	return account, nil
}

func (s *accountService) FindByID(ctx context.Context, id utils.SixID) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "", "account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return account, nil
}

func (s *accountService) SetFreeListingLimit(ctx context.Context, adminID, userID utils.SixID, limit *int) error {
	admin, err := s.FindByID(ctx, adminID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}
	if admin == nil || !admin.IsAdmin {
		return apperr.New(apperr.KindForbidden, "", "admin only")
	}
	if limit != nil && *limit < 0 {
		return validationError("free listing limit cannot be negative")
	}
	if err := s.store.SetFreeListingLimit(ctx, userID, limit); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "", "account not found")
		}
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID.String(), "admin_id": adminID.String()}).Info("Free listing limit overridden")
	return nil
}
