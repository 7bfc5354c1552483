package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/config"
	"lazone/api/internal/metrics"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

// IEntitlementService defines the operations on free quota, subscription
// allowance and purchased credits.
type IEntitlementService interface {
	Snapshot(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (*policy.Snapshot, error)
	// Consume takes one unit from the first source that still has one, in
	// free, subscription, purchased order.
	Consume(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (models.EntitlementSource, error)
	// GrantCredits records a credit block once per transaction id. It reports
	// false when the transaction was already granted.
	GrantCredits(ctx context.Context, accountID utils.SixID, productID, transactionID string, credits int, expiresAt *time.Time) (bool, error)
	ActivateSubscription(ctx context.Context, accountID utils.SixID, plan models.PlanType, activeUntil time.Time, originalTransactionID string) error
	RollSubscriptions(ctx context.Context, now time.Time) (int, error)
}

const rollBatchSize = 500

// entitlementService implements IEntitlementService.
type entitlementService struct {
	store         store.Store
	cfg           *config.Config
	configService IConfigService
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(st store.Store, cfg *config.Config, configService IConfigService, log logrus.FieldLogger) IEntitlementService {
	return &entitlementService{
		store:         st,
		cfg:           cfg,
		configService: configService,
		log:           log.WithField("component", "entitlement"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *entitlementService) freeLimit(ctx context.Context, account *models.Account, listingType models.ListingType) int {
	if account != nil && account.FreeListingLimit != nil {
		return *account.FreeListingLimit
	}
	key := ConfigKeyFreeListingsLongTerm
	if listingType == models.ListingTypeShortTerm {
		key = ConfigKeyFreeListingsShortTerm
	}
	return s.configService.GetInt(ctx, key, s.cfg.FreeListingLimit(string(listingType)))
}

func (s *entitlementService) planCredits(ctx context.Context, plan models.PlanType) int {
	key := ConfigKeyProMonthlyCredits
	if plan == models.PlanPremium {
		key = ConfigKeyPremiumMonthlyCredits
	}
	return s.configService.GetInt(ctx, key, s.cfg.PlanCredits(string(plan)))
}

func (s *entitlementService) period() time.Duration {
	if s.cfg.SubscriptionPeriod > 0 {
		return s.cfg.SubscriptionPeriod
	}
	return 30 * 24 * time.Hour
}

// Snapshot builds the derived entitlement state, rolling an elapsed
// subscription period first so the allowance shown is current.
func (s *entitlementService) Snapshot(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (*policy.Snapshot, error) {
	if !listingType.Valid() {
		return nil, apperr.New(apperr.KindValidation, "", fmt.Sprintf("unknown listing type %q", listingType))
	}
	now := s.now()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	snap := &policy.Snapshot{ListingType: listingType}
	snap.FreeListingLimit = s.freeLimit(ctx, account, listingType)
	if account != nil {
		snap.FreeListingsUsed = account.FreeListingsUsed.Used(listingType)
	}
	snap.RemainingFreeListings = policy.RemainingFree(snap.FreeListingLimit, snap.FreeListingsUsed)

	snap.AvailableCredits, err = s.store.SumAvailableCredits(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum credits of %s: %w", accountID, err)
	}

	sub, err := s.store.GetSubscription(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load subscription of %s: %w", accountID, err)
	}
	if sub != nil && sub.IsActive(now) {
		if !sub.NextResetAt.After(now) {
			if _, err := s.store.RollSubscriptionPeriod(ctx, accountID, s.planCredits(ctx, sub.SubscriptionType), now, s.period()); err != nil {
				return nil, fmt.Errorf("failed to roll subscription of %s: %w", accountID, err)
			}
			if sub, err = s.store.GetSubscription(ctx, accountID); err != nil {
				return nil, fmt.Errorf("failed to reload subscription of %s: %w", accountID, err)
			}
		}
		activeUntil := sub.ActiveUntil
		snap.HasActiveSubscription = true
		snap.SubscriptionType = sub.SubscriptionType
		snap.SubscriptionCreditsRemaining = sub.CreditsRemaining
		snap.SubscriptionActiveUntil = &activeUntil
	}
	return snap, nil
}

func (s *entitlementService) Consume(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (models.EntitlementSource, error) {
	snap, err := s.Snapshot(ctx, accountID, listingType)
	if err != nil {
		return models.EntitlementNone, err
	}
	log := s.log.WithFields(logrus.Fields{"user_id": accountID.String(), "listing_type": listingType})

	// Each write is conditioned on the state it consumes. A concurrent
	// consumer that got there first makes it fail, and we move on.
	for _, src := range policy.AvailableSources(*snap) {
		var ok bool
		switch src {
		case models.EntitlementFree:
			ok, err = s.store.ConsumeFreeListing(ctx, accountID, listingType, snap.FreeListingLimit)
		case models.EntitlementSubscriptionCredit:
			ok, err = s.store.ConsumeSubscriptionCredit(ctx, accountID, s.now())
		case models.EntitlementPurchasedCredit:
			ok, err = s.store.ConsumePurchasedCredit(ctx, accountID)
		}
		if err != nil {
			return models.EntitlementNone, fmt.Errorf("failed to consume %s entitlement: %w", src, err)
		}
		if ok {
			metrics.EntitlementConsumed.WithLabelValues(string(src)).Inc()
			log.WithField("source", src).Info("Entitlement consumed")
			return src, nil
		}
		log.WithField("source", src).Debug("Entitlement source drained concurrently, trying next")
	}
	return models.EntitlementNone, apperr.New(apperr.KindEntitlementExhausted, "", "no free listing, subscription allowance or credit left")
}

func (s *entitlementService) GrantCredits(ctx context.Context, accountID utils.SixID, productID, transactionID string, credits int, expiresAt *time.Time) (bool, error) {
	if credits <= 0 {
		return false, apperr.New(apperr.KindValidation, "", "credit grant must be positive")
	}
	purchase := &models.CreditPurchase{
		UserID:           accountID,
		ProductID:        productID,
		TransactionID:    transactionID,
		CreditsAmount:    credits,
		CreditsRemaining: credits,
		ExpirationDate:   expiresAt,
		Status:           models.CreditStatusActive,
		CreatedAt:        s.now(),
	}
	granted, err := s.store.InsertCreditPurchase(ctx, purchase)
	if err != nil {
		return false, fmt.Errorf("failed to grant credits for %s: %w", transactionID, err)
	}
	log := s.log.WithFields(logrus.Fields{"user_id": accountID.String(), "transaction_id": transactionID})
	if !granted {
		log.Debug("Credits already granted for transaction")
		return false, nil
	}
	log.WithField("credits", credits).Info("Credits granted")
	return true, nil
}

// ActivateSubscription starts or extends a plan. A renewal of the same plan
// keeps the current period's allowance; a new or changed plan starts a
// fresh period.
func (s *entitlementService) ActivateSubscription(ctx context.Context, accountID utils.SixID, plan models.PlanType, activeUntil time.Time, originalTransactionID string) error {
	if plan != models.PlanPro && plan != models.PlanPremium {
		return apperr.New(apperr.KindValidation, "", fmt.Sprintf("unknown plan %q", plan))
	}
	now := s.now()
	existing, err := s.store.GetSubscription(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load subscription of %s: %w", accountID, err)
	}

	sub := &models.Subscription{
		UserID:                accountID,
		SubscriptionType:      plan,
		ActiveUntil:           activeUntil,
		CreditsRemaining:      s.planCredits(ctx, plan),
		PeriodStart:           now,
		NextResetAt:           now.Add(s.period()),
		OriginalTransactionID: originalTransactionID,
	}
	if existing != nil && existing.IsActive(now) && existing.SubscriptionType == plan {
		sub.CreditsRemaining = existing.CreditsRemaining
		sub.PeriodStart = existing.PeriodStart
		sub.NextResetAt = existing.NextResetAt
		if existing.ActiveUntil.After(activeUntil) {
			sub.ActiveUntil = existing.ActiveUntil
		}
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription of %s: %w", accountID, err)
	}
	s.log.WithFields(logrus.Fields{
		"user_id":      accountID.String(),
		"plan":         plan,
		"active_until": sub.ActiveUntil,
	}).Info("Subscription activated")
	return nil
}

// RollSubscriptions resets the allowance of every active plan whose period
// has elapsed. It returns how many were rolled.
func (s *entitlementService) RollSubscriptions(ctx context.Context, now time.Time) (int, error) {
	rolled := 0
	for {
		due, err := s.store.ListSubscriptionsDue(ctx, now, rollBatchSize)
		if err != nil {
			return rolled, fmt.Errorf("failed to list due subscriptions: %w", err)
		}
		progress := 0
		for _, sub := range due {
			ok, err := s.store.RollSubscriptionPeriod(ctx, sub.UserID, s.planCredits(ctx, sub.SubscriptionType), now, s.period())
			if err != nil {
				s.log.WithError(err).WithField("user_id", sub.UserID.String()).Warn("Failed to roll subscription")
				continue
			}
			if ok {
				progress++
			}
		}
		rolled += progress
		if len(due) < rollBatchSize || progress == 0 {
			break
		}
	}
	if rolled > 0 {
		s.log.WithField("count", rolled).Info("Subscription periods rolled")
	}
	return rolled, nil
}
