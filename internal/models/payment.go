package models

import (
	"time"

	"lazone/api/internal/utils"
)

// PaymentStatus is the lifecycle state of a Payment. Completed and failed
// are terminal.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentMethod is the rail a payment went through.
type PaymentMethod string

const (
	PaymentMethodStripe      PaymentMethod = "stripe"
	PaymentMethodAppleIAP    PaymentMethod = "apple_iap"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

// Payment is one payment attempt, keyed by its globally unique TransactionRef.
type Payment struct {
	Base                  `bson:",inline"`
	UserID                utils.SixID   `bson:"user_id" json:"user_id"`
	Amount                float64       `bson:"amount" json:"amount"`
	Currency              string        `bson:"currency" json:"currency"`
	Status                PaymentStatus `bson:"status" json:"status"`
	PaymentMethod         PaymentMethod `bson:"payment_method" json:"payment_method"`
	TransactionRef        string        `bson:"transaction_ref" json:"transaction_ref"`
	PropertyID            *utils.SixID  `bson:"property_id,omitempty" json:"property_id,omitempty"`
	ListingType           ListingType   `bson:"listing_type,omitempty" json:"listing_type,omitempty"`
	ProductID             string        `bson:"product_id,omitempty" json:"product_id,omitempty"`
	ProviderSessionID     string        `bson:"provider_session_id,omitempty" json:"-"`
	ProviderTransactionID string        `bson:"provider_transaction_id,omitempty" json:"provider_transaction_id,omitempty"`
	FailureReason         string        `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	CreatedAt             time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `bson:"updated_at" json:"updated_at"`
	CompletedAt           *time.Time    `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// CreditPurchase is a block of purchased listing credits. Purchased credits
// never expire; ExpirationDate is only set for subscription-sourced grants.
type CreditPurchase struct {
	Base             `bson:",inline"`
	UserID           utils.SixID `bson:"user_id" json:"user_id"`
	ProductID        string      `bson:"product_id" json:"product_id"`
	TransactionID    string      `bson:"transaction_id" json:"transaction_id"` // Vendor transaction id or payment ref
	CreditsAmount    int         `bson:"credits_amount" json:"credits_amount"`
	CreditsRemaining int         `bson:"credits_remaining" json:"credits_remaining"`
	ExpirationDate   *time.Time  `bson:"expiration_date,omitempty" json:"expiration_date,omitempty"`
	IsSubscription   bool        `bson:"is_subscription" json:"is_subscription"`
	Status           string      `bson:"status" json:"status"`
	CreatedAt        time.Time   `bson:"created_at" json:"created_at"`
}

const (
	CreditStatusActive    = "active"
	CreditStatusExhausted = "exhausted"
)

// PlanType is a subscription plan.
type PlanType string

const (
	PlanPro     PlanType = "pro"
	PlanPremium PlanType = "premium"
)

// Subscription is an account's recurring plan. One row per account.
type Subscription struct {
	Base                  `bson:",inline"`
	UserID                utils.SixID `bson:"user_id" json:"user_id"`
	SubscriptionType      PlanType    `bson:"subscription_type" json:"subscription_type"`
	ActiveUntil           time.Time   `bson:"active_until" json:"active_until"`
	CreditsRemaining      int         `bson:"credits_remaining" json:"credits_remaining"`
	PeriodStart           time.Time   `bson:"period_start" json:"period_start"`
	NextResetAt           time.Time   `bson:"next_reset_at" json:"next_reset_at"`
	OriginalTransactionID string      `bson:"original_transaction_id,omitempty" json:"-"`
	CreatedAt             time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time   `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether the subscription covers now.
func (s *Subscription) IsActive(now time.Time) bool {
	return s != nil && s.ActiveUntil.After(now)
}
