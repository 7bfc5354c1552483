// Package payments wraps the external payment rails: Stripe hosted checkout
// for the web and Apple receipt verification for native in-app purchases.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"lazone/api/internal/apperr"
)

// Checkout session metadata keys written at initiation and read back by the
// webhook when the local payment row is missing.
const (
	MetaTransactionRef = "transaction_ref"
	MetaUserID         = "user_id"
	MetaPropertyID     = "property_id"
	MetaListingType    = "listing_type"
)

// Webhook event types handled by the reconciliation workflow.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventCheckoutAsyncPaymentPaid   = "checkout.session.async_payment_succeeded"
)

// CheckoutSession is the subset of a hosted checkout session the service uses.
type CheckoutSession struct {
	ID                string
	URL               string
	PaymentStatus     string
	Status            string
	ClientReferenceID string
	PaymentIntentID   string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
}

// IsPaid reports whether the processor considers the session settled.
func (s *CheckoutSession) IsPaid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) &&
		s.Status == string(stripe.CheckoutSessionStatusComplete)
}

// Ref returns the transaction reference the session was created for.
func (s *CheckoutSession) Ref() string {
	if ref := s.Metadata[MetaTransactionRef]; ref != "" {
		return ref
	}
	return s.ClientReferenceID
}

// CreateSessionParams describes a one-off hosted checkout.
type CreateSessionParams struct {
	TransactionRef string
	ProductName    string
	AmountMinor    int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	Metadata       map[string]string
}

// WebhookEvent is a verified processor event carrying a checkout session.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// CheckoutGateway is the port to the hosted checkout processor.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*CheckoutSession, error)
	GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	// FindSessionByRef looks a session up by transaction reference when no
	// session id was recorded locally.
	FindSessionByRef(ctx context.Context, ref string) (*CheckoutSession, error)
	// ParseWebhook verifies the signature header when a signing secret is
	// configured and decodes the event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	APIBaseURL     string // Optional override, used against stripe-mock in tests.
	BreakerTimeout time.Duration
	// MaxSessionScan bounds FindSessionByRef.
	MaxSessionScan int
}

type stripeGateway struct {
	sc            *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker
	maxScan       int
}

// NewStripeGateway creates a CheckoutGateway backed by the Stripe API. Calls
// go through a circuit breaker that opens after repeated processor faults.
func NewStripeGateway(cfg StripeConfig, log logrus.FieldLogger) CheckoutGateway {
	var backends *stripe.Backends
	if cfg.APIBaseURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.APIBaseURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	maxScan := cfg.MaxSessionScan
	if maxScan <= 0 {
		maxScan = 300
	}
	return &stripeGateway{
		sc:            client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		breaker:       newBreaker("stripe", cfg.BreakerTimeout, log),
		maxScan:       maxScan,
	}
}

func (g *stripeGateway) CreateSession(ctx context.Context, p CreateSessionParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.TransactionRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.Currency),
				UnitAmount: stripe.Int64(p.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.ProductName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + p.TransactionRef)
	params.AddMetadata(MetaTransactionRef, p.TransactionRef)
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.sc.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session for %s: %w", p.TransactionRef, apperr.ClassifyStripe(err))
	}
	return fromStripeSession(res.(*stripe.CheckoutSession)), nil
}

func (g *stripeGateway) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.sc.CheckoutSessions.Get(sessionID, params)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, apperr.ClassifyStripe(err))
	}
	return fromStripeSession(res.(*stripe.CheckoutSession)), nil
}

func (g *stripeGateway) FindSessionByRef(ctx context.Context, ref string) (*CheckoutSession, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		params := &stripe.CheckoutSessionListParams{}
		params.Context = ctx
		params.Limit = stripe.Int64(100)
		iter := g.sc.CheckoutSessions.List(params)
		scanned := 0
		for iter.Next() {
			s := iter.CheckoutSession()
			if s.ClientReferenceID == ref || s.Metadata[MetaTransactionRef] == ref {
				return s, nil
			}
			scanned++
			if scanned >= g.maxScan {
				break
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search checkout sessions for %s: %w", ref, apperr.ClassifyStripe(err))
	}
	s, _ := res.(*stripe.CheckoutSession)
	if s == nil {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeSessionNotFound, "no checkout session for transaction "+ref)
	}
	return fromStripeSession(s), nil
}

func (g *stripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	var event stripe.Event
	if g.webhookSecret != "" {
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidSignature, "webhook signature verification failed", err)
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "", "malformed webhook payload", err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}
	if event.Data.Object["object"] != nil && event.Data.Object["object"] != "checkout.session" {
		return out, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "", "malformed checkout session in webhook", err)
	}
	out.Session = fromStripeSession(&session)
	return out, nil
}

func fromStripeSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		PaymentStatus:     string(s.PaymentStatus),
		Status:            string(s.Status),
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Currency:          string(s.Currency),
		Metadata:          s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}
