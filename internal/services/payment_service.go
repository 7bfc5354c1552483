package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/config"
	"lazone/api/internal/metrics"
	"lazone/api/internal/models"
	"lazone/api/internal/payments"
	"lazone/api/internal/policy"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

// InitiateRequest starts a hosted web checkout.
type InitiateRequest struct {
	UserID         utils.SixID        `json:"-"`
	CustomerEmail  string             `json:"-"`
	Amount         float64            `json:"amount"`
	Currency       string             `json:"currency"`
	ListingType    models.ListingType `json:"listingType"`
	PropertyID     *utils.SixID       `json:"propertyId,omitempty"`
	ProductID      string             `json:"productId,omitempty"`
	TransactionRef string             `json:"transactionRef,omitempty"`
	SuccessURL     string             `json:"successUrl"`
	CancelURL      string             `json:"cancelUrl"`
}

// InitiateResult is where the client must navigate to pay.
type InitiateResult struct {
	CheckoutURL    string `json:"checkoutUrl"`
	TransactionRef string `json:"transactionRef"`
}

// ConfirmResult is the outcome of an on-demand reconciliation.
type ConfirmResult struct {
	OK         bool         `json:"ok"`
	PropertyID *utils.SixID `json:"propertyId,omitempty"`
}

// ReceiptRequest submits an in-app purchase receipt.
type ReceiptRequest struct {
	ReceiptData string             `json:"receiptData"`
	ProductID   string             `json:"productId"`
	ListingType models.ListingType `json:"listingType"`
	PropertyID  *utils.SixID       `json:"propertyId,omitempty"`
}

// ReceiptResult is the outcome of a validated receipt.
type ReceiptResult struct {
	Success          bool        `json:"success"`
	PaymentID        utils.SixID `json:"paymentId"`
	TransactionID    string      `json:"transactionId"`
	AlreadyProcessed bool        `json:"alreadyProcessed,omitempty"`
}

// PaymentStatusView is what a polling client sees of a payment.
type PaymentStatusView struct {
	TransactionRef string               `json:"transactionRef"`
	Status         models.PaymentStatus `json:"status"`
	PropertyID     *utils.SixID         `json:"propertyId,omitempty"`
	ListingActive  bool                 `json:"listingActive"`
	FailureReason  string               `json:"failureReason,omitempty"`
}

// IPaymentService reconciles payments from both rails into entitlements.
type IPaymentService interface {
	InitiateWebCheckout(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// ConfirmWebCheckout asks the processor for the session of ref and
	// completes the payment when it is both paid and complete.
	ConfirmWebCheckout(ctx context.Context, callerID utils.SixID, ref string) (*ConfirmResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	ValidateReceipt(ctx context.Context, callerID utils.SixID, req ReceiptRequest) (*ReceiptResult, error)
	PaymentStatus(ctx context.Context, callerID utils.SixID, ref string) (*PaymentStatusView, error)
}

// paymentService implements IPaymentService.
type paymentService struct {
	store         store.Store
	cfg           *config.Config
	configService IConfigService
	gateway       payments.CheckoutGateway
	verifier      payments.ReceiptVerifier
	entitlements  IEntitlementService
	listings      IListingService
	pushes        PushEnqueuer
	log           logrus.FieldLogger
	now           func() time.Time
}

// PaymentDeps groups the collaborators of the payment service.
type PaymentDeps struct {
	Store         store.Store
	Config        *config.Config
	ConfigService IConfigService
	Gateway       payments.CheckoutGateway
	Verifier      payments.ReceiptVerifier
	Entitlements  IEntitlementService
	Listings      IListingService
	Pushes        PushEnqueuer
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(deps PaymentDeps, log logrus.FieldLogger) IPaymentService {
	return &paymentService{
		store:         deps.Store,
		cfg:           deps.Config,
		configService: deps.ConfigService,
		gateway:       deps.Gateway,
		verifier:      deps.Verifier,
		entitlements:  deps.Entitlements,
		listings:      deps.Listings,
		pushes:        deps.Pushes,
		log:           log.WithField("component", "payment"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

const (
	railStripe   = "stripe"
	railAppleIAP = "apple_iap"
)

// InitiateWebCheckout records a pending payment and opens a hosted checkout
// session carrying its transaction reference.
func (s *paymentService) InitiateWebCheckout(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if s.gateway == nil {
		return nil, apperr.New(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable, "web checkout is not configured")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.configService.GetString(ctx, ConfigKeyListingCurrency, s.cfg.ListingCurrency)
	}
	amount := req.Amount
	if amount <= 0 {
		amount = s.configService.GetFloat64(ctx, ConfigKeyListingPrice, s.cfg.ListingPrice)
	}
	if amount <= 0 {
		return nil, validationError("amount must be positive")
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return nil, validationError("successUrl and cancelUrl are required")
	}
	if req.ListingType != "" && !req.ListingType.Valid() {
		return nil, validationError("unknown listing type %q", req.ListingType)
	}

	productName := "LaZone listing"
	if req.PropertyID != nil {
		listing, err := s.listings.FindListingByID(ctx, *req.PropertyID)
		if err != nil {
			return nil, err
		}
		if listing.OwnerID != req.UserID {
			return nil, apperr.New(apperr.KindForbidden, apperr.CodeAccountMismatch, "listing belongs to another account")
		}
		if listing.IsActive {
			return nil, apperr.New(apperr.KindConflict, apperr.CodeAlreadyProcessed, "listing is already active")
		}
		if req.ListingType == "" {
			req.ListingType = listing.ListingType
		}
		productName = "Listing: " + listing.Title
	} else if req.ProductID != "" {
		if _, ok := s.cfg.IAPProducts[req.ProductID]; !ok {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeUnknownProduct, fmt.Sprintf("unknown product %q", req.ProductID))
		}
		productName = req.ProductID
	}

	ref := strings.TrimSpace(req.TransactionRef)
	if ref == "" {
		ref = uuid.NewString()
	}
	now := s.now()
	payment := &models.Payment{
		UserID:         req.UserID,
		Amount:         policy.RoundToMinor(amount, currency),
		Currency:       currency,
		Status:         models.PaymentStatusPending,
		PaymentMethod:  models.PaymentMethodStripe,
		TransactionRef: ref,
		PropertyID:     req.PropertyID,
		ListingType:    req.ListingType,
		ProductID:      req.ProductID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	payment.GenID()
	if err := s.store.InsertPayment(ctx, payment); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.KindConflict, apperr.CodeAlreadyProcessed, "transaction reference already used")
		}
		return nil, fmt.Errorf("failed to record payment %s: %w", ref, err)
	}

	metadata := map[string]string{
		payments.MetaTransactionRef: ref,
		payments.MetaUserID:         req.UserID.String(),
		payments.MetaListingType:    string(req.ListingType),
	}
	if req.PropertyID != nil {
		metadata[payments.MetaPropertyID] = req.PropertyID.String()
	}

	log := s.log.WithFields(logrus.Fields{"transaction_ref": ref, "user_id": req.UserID.String()})
	session, err := s.gateway.CreateSession(ctx, payments.CreateSessionParams{
		TransactionRef: ref,
		ProductName:    productName,
		AmountMinor:    policy.ToMinorUnits(amount, currency),
		Currency:       currency,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		CustomerEmail:  req.CustomerEmail,
		Metadata:       metadata,
	})
	if err != nil {
		if _, failErr := s.store.FailPayment(ctx, ref, "checkout session could not be created", s.now()); failErr != nil {
			log.WithError(failErr).Error("Failed to mark payment failed after checkout error")
		}
		log.WithError(err).Warn("Checkout session creation failed")
		return nil, err
	}
	if err := s.store.SetPaymentSession(ctx, ref, session.ID); err != nil {
		// The webhook and FindSessionByRef still reconcile without it.
		log.WithError(err).Warn("Failed to record checkout session id")
	}

	metrics.PaymentTransitions.WithLabelValues(railStripe, "initiated").Inc()
	log.Info("Web checkout initiated")
	return &InitiateResult{CheckoutURL: session.URL, TransactionRef: ref}, nil
}

func (s *paymentService) ConfirmWebCheckout(ctx context.Context, callerID utils.SixID, ref string) (*ConfirmResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, validationError("transactionRef is required")
	}
	if s.gateway == nil {
		return nil, apperr.New(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable, "web checkout is not configured")
	}
	log := s.log.WithFields(logrus.Fields{"transaction_ref": ref, "user_id": callerID.String()})

	existing, err := s.store.GetPaymentByRef(ctx, ref)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load payment %s: %w", ref, err)
	}
	if existing != nil {
		if existing.UserID != callerID {
			return nil, apperr.New(apperr.KindForbidden, apperr.CodeAccountMismatch, "payment belongs to another account")
		}
		if existing.Status == models.PaymentStatusCompleted {
			log.Debug("Payment already completed")
			return &ConfirmResult{OK: true, PropertyID: existing.PropertyID}, nil
		}
	}

	var session *payments.CheckoutSession
	if existing != nil && existing.ProviderSessionID != "" {
		session, err = s.gateway.GetSession(ctx, existing.ProviderSessionID)
	} else {
		session, err = s.gateway.FindSessionByRef(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	if owner := session.Metadata[payments.MetaUserID]; owner != callerID.String() {
		log.WithField("session_user", owner).Warn("Checkout session belongs to another account")
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeAccountMismatch, "checkout session belongs to another account")
	}
	if !session.IsPaid() {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeNotYetPaid,
			fmt.Sprintf("checkout is %s/%s", session.Status, session.PaymentStatus))
	}

	payment, err := paymentFromSession(session, existing)
	if err != nil {
		return nil, err
	}
	if err := s.complete(ctx, payment, railStripe); err != nil {
		return nil, err
	}
	return &ConfirmResult{OK: true, PropertyID: payment.PropertyID}, nil
}

// HandleWebhook processes one processor event. An empty body is a
// connectivity check and succeeds without doing anything.
func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if s.gateway == nil {
		return apperr.New(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable, "web checkout is not configured")
	}
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.log.WithError(err).Warn("Rejected webhook")
		return err
	}
	log := s.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})
	if event.Session == nil {
		log.Debug("Ignoring webhook without checkout session")
		return nil
	}
	ref := event.Session.Ref()
	if ref == "" {
		log.Warn("Checkout session carries no transaction reference")
		return nil
	}
	log = log.WithField("transaction_ref", ref)

	switch event.Type {
	case payments.EventCheckoutCompleted, payments.EventCheckoutAsyncPaymentPaid:
		if !event.Session.IsPaid() {
			log.WithField("payment_status", event.Session.PaymentStatus).Info("Checkout completed but not yet paid")
			return nil
		}
		existing, err := s.store.GetPaymentByRef(ctx, ref)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load payment %s: %w", ref, err)
		}
		payment, err := paymentFromSession(event.Session, existing)
		if err != nil {
			log.WithError(err).Warn("Webhook session metadata is unusable")
			return err
		}
		return s.complete(ctx, payment, railStripe)

	case payments.EventCheckoutExpired, payments.EventCheckoutAsyncPaymentFailed:
		failed, err := s.store.FailPayment(ctx, ref, event.Type, s.now())
		if err != nil {
			return fmt.Errorf("failed to fail payment %s: %w", ref, err)
		}
		if failed {
			metrics.PaymentTransitions.WithLabelValues(railStripe, "failed").Inc()
			log.Info("Payment failed")
		} else {
			log.Debug("Payment not pending, failure event ignored")
		}
		return nil
	}

	log.Debug("Ignoring unhandled webhook event")
	return nil
}

// paymentFromSession builds the payment a paid session stands for, trusting
// the local row over session metadata when both exist.
func paymentFromSession(session *payments.CheckoutSession, existing *models.Payment) (*models.Payment, error) {
	if existing != nil {
		p := *existing
		p.ProviderSessionID = session.ID
		p.ProviderTransactionID = session.PaymentIntentID
		return &p, nil
	}

	userID, err := utils.ParseSixID(session.Metadata[payments.MetaUserID])
	if err == nil && userID.IsZero() {
		err = errors.New("missing")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "", "checkout session has no valid user id", err)
	}
	currency := strings.ToUpper(session.Currency)
	p := &models.Payment{
		UserID:                userID,
		Amount:                policy.FromMinorUnits(session.AmountTotal, currency),
		Currency:              currency,
		Status:                models.PaymentStatusPending,
		PaymentMethod:         models.PaymentMethodStripe,
		TransactionRef:        session.Ref(),
		ListingType:           models.ListingType(session.Metadata[payments.MetaListingType]),
		ProviderSessionID:     session.ID,
		ProviderTransactionID: session.PaymentIntentID,
	}
	if raw := session.Metadata[payments.MetaPropertyID]; raw != "" {
		pid, err := utils.ParseSixID(raw)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "", "checkout session has an invalid property id", err)
		}
		p.PropertyID = &pid
	}
	return p, nil
}

// ValidateReceipt verifies an App Store receipt and completes the purchase
// it proves. A vendor transaction seen before is reported as success.
func (s *paymentService) ValidateReceipt(ctx context.Context, callerID utils.SixID, req ReceiptRequest) (*ReceiptResult, error) {
	if callerID.IsZero() {
		return nil, apperr.New(apperr.KindNotAuthenticated, "", "authentication required")
	}
	if strings.TrimSpace(req.ReceiptData) == "" || strings.TrimSpace(req.ProductID) == "" {
		return nil, validationError("receiptData and productId are required")
	}
	if req.ListingType != "" && !req.ListingType.Valid() {
		return nil, validationError("unknown listing type %q", req.ListingType)
	}
	if req.PropertyID == nil {
		if _, ok := s.cfg.IAPProducts[req.ProductID]; !ok {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeUnknownProduct, fmt.Sprintf("unknown product %q", req.ProductID))
		}
	}
	if s.verifier == nil {
		return nil, apperr.New(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable, "receipt verification is not configured")
	}

	log := s.log.WithFields(logrus.Fields{"user_id": callerID.String(), "product_id": req.ProductID})
	receipt, err := s.verifier.Verify(ctx, req.ReceiptData)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindReceiptInvalid {
			metrics.PaymentTransitions.WithLabelValues(railAppleIAP, "rejected").Inc()
			log.WithError(err).Warn("Receipt rejected")
		}
		return nil, err
	}
	tx, ok := receipt.FindProduct(req.ProductID)
	if !ok {
		log.Warn("Product not in receipt")
		return nil, apperr.New(apperr.KindReceiptInvalid, apperr.CodeProductNotInReceipt, fmt.Sprintf("receipt has no purchase of %s", req.ProductID))
	}
	log = log.WithField("transaction_id", tx.TransactionID)

	seen, err := s.store.GetPaymentByProviderTransaction(ctx, tx.TransactionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up transaction %s: %w", tx.TransactionID, err)
	}
	if seen != nil {
		if seen.UserID != callerID {
			return nil, apperr.New(apperr.KindForbidden, apperr.CodeAccountMismatch, "transaction belongs to another account")
		}
		log.Debug("Receipt transaction already processed")
		return &ReceiptResult{Success: true, PaymentID: seen.ID, TransactionID: tx.TransactionID, AlreadyProcessed: true}, nil
	}

	if req.PropertyID != nil {
		listing, err := s.listings.FindListingByID(ctx, *req.PropertyID)
		if err != nil {
			return nil, err
		}
		if listing.OwnerID != callerID {
			return nil, apperr.New(apperr.KindForbidden, apperr.CodeAccountMismatch, "listing belongs to another account")
		}
		if req.ListingType == "" {
			req.ListingType = listing.ListingType
		}
	}

	now := s.now()
	payment := &models.Payment{
		UserID:                callerID,
		Currency:              s.cfg.ListingCurrency,
		Status:                models.PaymentStatusPending,
		PaymentMethod:         models.PaymentMethodAppleIAP,
		TransactionRef:        "iap_" + tx.TransactionID,
		PropertyID:            req.PropertyID,
		ListingType:           req.ListingType,
		ProductID:             req.ProductID,
		ProviderTransactionID: tx.TransactionID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	payment.GenID()
	if err := s.completeWith(ctx, payment, railAppleIAP, &tx); err != nil {
		return nil, err
	}

	stored, err := s.store.GetPaymentByRef(ctx, payment.TransactionRef)
	if err != nil {
		return nil, fmt.Errorf("failed to reload payment %s: %w", payment.TransactionRef, err)
	}
	return &ReceiptResult{Success: true, PaymentID: stored.ID, TransactionID: tx.TransactionID}, nil
}

func (s *paymentService) complete(ctx context.Context, p *models.Payment, rail string) error {
	return s.completeWith(ctx, p, rail, nil)
}

// completeWith moves p to completed and applies its effects. The effects
// are conditional writes themselves, so they are re-applied on a replay to
// finish a completion that was interrupted; only the push is sent once.
func (s *paymentService) completeWith(ctx context.Context, p *models.Payment, rail string, tx *payments.ReceiptTransaction) error {
	log := s.log.WithFields(logrus.Fields{"transaction_ref": p.TransactionRef, "user_id": p.UserID.String(), "rail": rail})
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.ID.IsZero() {
		p.GenID()
	}

	transitioned, err := s.store.CompletePayment(ctx, p, s.now())
	if err != nil {
		return fmt.Errorf("failed to complete payment %s: %w", p.TransactionRef, err)
	}
	if !transitioned {
		current, err := s.store.GetPaymentByRef(ctx, p.TransactionRef)
		if err != nil {
			return fmt.Errorf("failed to reload payment %s: %w", p.TransactionRef, err)
		}
		if current.Status == models.PaymentStatusFailed {
			// A voided or expired attempt that the processor later settled.
			log.WithField("failure_reason", current.FailureReason).Warn("Paid checkout for a payment already marked failed, not granting")
			return nil
		}
		log.Debug("Payment already completed, re-checking effects")
		p = current
	} else {
		metrics.PaymentTransitions.WithLabelValues(rail, "completed").Inc()
		log.Info("Payment completed")
	}

	granted, err := s.applyEffects(ctx, p, tx, log)
	if err != nil {
		return err
	}
	if granted {
		s.notifyCompletion(ctx, p)
	}
	return nil
}

// applyEffects grants what a completed payment bought. It reports whether
// anything was granted by this call.
func (s *paymentService) applyEffects(ctx context.Context, p *models.Payment, tx *payments.ReceiptTransaction, log logrus.FieldLogger) (bool, error) {
	if p.PropertyID != nil {
		activated, err := s.listings.ActivateListing(ctx, *p.PropertyID, models.EntitlementPayment)
		if err != nil {
			return false, err
		}
		voided, err := s.store.FailOtherPendingPayments(ctx, p.UserID, *p.PropertyID, p.TransactionRef,
			"superseded by "+p.TransactionRef, s.now())
		if err != nil {
			return activated, fmt.Errorf("failed to void stragglers of %s: %w", p.TransactionRef, err)
		}
		if voided > 0 {
			metrics.PaymentTransitions.WithLabelValues(string(p.PaymentMethod), "voided").Add(float64(voided))
			log.WithField("voided", voided).Info("Voided other pending payments for listing")
		}
		return activated, nil
	}

	product, known := s.cfg.IAPProducts[p.ProductID]
	grantID := p.ProviderTransactionID
	if grantID == "" {
		grantID = p.TransactionRef
	}

	if known && product.Kind == config.ProductKindSubscription {
		activeUntil := s.now().Add(s.cfg.SubscriptionPeriod)
		originalTx := grantID
		if tx != nil {
			if tx.ExpiresDate != nil {
				activeUntil = *tx.ExpiresDate
			}
			if tx.OriginalTransactionID != "" {
				originalTx = tx.OriginalTransactionID
			}
		}
		if err := s.entitlements.ActivateSubscription(ctx, p.UserID, models.PlanType(product.Plan), activeUntil, originalTx); err != nil {
			return false, err
		}
		return true, nil
	}

	credits := 1
	if known && product.Credits > 0 {
		credits = product.Credits
	}
	return s.entitlements.GrantCredits(ctx, p.UserID, p.ProductID, grantID, credits, nil)
}

func (s *paymentService) notifyCompletion(ctx context.Context, p *models.Payment) {
	req := DispatchRequest{
		UserID: p.UserID,
		Title:  "Payment confirmed",
		Body:   "Your purchase is now available.",
		Data:   map[string]string{"type": "payment_completed", "transaction_ref": p.TransactionRef},
	}
	if p.PropertyID != nil {
		req.Title = "Listing published"
		req.Body = "Your listing is now visible."
		req.Data["type"] = "listing_activated"
		req.Data["property_id"] = p.PropertyID.String()
	}
	notify(ctx, s.pushes, s.log, req)
}

func (s *paymentService) PaymentStatus(ctx context.Context, callerID utils.SixID, ref string) (*PaymentStatusView, error) {
	p, err := s.store.GetPaymentByRef(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodePaymentNotFound, "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", ref, err)
	}
	if p.UserID != callerID {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeAccountMismatch, "payment belongs to another account")
	}

	view := &PaymentStatusView{
		TransactionRef: p.TransactionRef,
		Status:         p.Status,
		PropertyID:     p.PropertyID,
		FailureReason:  p.FailureReason,
	}
	if p.PropertyID != nil {
		listing, err := s.listings.FindListingByID(ctx, *p.PropertyID)
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		view.ListingActive = listing != nil && listing.IsActive
	}
	return view, nil
}
