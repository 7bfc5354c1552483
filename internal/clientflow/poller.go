package clientflow

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/models"
	"lazone/api/internal/services"
)

// Outcome is what the user is told after returning from checkout. There
// is no failed outcome: a webhook may still land after polling stops.
type Outcome string

const (
	OutcomeActivated         Outcome = "activated"
	OutcomePendingValidation Outcome = "pending_validation"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 12
)

// Backend is the server side the poller reconciles against.
type Backend interface {
	ConfirmWebCheckout(ctx context.Context, ref string) (*services.ConfirmResult, error)
	PaymentStatus(ctx context.Context, ref string) (*services.PaymentStatusView, error)
}

// ReturnResult is the end state of one return from checkout.
type ReturnResult struct {
	Outcome  Outcome
	Attempts int
	// Confirmed is true when the immediate confirmation completed the
	// payment.
	Confirmed bool
}

// ReturnPoller runs the bounded reconciliation after a checkout return.
type ReturnPoller struct {
	backend  Backend
	interval time.Duration
	attempts int
	log      logrus.FieldLogger
}

// NewReturnPoller creates a poller. Non-positive settings take the
// defaults.
func NewReturnPoller(backend Backend, interval time.Duration, attempts int, log logrus.FieldLogger) *ReturnPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	return &ReturnPoller{backend: backend, interval: interval, attempts: attempts, log: log.WithField("component", "return_poller")}
}

var errNotYetActive = errors.New("not yet active")

// Await confirms the payment of ref once, then polls its status at a fixed
// interval until it is settled or attempts run out. Only ctx cancellation
// is returned as an error.
func (p *ReturnPoller) Await(ctx context.Context, ref string) (*ReturnResult, error) {
	log := p.log.WithField("transaction_ref", ref)
	res := &ReturnResult{Outcome: OutcomePendingValidation}

	confirmed, err := p.backend.ConfirmWebCheckout(ctx, ref)
	switch {
	case err == nil && confirmed.OK:
		res.Outcome = OutcomeActivated
		res.Confirmed = true
		return res, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.WithError(err).Debug("Immediate confirmation did not settle the payment")
	}

	op := func() error {
		res.Attempts++
		view, err := p.backend.PaymentStatus(ctx, ref)
		if err != nil {
			log.WithError(err).WithField("attempt", res.Attempts).Debug("Status poll failed")
			return err
		}
		if settled(view) {
			return nil
		}
		return errNotYetActive
	}
	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.interval), uint64(p.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, schedule); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.WithField("attempts", res.Attempts).Info("Payment still pending after polling")
		return res, nil
	}
	res.Outcome = OutcomeActivated
	return res, nil
}

// settled reports whether the user can be told the purchase went through:
// the listing is live, or a purchase not tied to a listing completed.
func settled(v *services.PaymentStatusView) bool {
	if v == nil {
		return false
	}
	if v.PropertyID != nil {
		return v.ListingActive
	}
	return v.Status == models.PaymentStatusCompleted
}
