package payments

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"lazone/api/internal/apperr"
)

func newBreaker(name string, timeout time.Duration, log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5)
		},
		// Only processor faults count against the breaker; a declined card or
		// an unknown session is a healthy answer.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return apperr.KindOf(classifyForBreaker(name, err)) != apperr.KindPaymentProvider
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

func classifyForBreaker(name string, err error) error {
	if name == "stripe" {
		return apperr.ClassifyStripe(err)
	}
	return err
}
