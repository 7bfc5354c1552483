// Package clientflow is the client half of the web checkout: getting the
// user to the hosted payment page and reconciling once they come back.
package clientflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Strategy is one way of sending the user to the checkout page.
type Strategy string

const (
	// StrategyRedirect navigates the current frame.
	StrategyRedirect Strategy = "redirect"
	// StrategyTopLevel navigates the top-level window out of a frame.
	StrategyTopLevel Strategy = "top_level"
	// StrategySameWindow replaces the current window location.
	StrategySameWindow Strategy = "same_window"
)

// DefaultStrategies is the order strategies are tried in.
var DefaultStrategies = []Strategy{StrategyRedirect, StrategyTopLevel, StrategySameWindow}

// ErrNavigationBlocked is returned when every strategy failed.
var ErrNavigationBlocked = errors.New("checkout navigation blocked")

// Navigator performs one navigation attempt.
type Navigator interface {
	Navigate(ctx context.Context, strategy Strategy, url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, strategy Strategy, url string) error

func (f NavigatorFunc) Navigate(ctx context.Context, strategy Strategy, url string) error {
	return f(ctx, strategy, url)
}

// Redirector sends the user to a checkout URL, falling back through
// heavier navigation strategies when one is blocked.
type Redirector struct {
	nav        Navigator
	strategies []Strategy
	log        logrus.FieldLogger
}

// NewRedirector creates a Redirector trying DefaultStrategies in order.
func NewRedirector(nav Navigator, log logrus.FieldLogger) *Redirector {
	return &Redirector{nav: nav, strategies: DefaultStrategies, log: log.WithField("component", "redirector")}
}

// Open navigates to url and returns the strategy that worked. It fails
// only when all strategies fail or ctx ends.
func (r *Redirector) Open(ctx context.Context, url string) (Strategy, error) {
	if url == "" {
		return "", errors.New("checkout url is empty")
	}
	var errs []error
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := r.nav.Navigate(ctx, s, url)
		if err == nil {
			if len(errs) > 0 {
				r.log.WithField("strategy", s).WithField("failed", len(errs)).Info("Checkout opened after fallback")
			}
			return s, nil
		}
		r.log.WithError(err).WithField("strategy", s).Warn("Checkout navigation failed")
		errs = append(errs, fmt.Errorf("%s: %w", s, err))
	}
	return "", fmt.Errorf("%w: %w", ErrNavigationBlocked, errors.Join(errs...))
}
