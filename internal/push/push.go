// Package push delivers notifications to devices through Firebase Cloud
// Messaging.
package push

import (
	"context"
	"fmt"
	"regexp"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"

	"lazone/api/internal/apperr"
)

// TokenKind tells how a stored device token can be delivered to.
type TokenKind int

const (
	// TokenFCM is a registration token accepted by the FCM v1 API.
	TokenFCM TokenKind = iota
	// TokenAPNsRaw is a bare APNs device token. FCM cannot deliver to it.
	TokenAPNsRaw
)

func (k TokenKind) String() string {
	if k == TokenAPNsRaw {
		return "apns_raw"
	}
	return "fcm"
}

var apnsRawToken = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ClassifyToken tells raw APNs tokens (64 hex characters) apart from FCM
// registration tokens.
func ClassifyToken(token string) TokenKind {
	if apnsRawToken.MatchString(token) {
		return TokenAPNsRaw
	}
	return TokenFCM
}

// Message is one notification to one device.
type Message struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	ImageURL string
}

// Sender delivers a single message. Errors are classified: a permanently
// unusable token comes back as apperr.KindTokenInvalid.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// FCMConfig configures the FCM sender.
type FCMConfig struct {
	ProjectID       string
	CredentialsJSON string
	BreakerTimeout  time.Duration
}

type fcmSender struct {
	client  *messaging.Client
	breaker *gobreaker.CircuitBreaker
}

// NewFCMSender creates a Sender on the Firebase Admin SDK.
func NewFCMSender(ctx context.Context, cfg FCMConfig, log logrus.FieldLogger) (Sender, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get FCM client: %w", err)
	}

	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fcm",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		// A rejected token is the provider working correctly.
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.KindOf(apperr.ClassifyFCM(err)) == apperr.KindTokenInvalid
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return &fcmSender{client: client, breaker: breaker}, nil
}

func (s *fcmSender) Send(ctx context.Context, msg Message) (string, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Send(ctx, BuildMessage(msg))
	})
	if err != nil {
		return "", apperr.ClassifyFCM(err)
	}
	return res.(string), nil
}

// BuildMessage converts a Message into the FCM wire form with high-priority
// Android and APNs settings.
func BuildMessage(msg Message) *messaging.Message {
	out := &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title:    msg.Title,
			Body:     msg.Body,
			ImageURL: msg.ImageURL,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: msg.Title,
						Body:  msg.Body,
					},
					Sound: "default",
				},
			},
		},
	}
	if msg.ImageURL != "" {
		out.APNS.FCMOptions = &messaging.APNSFCMOptions{ImageURL: msg.ImageURL}
	}
	return out
}
