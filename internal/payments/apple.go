package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"lazone/api/internal/apperr"
)

// Default Apple verifyReceipt endpoints.
const (
	AppleProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	AppleSandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"
)

// ReceiptTransaction is one purchase line of a verified receipt.
type ReceiptTransaction struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchaseDate          time.Time
	ExpiresDate           *time.Time // Auto-renewable subscriptions only.
}

// VerifiedReceipt is the vendor's answer for a receipt that validated.
type VerifiedReceipt struct {
	Status       int
	Environment  string
	BundleID     string
	Transactions []ReceiptTransaction
}

// FindProduct returns the newest transaction for productID.
func (r *VerifiedReceipt) FindProduct(productID string) (ReceiptTransaction, bool) {
	var best ReceiptTransaction
	found := false
	for _, tx := range r.Transactions {
		if tx.ProductID != productID {
			continue
		}
		if !found || tx.PurchaseDate.After(best.PurchaseDate) {
			best = tx
			found = true
		}
	}
	return best, found
}

// ReceiptVerifier is the port to the platform vendor's receipt verification.
type ReceiptVerifier interface {
	// Verify validates a base64 receipt. A vendor rejection is returned as a
	// ReceiptInvalid error whose Status carries the vendor code.
	Verify(ctx context.Context, receiptData string) (*VerifiedReceipt, error)
}

// AppleConfig configures the Apple verifier.
type AppleConfig struct {
	SharedSecret   string
	ProductionURL  string
	SandboxURL     string
	Timeout        time.Duration
	BreakerTimeout time.Duration
}

type appleVerifier struct {
	cfg        AppleConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        logrus.FieldLogger
}

// NewAppleVerifier creates a ReceiptVerifier against Apple's verifyReceipt.
// Production is tried first; a 21007 answer retries against the sandbox, so
// one client binary works in both environments.
func NewAppleVerifier(cfg AppleConfig, log logrus.FieldLogger) ReceiptVerifier {
	if cfg.ProductionURL == "" {
		cfg.ProductionURL = AppleProductionURL
	}
	if cfg.SandboxURL == "" {
		cfg.SandboxURL = AppleSandboxURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &appleVerifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    newBreaker("apple-receipts", cfg.BreakerTimeout, log),
		log:        log,
	}
}

type appleRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type appleInApp struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMs        string `json:"purchase_date_ms"`
	ExpiresDateMs         string `json:"expires_date_ms"`
}

type appleResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		BundleID string       `json:"bundle_id"`
		InApp    []appleInApp `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo []appleInApp `json:"latest_receipt_info"`
}

func (v *appleVerifier) Verify(ctx context.Context, receiptData string) (*VerifiedReceipt, error) {
	if receiptData == "" {
		return nil, apperr.New(apperr.KindValidation, "", "receipt data is required")
	}

	resp, err := v.post(ctx, v.cfg.ProductionURL, receiptData)
	if err != nil {
		return nil, err
	}
	if resp.Status == apperr.AppleStatusSandboxReceipt {
		v.log.Debug("Sandbox receipt sent to production, retrying against sandbox")
		resp, err = v.post(ctx, v.cfg.SandboxURL, receiptData)
		if err != nil {
			return nil, err
		}
	}
	if err := apperr.ClassifyAppleStatus(resp.Status); err != nil {
		return nil, err
	}

	out := &VerifiedReceipt{Status: resp.Status, Environment: resp.Environment, BundleID: resp.Receipt.BundleID}
	seen := make(map[string]struct{})
	for _, list := range [][]appleInApp{resp.LatestReceiptInfo, resp.Receipt.InApp} {
		for _, item := range list {
			if _, dup := seen[item.TransactionID]; dup {
				continue
			}
			seen[item.TransactionID] = struct{}{}
			out.Transactions = append(out.Transactions, toReceiptTransaction(item))
		}
	}
	return out, nil
}

// post calls one verifyReceipt endpoint through the breaker. Transport and
// 5xx failures come back as PaymentProvider errors.
func (v *appleVerifier) post(ctx context.Context, url, receiptData string) (*appleResponse, error) {
	res, err := v.breaker.Execute(func() (interface{}, error) {
		body, _ := json.Marshal(appleRequest{
			ReceiptData:            receiptData,
			Password:               v.cfg.SharedSecret,
			ExcludeOldTransactions: true,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "", "failed to create receipt request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := v.httpClient.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable, "failed to contact receipt verification", err)
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPaymentProvider, "", "failed to read receipt verification response", err)
		}
		if httpResp.StatusCode >= 500 {
			return nil, apperr.New(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable,
				fmt.Sprintf("receipt verification answered HTTP %d", httpResp.StatusCode))
		}
		var parsed appleResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, apperr.Wrap(apperr.KindPaymentProvider, "", "malformed receipt verification response", err)
		}
		return &parsed, nil
	})
	if err != nil {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			return nil, apperr.Wrap(apperr.KindPaymentProvider, apperr.CodeProviderUnavailable, "receipt verification unavailable", err)
		}
		return nil, err
	}
	return res.(*appleResponse), nil
}

func toReceiptTransaction(item appleInApp) ReceiptTransaction {
	tx := ReceiptTransaction{
		ProductID:             item.ProductID,
		TransactionID:         item.TransactionID,
		OriginalTransactionID: item.OriginalTransactionID,
	}
	if t, ok := parseMillis(item.PurchaseDateMs); ok {
		tx.PurchaseDate = t
	}
	if t, ok := parseMillis(item.ExpiresDateMs); ok {
		tx.ExpiresDate = &t
	}
	return tx
}

func parseMillis(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
