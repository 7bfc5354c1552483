package clientflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lazone/api/internal/services"
)

// APIError is a non-2xx answer of the API.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// APIClient talks to the payment endpoints of the REST API on behalf of
// one signed-in user. It implements Backend.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Backend = (*APIClient)(nil)

// NewAPIClient creates a client for baseURL (e.g. https://api.lazoneapp.com)
// authenticating with a bearer token.
func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: httpClient}
}

// InitiateWebCheckout calls POST /v1/payments/checkout.
func (c *APIClient) InitiateWebCheckout(ctx context.Context, req services.InitiateRequest) (*services.InitiateResult, error) {
	var out services.InitiateResult
	if err := c.do(ctx, http.MethodPost, "/v1/payments/checkout", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmWebCheckout calls POST /v1/payments/confirm.
func (c *APIClient) ConfirmWebCheckout(ctx context.Context, ref string) (*services.ConfirmResult, error) {
	var out services.ConfirmResult
	body := map[string]string{"transactionRef": ref}
	if err := c.do(ctx, http.MethodPost, "/v1/payments/confirm", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentStatus calls GET /v1/payments/:ref.
func (c *APIClient) PaymentStatus(ctx context.Context, ref string) (*services.PaymentStatusView, error) {
	var out services.PaymentStatusView
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
