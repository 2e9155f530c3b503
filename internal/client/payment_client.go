package client

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

// PaymentClient talks to the payment gateway's authorization API. Amounts are
// sent in minor units.
type PaymentClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPaymentClient(baseURL string) *PaymentClient {
	return &PaymentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type authorizeRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type authorizationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Authorize reserves the amount and returns the gateway reference. A refusal
// is returned as *orders.DeclinedError.
func (c *PaymentClient) Authorize(ctx context.Context, req orders.AuthorizationRequest) (string, error) {
	body, err := json.Marshal(authorizeRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Metadata: req.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode authorization: %w", err)
	}

	httpReq, err := c.newRequest(ctx, "/v1/authorizations", body)
	if err != nil {
		return "", err
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var auth authorizationResponse
		if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if auth.ID == "" {
			return "", fmt.Errorf("payment gateway returned no authorization id")
		}
		return auth.ID, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", declined(resp.Body)
	default:
		return "", statusError(resp)
	}
}

// Void releases an authorization.
func (c *PaymentClient) Void(ctx context.Context, reference string) error {
	httpReq, err := c.newRequest(ctx, "/v1/authorizations/"+url.PathEscape(reference)+"/void", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *PaymentClient) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func declined(body io.Reader) error {
	var e errorResponse
	if err := json.NewDecoder(body).Decode(&e); err != nil || e.Error.Message == "" {
		return &orders.DeclinedError{Code: "declined", Reason: "payment declined"}
	}
	return &orders.DeclinedError{Code: e.Error.Code, Reason: e.Error.Message}
}

func statusError(resp *http.Response) error {
	var e errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, e.Error.Message)
	}
	return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
}
