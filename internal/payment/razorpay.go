package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// RazorpayConfig configures RazorpayClient.
type RazorpayConfig struct {
	KeyID       string
	KeySecret   string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Breaker     *resilience.Breaker
}

// RazorpayClient talks to the Razorpay REST API with basic auth. GET requests
// are retried by the underlying client; order and refund creation are sent
// once.
type RazorpayClient struct {
	keyID     string
	keySecret string
	baseURL   string
	http      resilience.HTTPClient
}

// NewRazorpayClient validates cfg and builds a client.
func NewRazorpayClient(cfg RazorpayConfig) (*RazorpayClient, error) {
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultRazorpayBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("razorpay: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("razorpay")
	}
	return &RazorpayClient{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   base,
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.BaseBackoff,
			Jitter:      0.2,
			Timeout:     timeout,
		},
	}, nil
}

type rzpOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type rzpPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

func (p rzpPayment) remote() RemotePayment {
	return RemotePayment{
		ID:          p.ID,
		OrderID:     p.OrderID,
		AmountMinor: p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		ErrorReason: p.ErrorDescription,
	}
}

type rzpRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type rzpError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (RemoteOrder, error) {
	body := map[string]any{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}
	var out rzpOrder
	if err := c.call(ctx, "create_order", http.MethodPost, "/v1/orders", body, &out); err != nil {
		return RemoteOrder{}, err
	}
	return RemoteOrder{ID: out.ID, AmountMinor: out.Amount, Currency: out.Currency, Receipt: out.Receipt, Status: out.Status}, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, remotePaymentID string) (RemotePayment, error) {
	var out rzpPayment
	if err := c.call(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(remotePaymentID), nil, &out); err != nil {
		return RemotePayment{}, err
	}
	return out.remote(), nil
}

func (c *RazorpayClient) FetchOrderPayments(ctx context.Context, remoteOrderID string) ([]RemotePayment, error) {
	var out struct {
		Items []rzpPayment `json:"items"`
	}
	if err := c.call(ctx, "fetch_order_payments", http.MethodGet, "/v1/orders/"+url.PathEscape(remoteOrderID)+"/payments", nil, &out); err != nil {
		return nil, err
	}
	payments := make([]RemotePayment, 0, len(out.Items))
	for _, item := range out.Items {
		payments = append(payments, item.remote())
	}
	return payments, nil
}

func (c *RazorpayClient) CreateRefund(ctx context.Context, remotePaymentID string, amountMinor *int64, notes map[string]string) (RemoteRefund, error) {
	body := map[string]any{}
	if amountMinor != nil {
		body["amount"] = *amountMinor
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var out rzpRefund
	if err := c.call(ctx, "create_refund", http.MethodPost, "/v1/payments/"+url.PathEscape(remotePaymentID)+"/refund", body, &out); err != nil {
		return RemoteRefund{}, err
	}
	return RemoteRefund{ID: out.ID, PaymentID: out.PaymentID, AmountMinor: out.Amount, Status: out.Status}, nil
}

// call sends one API request. Transport failures, timeouts, an open breaker
// and 5xx answers come back as ErrProviderUnavailable; 4xx as *ProviderError.
func (c *RazorpayClient) call(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "success"
		switch {
		case IsProviderRejection(err):
			result = "rejected"
		case err != nil:
			result = "unavailable"
		}
		if obs.ProviderRequestDuration != nil {
			obs.ProviderRequestDuration.WithLabelValues(op, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("razorpay: encode %s: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("razorpay: build %s: %w", op, err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return ErrProviderUnavailable.Wrap(fmt.Errorf("razorpay %s: %w", op, err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrProviderUnavailable.Wrap(fmt.Errorf("razorpay %s: read body: %w", op, err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr rzpError
		_ = json.Unmarshal(raw, &apiErr)
		return &ProviderError{StatusCode: resp.StatusCode, Code: apiErr.Error.Code, Description: apiErr.Error.Description}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ErrProviderUnavailable.Wrap(fmt.Errorf("razorpay %s: decode response: %w", op, err))
	}
	return nil
}
