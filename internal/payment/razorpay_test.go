package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/payment"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

func newRazorpay(t *testing.T, h http.HandlerFunc) *payment.RazorpayClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := payment.NewRazorpayClient(payment.RazorpayConfig{
		KeyID:       "rzp_test_key",
		KeySecret:   "rzp_test_secret",
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Breaker:     resilience.NewBreaker(100, 1, time.Second),
	})
	require.NoError(t, err)
	return c
}

func TestNewRazorpayClientValidation(t *testing.T) {
	_, err := payment.NewRazorpayClient(payment.RazorpayConfig{KeySecret: "s"})
	require.Error(t, err)
	_, err = payment.NewRazorpayClient(payment.RazorpayConfig{KeyID: "k", KeySecret: "s", BaseURL: "not a url"})
	require.Error(t, err)
	_, err = payment.NewRazorpayClient(payment.RazorpayConfig{KeyID: "k", KeySecret: "s"})
	require.NoError(t, err)
}

func TestRazorpayCreateOrder(t *testing.T) {
	var got atomic.Value
	c := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		got.Store([]string{r.Method, r.URL.Path, user, pass, string(body)})
		_, _ = w.Write([]byte(`{"id":"order_Abc","amount":50000,"currency":"INR","receipt":"bk_1","status":"created"}`))
	})

	order, err := c.CreateOrder(context.Background(), payment.OrderRequest{
		AmountMinor: 50000, Currency: "INR", Receipt: "bk_1", Notes: map[string]string{"booking_id": "b-1"},
	})
	require.NoError(t, err)
	require.Equal(t, payment.RemoteOrder{ID: "order_Abc", AmountMinor: 50000, Currency: "INR", Receipt: "bk_1", Status: "created"}, order)

	req := got.Load().([]string)
	require.Equal(t, http.MethodPost, req[0])
	require.Equal(t, "/v1/orders", req[1])
	require.Equal(t, "rzp_test_key", req[2])
	require.Equal(t, "rzp_test_secret", req[3])
	require.JSONEq(t, `{"amount":50000,"currency":"INR","receipt":"bk_1","notes":{"booking_id":"b-1"}}`, req[4])
}

func TestRazorpayFetchPaymentAndOrderPayments(t *testing.T) {
	c := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/pay_1":
			_, _ = w.Write([]byte(`{"id":"pay_1","order_id":"order_1","amount":50000,"currency":"INR","status":"captured"}`))
		case "/v1/orders/order_1/payments":
			_, _ = w.Write([]byte(`{"entity":"collection","count":2,"items":[{"id":"pay_0","order_id":"order_1","amount":50000,"status":"failed","error_description":"card declined"},{"id":"pay_1","order_id":"order_1","amount":50000,"status":"captured"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	p, err := c.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	require.True(t, p.Captured())
	require.Equal(t, "order_1", p.OrderID)

	list, err := c.FetchOrderPayments(context.Background(), "order_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "card declined", list[0].ErrorReason)
	require.False(t, list[0].Captured())
}

func TestRazorpayRejection(t *testing.T) {
	c := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
	})

	_, err := c.FetchPayment(context.Background(), "pay_nope")
	var pe *payment.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusBadRequest, pe.StatusCode)
	require.Equal(t, "BAD_REQUEST_ERROR", pe.Code)
	require.True(t, payment.IsProviderRejection(err))
	require.False(t, errors.Is(err, payment.ErrProviderUnavailable))
}

func TestRazorpayServerErrorsRetryOnlyReads(t *testing.T) {
	var calls atomic.Int32
	c := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchPayment(context.Background(), "pay_1")
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
	require.EqualValues(t, 3, calls.Load())

	calls.Store(0)
	amount := int64(100)
	_, err = c.CreateRefund(context.Background(), "pay_1", &amount, nil)
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
	require.EqualValues(t, 1, calls.Load(), "refunds are never resent")
}

func TestRazorpayCreateRefund(t *testing.T) {
	var body atomic.Value
	c := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body.Store(map[string]any{"path": r.URL.Path, "body": string(raw)})
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "rfnd_1", "payment_id": "pay_1", "amount": 1250, "status": "processed"})
	})

	amount := int64(1250)
	refund, err := c.CreateRefund(context.Background(), "pay_1", &amount, map[string]string{"reason": "rain"})
	require.NoError(t, err)
	require.Equal(t, payment.RemoteRefund{ID: "rfnd_1", PaymentID: "pay_1", AmountMinor: 1250, Status: "processed"}, refund)
	got := body.Load().(map[string]any)
	require.Equal(t, "/v1/payments/pay_1/refund", got["path"])
	require.JSONEq(t, `{"amount":1250,"notes":{"reason":"rain"}}`, got["body"].(string))

	_, err = c.CreateRefund(context.Background(), "pay_1", nil, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, body.Load().(map[string]any)["body"].(string))
}

func TestRazorpayGarbledResponse(t *testing.T) {
	c := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.FetchPayment(context.Background(), "pay_1")
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
}
