package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/payment"
)

const (
	confirmSecret = "confirm-secret"
	webhookSecret = "webhook-secret"
	ownerID       = "user-1"
)

type fakeGateway struct {
	mu            sync.Mutex
	seq           int
	payments      map[string]payment.RemotePayment
	orderPayments map[string][]payment.RemotePayment

	createErr error
	fetchErr  error
	refundErr error

	createCalls int
	fetchCalls  int
	refundCalls int
	lastRefund  *int64

	// refundDelay and beforeRefundReturn run outside the mutex so that
	// callers can race or change local state mid-refund.
	refundDelay        time.Duration
	beforeRefundReturn func(paymentID string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments:      map[string]payment.RemotePayment{},
		orderPayments: map[string][]payment.RemotePayment{},
	}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req payment.OrderRequest) (payment.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return payment.RemoteOrder{}, g.createErr
	}
	g.seq++
	return payment.RemoteOrder{ID: fmt.Sprintf("order_%d", g.seq), AmountMinor: req.AmountMinor, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (payment.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return payment.RemotePayment{}, g.fetchErr
	}
	p, ok := g.payments[id]
	if !ok {
		return payment.RemotePayment{}, &payment.ProviderError{StatusCode: http.StatusBadRequest, Code: "BAD_REQUEST_ERROR", Description: "The id provided does not exist"}
	}
	return p, nil
}

func (g *fakeGateway) FetchOrderPayments(_ context.Context, orderID string) ([]payment.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.orderPayments[orderID], nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, paymentID string, amountMinor *int64, meta map[string]string) (payment.RemoteRefund, error) {
	if g.refundDelay > 0 {
		time.Sleep(g.refundDelay)
	}
	if g.beforeRefundReturn != nil {
		g.beforeRefundReturn(meta["payment_id"])
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	g.lastRefund = amountMinor
	if g.refundErr != nil {
		return payment.RemoteRefund{}, g.refundErr
	}
	amount := g.payments[paymentID].AmountMinor
	if amountMinor != nil {
		amount = *amountMinor
	}
	return payment.RemoteRefund{ID: "rfnd_1", PaymentID: paymentID, AmountMinor: amount, Status: "processed"}, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refundCalls
}

// capture records a remote payment the provider would report.
func (g *fakeGateway) capture(id, orderID string, amountMinor int64, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := payment.RemotePayment{ID: id, OrderID: orderID, AmountMinor: amountMinor, Currency: "INR", Status: status}
	g.payments[id] = p
	g.orderPayments[orderID] = append(g.orderPayments[orderID], p)
}

type captureNotifier struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, ev.Topic)
	return nil
}

func (c *captureNotifier) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

type fixture struct {
	svc      *payment.Service
	store    *db.MemoryStore
	gw       *fakeGateway
	verifier *payment.Verifier
	events   *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	verifier, err := payment.NewVerifier(confirmSecret, webhookSecret)
	require.NoError(t, err)
	store := db.NewMemoryStore()
	gw := newFakeGateway()
	notifier := &captureNotifier{}
	svc := &payment.Service{
		Store:    store,
		Gateway:  gw,
		Verifier: verifier,
		Events:   &events.Bus{Notifiers: []events.Notifier{notifier}},
		Logger:   zerolog.Nop(),
		Config: payment.Config{
			Provider:      "razorpay",
			Currency:      "INR",
			ReceiptPrefix: "bk",
			StoreTimeout:  time.Second,
			OrderTTL:      time.Hour,
		},
	}
	return &fixture{svc: svc, store: store, gw: gw, verifier: verifier, events: notifier}
}

func (f *fixture) booking(price string, startsIn time.Duration) db.Booking {
	start := time.Now().Add(startsIn)
	return f.store.PutBooking(db.Booking{
		UserID:    ownerID,
		CourtID:   "court-7",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Price:     decimal.RequireFromString(price),
		Status:    db.BookingStatusPENDING,
	})
}

func (f *fixture) state(t *testing.T, bookingID string) (db.BookingStatus, db.PaymentStatus) {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), bookingID)
	require.NoError(t, err)
	p, err := f.store.GetLatestPaymentByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	return b.Status, p.Status
}

func (f *fixture) confirm(orderID, paymentID, bookingID string) payment.ConfirmRequest {
	return payment.ConfirmRequest{
		RemoteOrderID:   orderID,
		RemotePaymentID: paymentID,
		Signature:       f.verifier.SignConfirmation(orderID, paymentID),
		BookingID:       bookingID,
		UserID:          ownerID,
	}
}

func webhookBody(t *testing.T, event string, payload map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"entity": "event", "event": event, "payload": payload})
	require.NoError(t, err)
	return body
}

func paymentEntity(id, orderID string, amountMinor int64, status string) map[string]any {
	return map[string]any{"payment": map[string]any{"entity": map[string]any{
		"id": id, "order_id": orderID, "amount": amountMinor, "currency": "INR", "status": status,
	}}}
}
