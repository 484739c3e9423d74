package payment_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/payment"
)

func TestParseWebhookEvent(t *testing.T) {
	body := webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", "order_1", 50000, "captured"))
	ev, err := payment.ParseWebhookEvent(body)
	require.NoError(t, err)
	captured, ok := ev.(payment.PaymentCaptured)
	require.True(t, ok)
	require.Equal(t, "order_1", captured.OrderID())
	require.EqualValues(t, 50000, captured.Payment.AmountMinor)

	body = []byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_2","amount":1000,"amount_paid":1000,"currency":"INR","status":"paid"}},"payment":{"entity":{"id":"pay_2","order_id":"order_2","amount":1000,"status":"captured"}}}}`)
	ev, err = payment.ParseWebhookEvent(body)
	require.NoError(t, err)
	paid, ok := ev.(payment.OrderPaid)
	require.True(t, ok)
	require.Equal(t, "order_2", paid.OrderID())
	require.EqualValues(t, 1000, paid.AmountPaid)
	require.Equal(t, "pay_2", paid.Payment.ID)

	body = []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_9","payment_id":"pay_3","amount":700,"status":"processed"}},"payment":{"entity":{"id":"pay_3","order_id":"order_3","amount":700,"status":"refunded"}}}}`)
	ev, err = payment.ParseWebhookEvent(body)
	require.NoError(t, err)
	refund, ok := ev.(payment.RefundProcessed)
	require.True(t, ok)
	require.Equal(t, "rfnd_9", refund.Refund.ID)
	require.Equal(t, "order_3", refund.OrderID())

	ev, err = payment.ParseWebhookEvent([]byte(`{"event":"payment.authorized","payload":{}}`))
	require.NoError(t, err)
	require.Equal(t, "payment.authorized", ev.EventType())
	require.Empty(t, ev.OrderID())
}

func TestParseWebhookEventMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{"event":`,
		"no event":            `{"payload":{}}`,
		"captured no payment": `{"event":"payment.captured","payload":{}}`,
		"paid no order":       `{"event":"order.paid","payload":{"payment":{"entity":{"id":"p","order_id":"o"}}}}`,
		"refund no payment":   `{"event":"refund.processed","payload":{"refund":{"entity":{"id":"r"}}}}`,
		"bad payload":         `{"event":"payment.failed","payload":[1,2]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := payment.ParseWebhookEvent([]byte(body))
			require.ErrorIs(t, err, payment.ErrMalformedEvent)
		})
	}
}

func TestWebhookCapturedSettlesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)

	body := webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", order.OrderID, 50000, "captured"))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleWebhook(ctx, body, f.verifier.SignWebhook(body)))
	}
	bs, ps := f.state(t, b.ID)
	require.Equal(t, db.BookingStatusCONFIRMED, bs)
	require.Equal(t, db.PaymentStatusSUCCEEDED, ps)
	require.Equal(t, []string{events.TopicPaymentSucceeded, events.TopicBookingConfirmed}, f.events.Topics())
	p, err := f.store.GetPayment(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, "pay_1", p.ProviderPaymentID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)

	body := webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", order.OrderID, 50000, "captured"))
	sig := []byte(f.verifier.SignWebhook(body))
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, string(sig)), payment.ErrInvalidSignature)
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, ""), payment.ErrInvalidSignature)

	tampered := bytes.Replace(body, []byte("50000"), []byte("50001"), 1)
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, tampered, f.verifier.SignWebhook(body)), payment.ErrInvalidSignature)

	_, ps := f.state(t, b.ID)
	require.Equal(t, db.PaymentStatusPENDING, ps)
}

func TestWebhookAcknowledgesWhatItCannotUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)

	bodies := [][]byte{
		webhookBody(t, "payment.authorized", paymentEntity("pay_1", order.OrderID, 50000, "authorized")),
		webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", "order_unknown", 50000, "captured")),
		webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", order.OrderID, 49999, "captured")),
		[]byte(`{"event":"payment.captured","payload":{}}`),
	}
	for _, body := range bodies {
		require.NoError(t, f.svc.HandleWebhook(ctx, body, f.verifier.SignWebhook(body)))
	}
	bs, ps := f.state(t, b.ID)
	require.Equal(t, db.BookingStatusPENDING, bs)
	require.Equal(t, db.PaymentStatusPENDING, ps)
	require.Empty(t, f.events.Topics())
}

func TestWebhookRefundProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, order := settled(t, f, "500.00", 48*time.Hour)

	body := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_dash","payment_id":"pay_` + b.ID + `","amount":20000,"status":"processed"}},"payment":{"entity":{"id":"pay_` + b.ID + `","order_id":"` + order.OrderID + `","amount":50000,"status":"captured"}}}}`)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, f.verifier.SignWebhook(body)))

	bs, ps := f.state(t, b.ID)
	require.Equal(t, db.BookingStatusCANCELLED, bs)
	require.Equal(t, db.PaymentStatusREFUNDED, ps)
	p, err := f.store.GetPayment(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, "rfnd_dash", p.RefundReference)
	require.True(t, p.RefundedAmount.Valid)
	require.Equal(t, "200", p.RefundedAmount.Decimal.String())
}

func TestWebhookFailureAfterSuccessIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, order := settled(t, f, "500.00", 48*time.Hour)

	body := webhookBody(t, payment.EventPaymentFailed, paymentEntity("pay_retry", order.OrderID, 50000, "failed"))
	require.NoError(t, f.svc.HandleWebhook(ctx, body, f.verifier.SignWebhook(body)))
	bs, ps := f.state(t, b.ID)
	require.Equal(t, db.BookingStatusCONFIRMED, bs)
	require.Equal(t, db.PaymentStatusSUCCEEDED, ps)
}

// failingLookupStore fails order lookups so webhook processing errors out.
type failingLookupStore struct {
	*db.MemoryStore
	fail bool
}

func (s *failingLookupStore) GetPaymentByProviderReference(ctx context.Context, ref string) (db.Payment, error) {
	if s.fail {
		return db.Payment{}, errors.New("connection reset")
	}
	return s.MemoryStore.GetPaymentByProviderReference(ctx, ref)
}

func newReplayGuard(t *testing.T) (payment.RedisReplayGuard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return payment.RedisReplayGuard{R: client, TTL: time.Hour, InFlightTTL: time.Minute, Prefix: "replay:"}, mr
}

func TestRedisReplayGuard(t *testing.T) {
	guard, mr := newReplayGuard(t)
	ctx := context.Background()

	state, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, payment.ReplayFresh, state)
	require.Equal(t, time.Minute, mr.TTL("replay:k"))
	state, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, payment.ReplayInFlight, state)

	require.NoError(t, guard.Release(ctx, "k"))
	state, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, payment.ReplayFresh, state)

	require.NoError(t, guard.Complete(ctx, "k"))
	require.Equal(t, time.Hour, mr.TTL("replay:k"))
	state, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, payment.ReplayDone, state)
}

func TestWebhookWhileSameBodyInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard, mr := newReplayGuard(t)
	f.svc.Replay = guard
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)
	body := webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", order.OrderID, 50000, "captured"))
	sig := f.verifier.SignWebhook(body)

	// another delivery of the same body holds the key
	key := "webhook:" + common.Sha256HexBytes(body)
	state, err := guard.Claim(ctx, key)
	require.NoError(t, err)
	require.Equal(t, payment.ReplayFresh, state)

	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, sig), payment.ErrWebhookInFlight)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(payment.SignatureHeader, sig)
	payment.WebhookHandler{Svc: f.svc}.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	_, ps := f.state(t, b.ID)
	require.Equal(t, db.PaymentStatusPENDING, ps)

	// the holder failed and let go; the redelivery settles the payment
	require.NoError(t, guard.Release(ctx, key))
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))
	_, ps = f.state(t, b.ID)
	require.Equal(t, db.PaymentStatusSUCCEEDED, ps)
	v, err := mr.Get("replay:" + key)
	require.NoError(t, err)
	require.Equal(t, "done", v)
}

func TestWebhookRefundForUnsettledPaymentIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)

	body := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_x","payment_id":"pay_x","amount":50000,"status":"processed"}},"payment":{"entity":{"id":"pay_x","order_id":"` + order.OrderID + `","amount":50000,"status":"refunded"}}}}`)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, f.verifier.SignWebhook(body)))
	bs, ps := f.state(t, b.ID)
	require.Equal(t, db.BookingStatusPENDING, bs)
	require.Equal(t, db.PaymentStatusPENDING, ps)
}

func TestWebhookReplayReleasedOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &failingLookupStore{MemoryStore: f.store}
	f.svc.Store = store
	guard, mr := newReplayGuard(t)
	f.svc.Replay = guard

	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)
	body := webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", order.OrderID, 50000, "captured"))
	sig := f.verifier.SignWebhook(body)

	store.fail = true
	require.Error(t, f.svc.HandleWebhook(ctx, body, sig))
	require.Empty(t, mr.Keys(), "a failed delivery must be retryable")

	store.fail = false
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))
	require.Len(t, mr.Keys(), 1)
	_, ps := f.state(t, b.ID)
	require.Equal(t, db.PaymentStatusSUCCEEDED, ps)

	// a replay is acknowledged before reaching the store
	store.fail = true
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))
}

func TestWebhookHandlerStatusCodes(t *testing.T) {
	f := newFixture(t)
	store := &failingLookupStore{MemoryStore: f.store}
	f.svc.Store = store
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(context.Background(), b.ID, ownerID)
	require.NoError(t, err)
	h := payment.WebhookHandler{Svc: f.svc, MaxBody: 4096}

	send := func(body []byte, sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set(payment.SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	body := webhookBody(t, payment.EventPaymentCaptured, paymentEntity("pay_1", order.OrderID, 50000, "captured"))
	require.Equal(t, http.StatusBadRequest, send(body, ""))
	require.Equal(t, http.StatusBadRequest, send(body, strings.Repeat("0", 64)))

	store.fail = true
	require.Equal(t, http.StatusInternalServerError, send(body, f.verifier.SignWebhook(body)))
	store.fail = false
	require.Equal(t, http.StatusOK, send(body, f.verifier.SignWebhook(body)))
	require.Equal(t, http.StatusOK, send(body, f.verifier.SignWebhook(body)), "duplicates are acknowledged")

	big := []byte(`{"event":"x","payload":"` + strings.Repeat("a", 5000) + `"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, send(big, f.verifier.SignWebhook(big)))
}
