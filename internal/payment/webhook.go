package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/money"
	"github.com/noah-isme/backend-booking/internal/obs"
)

// HandleWebhook verifies and applies a provider webhook. It returns
// ErrInvalidSignature for unsigned bodies and an error only when the event
// could not be durably processed; unknown, malformed, unmatched and duplicate
// events are acknowledged with a nil error so the provider stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.HandleWebhook")
	eventType, result := "unknown", "error"
	defer func() {
		span.SetAttributes(attribute.String("webhook.event", eventType), attribute.String("webhook.result", result))
		endSpan(span, err)
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(eventType, result).Inc()
		}
	}()

	if !s.Verifier.VerifyWebhook(body, signature) {
		result = "invalid_signature"
		return ErrInvalidSignature
	}

	replayKey := "webhook:" + common.Sha256HexBytes(body)
	claimed := false
	if s.Replay != nil {
		state, claimErr := s.Replay.Claim(ctx, replayKey)
		switch {
		case claimErr != nil:
			s.log(ctx).Warn().Err(claimErr).Msg("webhook replay guard unavailable")
		case state == ReplayDone:
			result = "replay"
			return nil
		case state == ReplayInFlight:
			// not acknowledged: the first delivery may still fail
			result = "in_flight"
			return ErrWebhookInFlight
		default:
			claimed = true
		}
	}
	defer func() {
		if !claimed {
			return
		}
		gctx := context.WithoutCancel(ctx)
		if err != nil {
			if relErr := s.Replay.Release(gctx, replayKey); relErr != nil {
				s.log(ctx).Warn().Err(relErr).Msg("release webhook replay key")
			}
			return
		}
		if doneErr := s.Replay.Complete(gctx, replayKey); doneErr != nil {
			s.log(ctx).Warn().Err(doneErr).Msg("complete webhook replay key")
		}
	}()

	ev, parseErr := ParseWebhookEvent(body)
	if parseErr != nil {
		result = "malformed"
		s.log(ctx).Warn().Err(parseErr).Msg("ignoring malformed webhook")
		return nil
	}
	eventType = ev.EventType()

	switch e := ev.(type) {
	case PaymentCaptured:
		result, err = s.webhookSuccess(ctx, e.Payment.OrderID, e.Payment.ID, e.Payment.AmountMinor, eventType)
	case OrderPaid:
		result, err = s.webhookSuccess(ctx, e.Order.ID, e.Payment.ID, e.AmountPaid, eventType)
	case PaymentFailed:
		result, err = s.webhookFailure(ctx, e)
	case RefundProcessed:
		result, err = s.webhookRefund(ctx, e)
	case UnknownEvent:
		eventType = "unknown"
		result = "ignored"
		s.log(ctx).Info().Str("event", e.Type).Msg("ignoring unhandled webhook event")
	}
	return err
}

// paymentForOrder resolves the payment an event refers to. A non-empty result
// label means the event needs no further work.
func (s *Service) paymentForOrder(ctx context.Context, orderID, event string) (db.Payment, string, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	payment, err := s.Store.GetPaymentByProviderReference(sctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			s.log(ctx).Info().Str("event", event).Str("order_id", orderID).Msg("webhook for unknown order")
			return db.Payment{}, "unmatched", nil
		}
		return db.Payment{}, "error", fmt.Errorf("load payment by order %s: %w", orderID, err)
	}
	return payment, "", nil
}

func (s *Service) webhookSuccess(ctx context.Context, orderID, remotePaymentID string, amountMinor int64, event string) (string, error) {
	payment, result, err := s.paymentForOrder(ctx, orderID, event)
	if result != "" {
		return result, err
	}
	if payment.Status != db.PaymentStatusPENDING {
		return "duplicate", nil
	}
	if err := checkAmount(payment, amountMinor); err != nil {
		if errors.Is(err, ErrAmountMismatch) {
			s.log(ctx).Warn().Str("payment_id", payment.ID).Int64("remote_amount_minor", amountMinor).Str("expected", payment.Amount.String()).Msg("webhook amount mismatch, not settling")
			return "amount_mismatch", nil
		}
		return "error", err
	}
	out, err := s.transition(ctx, payment, db.TransitionParams{
		To:                db.PaymentStatusSUCCEEDED,
		BookingFrom:       db.BookingStatusPENDING,
		BookingTo:         db.BookingStatusCONFIRMED,
		Source:            "webhook:" + event,
		ProviderPaymentID: remotePaymentID,
		Payload:           toJSON(map[string]any{"event": event, "paymentId": remotePaymentID, "amountMinor": amountMinor}),
	})
	return appliedLabel(out, err)
}

func (s *Service) webhookFailure(ctx context.Context, e PaymentFailed) (string, error) {
	payment, result, err := s.paymentForOrder(ctx, e.Payment.OrderID, EventPaymentFailed)
	if result != "" {
		return result, err
	}
	if payment.Status != db.PaymentStatusPENDING {
		return "duplicate", nil
	}
	out, err := s.transition(ctx, payment, db.TransitionParams{
		To:                db.PaymentStatusFAILED,
		BookingFrom:       db.BookingStatusPENDING,
		BookingTo:         db.BookingStatusCANCELLED,
		Source:            "webhook:" + EventPaymentFailed,
		ProviderPaymentID: e.Payment.ID,
		Payload:           toJSON(map[string]any{"event": EventPaymentFailed, "paymentId": e.Payment.ID, "reason": e.Payment.ErrorReason}),
	})
	return appliedLabel(out, err)
}

// webhookRefund records refunds issued outside InitiateRefund, such as from
// the provider dashboard. An already REFUNDED payment is left untouched.
func (s *Service) webhookRefund(ctx context.Context, e RefundProcessed) (string, error) {
	payment, result, err := s.paymentForOrder(ctx, e.Payment.OrderID, EventRefundProcessed)
	if result != "" {
		return result, err
	}
	switch {
	case payment.Status.Terminal():
		return "duplicate", nil
	case payment.Status != db.PaymentStatusSUCCEEDED:
		s.log(ctx).Warn().Str("payment_id", payment.ID).Str("status", string(payment.Status)).Str("refund_id", e.Refund.ID).Msg("refund for unsettled payment, needs manual review")
		return "ignored", nil
	}
	amount := payment.Amount
	if e.Refund.AmountMinor > 0 {
		amount = money.ToMajorUnits(e.Refund.AmountMinor)
	}
	out, err := s.transition(ctx, payment, db.TransitionParams{
		To:                db.PaymentStatusREFUNDED,
		BookingFrom:       db.BookingStatusCONFIRMED,
		BookingTo:         db.BookingStatusCANCELLED,
		Source:            "webhook:" + EventRefundProcessed,
		ProviderPaymentID: e.Payment.ID,
		RefundReference:   e.Refund.ID,
		RefundedAmount:    decimal.NewNullDecimal(amount),
		Payload:           toJSON(map[string]any{"event": EventRefundProcessed, "refundId": e.Refund.ID, "amountMinor": e.Refund.AmountMinor}),
	})
	return appliedLabel(out, err)
}

func appliedLabel(out db.TransitionResult, err error) (string, error) {
	switch {
	case err != nil:
		return "error", err
	case out.Applied:
		return "applied", nil
	default:
		return "duplicate", nil
	}
}

// ReplayState is what a ReplayGuard knows about a webhook body.
type ReplayState int

const (
	// ReplayFresh means the caller now holds the key.
	ReplayFresh ReplayState = iota
	// ReplayInFlight means another delivery of the body is being processed.
	ReplayInFlight
	// ReplayDone means the body was processed before.
	ReplayDone
)

const (
	replayProcessing = "processing"
	replayDone       = "done"
)

// RedisReplayGuard tracks webhook bodies in Redis so redeliveries of an
// already processed body are acknowledged without touching the store. A held
// key expires after InFlightTTL in case its holder dies; a completed key
// lives for TTL.
type RedisReplayGuard struct {
	R           redis.Cmdable
	TTL         time.Duration
	InFlightTTL time.Duration
	Prefix      string
}

func (g RedisReplayGuard) Claim(ctx context.Context, key string) (ReplayState, error) {
	inFlight := g.InFlightTTL
	if inFlight <= 0 {
		inFlight = time.Minute
	}
	ok, err := g.R.SetNX(ctx, g.Prefix+key, replayProcessing, inFlight).Result()
	if err != nil {
		return ReplayFresh, err
	}
	if ok {
		return ReplayFresh, nil
	}
	val, err := g.R.Get(ctx, g.Prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the two calls; let the provider retry
		return ReplayInFlight, nil
	case err != nil:
		return ReplayFresh, err
	case val == replayDone:
		return ReplayDone, nil
	default:
		return ReplayInFlight, nil
	}
}

func (g RedisReplayGuard) Complete(ctx context.Context, key string) error {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return g.R.Set(ctx, g.Prefix+key, replayDone, ttl).Err()
}

func (g RedisReplayGuard) Release(ctx context.Context, key string) error {
	return g.R.Del(ctx, g.Prefix+key).Err()
}

// WebhookHandler is the provider-facing endpoint. It answers with a bare
// status code: 400 for a bad signature, 409 while the same body is still being
// processed, 500 when processing must be retried and 200 otherwise.
type WebhookHandler struct {
	Svc     *Service
	MaxBody int64
}

func (h WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	err = h.Svc.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrInvalidSignature):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, ErrWebhookInFlight):
		w.WriteHeader(http.StatusConflict)
	default:
		h.Svc.log(r.Context()).Error().Err(err).Msg("webhook processing failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// SignatureHeader carries the hex HMAC of the webhook body.
const SignatureHeader = "X-Signature"
