package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/lock"
	"github.com/noah-isme/backend-booking/internal/money"
	"github.com/noah-isme/backend-booking/internal/obs"
)

// Store is the persistence the engine needs. *db.Store and *db.MemoryStore
// both satisfy it.
type Store interface {
	GetBooking(ctx context.Context, id string) (db.Booking, error)
	GetPayment(ctx context.Context, id string) (db.Payment, error)
	GetActivePaymentByBooking(ctx context.Context, bookingID string) (db.Payment, error)
	GetLatestPaymentByBooking(ctx context.Context, bookingID string) (db.Payment, error)
	GetPaymentByProviderReference(ctx context.Context, ref string) (db.Payment, error)
	ListPendingPaymentsBefore(ctx context.Context, cutoff time.Time, limit int) ([]db.Payment, error)
	CreatePayment(ctx context.Context, arg db.CreatePaymentParams) (db.Payment, error)
	TransitionPayment(ctx context.Context, arg db.TransitionParams) (db.TransitionResult, error)
}

// Locker serialises order creation per booking and refunds per payment.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Scheduler queues a delayed reconciliation of a pending payment.
type Scheduler interface {
	ScheduleReconcile(ctx context.Context, paymentID string, delay time.Duration) error
}

// EventEmitter publishes domain events after committed transitions.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// ReplayGuard tracks webhook bodies across deliveries. A key is held while a
// delivery is processed and marked complete once its outcome is durable.
type ReplayGuard interface {
	Claim(ctx context.Context, key string) (ReplayState, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Config holds the engine's tunables.
type Config struct {
	Provider      string
	Currency      string
	ReceiptPrefix string
	StoreTimeout  time.Duration
	LockTTL       time.Duration
	// EventTimeout bounds domain event publishing after a commit.
	EventTimeout time.Duration
	// ReconcileDelay is how long after order creation the first
	// reconciliation job runs.
	ReconcileDelay time.Duration
	// OrderTTL is how long an unpaid order may stay pending before
	// reconciliation gives up on it.
	OrderTTL time.Duration
}

// Service is the payment reconciliation engine. It creates provider orders,
// settles them from client confirmations, webhooks and reconciliation jobs,
// and issues refunds. Every write goes through Store.TransitionPayment, so
// racing signals for the same payment apply exactly once.
type Service struct {
	Store     Store
	Gateway   Gateway
	Verifier  *Verifier
	Locker    Locker
	Scheduler Scheduler
	Events    EventEmitter
	Replay    ReplayGuard
	Logger    zerolog.Logger
	Config    Config

	now func() time.Time
}

// OrderResult is returned by CreateOrder.
type OrderResult struct {
	PaymentID   string
	OrderID     string
	AmountMinor int64
	Currency    string
	Receipt     string
}

// ConfirmRequest is a client's claim that it paid an order.
type ConfirmRequest struct {
	RemoteOrderID   string
	RemotePaymentID string
	Signature       string
	BookingID       string
	UserID          string
}

// ConfirmResult reports the statuses after a confirmation.
type ConfirmResult struct {
	BookingStatus db.BookingStatus
	PaymentStatus db.PaymentStatus
}

// RefundRequest asks for a refund of a succeeded payment. A nil Amount
// refunds the full payment.
type RefundRequest struct {
	PaymentID string
	UserID    string
	Reason    string
	Amount    *decimal.Decimal
}

// RefundResult is returned by InitiateRefund.
type RefundResult struct {
	RefundID string
	Amount   decimal.Decimal
	Status   db.PaymentStatus
}

// StatusResult is the owner's view of a booking's payment.
type StatusResult struct {
	BookingID     string
	BookingStatus db.BookingStatus
	PaymentID     string
	PaymentStatus db.PaymentStatus
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
}

var tracer = otel.Tracer("payment.Service")

// CreateOrder opens a provider order for a PENDING booking owned by userID
// and records a PENDING payment for it.
func (s *Service) CreateOrder(ctx context.Context, bookingID, userID string) (res OrderResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.CreateOrder", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer func() {
		endSpan(span, err)
		if obs.PaymentOrderTotal != nil {
			obs.PaymentOrderTotal.WithLabelValues(s.providerLabel(), resultLabel(err)).Inc()
		}
	}()

	bookingID, userID = strings.TrimSpace(bookingID), strings.TrimSpace(userID)
	if bookingID == "" || userID == "" {
		return OrderResult{}, ErrBookingNotEligible
	}
	if s.Locker == nil {
		return s.createOrder(ctx, bookingID, userID)
	}

	ran := false
	lockErr := s.Locker.WithLock(ctx, "booking:"+bookingID, s.lockTTL(), func(ctx context.Context) error {
		ran = true
		res, err = s.createOrder(ctx, bookingID, userID)
		return err
	})
	switch {
	case ran:
		return res, err
	case errors.Is(lockErr, lock.ErrNotAcquired):
		return OrderResult{}, ErrPaymentAlreadyExists.WithMessage("payment creation already in progress for this booking")
	case ctx.Err() != nil:
		return OrderResult{}, ctx.Err()
	default:
		// The lock only saves a duplicate remote order; the unique index
		// still guarantees a single payment row.
		s.log(ctx).Warn().Err(lockErr).Str("booking_id", bookingID).Msg("booking lock unavailable, continuing without it")
		return s.createOrder(ctx, bookingID, userID)
	}
}

func (s *Service) createOrder(ctx context.Context, bookingID, userID string) (OrderResult, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return OrderResult{}, ErrBookingNotEligible
		}
		return OrderResult{}, err
	}
	if booking.UserID != userID || booking.Status != db.BookingStatusPENDING {
		return OrderResult{}, ErrBookingNotEligible
	}

	sctx, cancel := s.storeCtx(ctx)
	_, err = s.Store.GetActivePaymentByBooking(sctx, bookingID)
	cancel()
	switch {
	case err == nil:
		return OrderResult{}, ErrPaymentAlreadyExists
	case !db.IsNotFound(err):
		return OrderResult{}, fmt.Errorf("load active payment: %w", err)
	}

	amountMinor, err := money.ToMinorUnits(booking.Price)
	if err != nil {
		return OrderResult{}, err
	}
	if amountMinor == 0 {
		return OrderResult{}, ErrInvalidAmount.WithMessage("booking has no payable amount")
	}
	currency := s.currency()
	receipt := money.NewIdempotencyReceipt(s.Config.ReceiptPrefix)

	remote, err := s.Gateway.CreateOrder(ctx, OrderRequest{
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		Notes: map[string]string{
			"booking_id": booking.ID,
			"user_id":    booking.UserID,
			"court_id":   booking.CourtID,
		},
	})
	if err != nil {
		return OrderResult{}, providerFailure(err)
	}
	if strings.TrimSpace(remote.ID) == "" {
		return OrderResult{}, ErrProviderUnavailable.Wrap(errors.New("provider returned an order without id"))
	}

	sctx, cancel = s.storeCtx(ctx)
	defer cancel()
	payment, err := s.Store.CreatePayment(sctx, db.CreatePaymentParams{
		BookingID:         booking.ID,
		Amount:            money.ToMajorUnits(amountMinor),
		Currency:          currency,
		Provider:          s.providerLabel(),
		ProviderReference: remote.ID,
		Receipt:           receipt,
		Payload:           toJSON(map[string]any{"receipt": receipt, "orderId": remote.ID, "amountMinor": amountMinor}),
	})
	if err != nil {
		// The remote order stays unpaid and expires on the provider side.
		s.log(ctx).Warn().Err(err).Str("booking_id", booking.ID).Str("order_id", remote.ID).Msg("remote order created but payment not recorded")
		if errors.Is(err, db.ErrDuplicatePayment) {
			return OrderResult{}, ErrPaymentAlreadyExists
		}
		return OrderResult{}, fmt.Errorf("persist payment: %w", err)
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.ScheduleReconcile(ctx, payment.ID, s.Config.ReconcileDelay); err != nil {
			s.log(ctx).Warn().Err(err).Str("payment_id", payment.ID).Msg("schedule reconcile")
		}
	}
	s.log(ctx).Info().Str("booking_id", booking.ID).Str("payment_id", payment.ID).Str("order_id", remote.ID).Int64("amount_minor", amountMinor).Msg("payment order created")
	return OrderResult{
		PaymentID:   payment.ID,
		OrderID:     remote.ID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
	}, nil
}

// ConfirmPayment settles a payment from the client's signed confirmation.
// The outcome is taken from the provider, never from the client. A payment
// that is no longer PENDING is returned as-is.
func (s *Service) ConfirmPayment(ctx context.Context, req ConfirmRequest) (res ConfirmResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.ConfirmPayment", trace.WithAttributes(
		attribute.String("booking.id", req.BookingID),
		attribute.String("payment.order_id", req.RemoteOrderID),
	))
	defer func() { endSpan(span, err) }()

	if !s.Verifier.VerifyConfirmation(req.RemoteOrderID, req.RemotePaymentID, req.Signature) {
		return ConfirmResult{}, ErrInvalidSignature
	}
	booking, err := s.getBooking(ctx, req.BookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return ConfirmResult{}, ErrNotFound
		}
		return ConfirmResult{}, err
	}
	if booking.UserID != strings.TrimSpace(req.UserID) {
		return ConfirmResult{}, ErrNotFound
	}
	sctx, cancel := s.storeCtx(ctx)
	payment, err := s.Store.GetLatestPaymentByBooking(sctx, booking.ID)
	cancel()
	if err != nil {
		if db.IsNotFound(err) {
			return ConfirmResult{}, ErrNotFound
		}
		return ConfirmResult{}, fmt.Errorf("load payment: %w", err)
	}
	if payment.ProviderReference != req.RemoteOrderID {
		return ConfirmResult{}, ErrOrderMismatch
	}
	if payment.Status != db.PaymentStatusPENDING {
		s.log(ctx).Debug().Str("payment_id", payment.ID).Str("status", string(payment.Status)).Msg("confirmation for settled payment")
		return ConfirmResult{BookingStatus: booking.Status, PaymentStatus: payment.Status}, nil
	}

	remote, err := s.Gateway.FetchPayment(ctx, req.RemotePaymentID)
	if err != nil {
		return ConfirmResult{}, providerFailure(err)
	}
	if remote.OrderID != payment.ProviderReference {
		return ConfirmResult{}, ErrOrderMismatch
	}
	if !remote.Captured() {
		return ConfirmResult{BookingStatus: booking.Status, PaymentStatus: payment.Status}, nil
	}
	if err := checkAmount(payment, remote.AmountMinor); err != nil {
		s.log(ctx).Warn().Str("payment_id", payment.ID).Int64("remote_amount_minor", remote.AmountMinor).Msg("confirmed amount differs from payment")
		return ConfirmResult{}, err
	}

	out, err := s.transition(ctx, payment, db.TransitionParams{
		To:                db.PaymentStatusSUCCEEDED,
		BookingFrom:       db.BookingStatusPENDING,
		BookingTo:         db.BookingStatusCONFIRMED,
		Source:            "verify",
		ProviderPaymentID: remote.ID,
		Payload:           toJSON(map[string]any{"paymentId": remote.ID, "status": remote.Status}),
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{BookingStatus: out.BookingStatus, PaymentStatus: out.Payment.Status}, nil
}

// InitiateRefund refunds a succeeded payment whose slot has not started yet.
// Local state changes only after the provider accepted the refund.
func (s *Service) InitiateRefund(ctx context.Context, req RefundRequest) (res RefundResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.InitiateRefund", trace.WithAttributes(attribute.String("payment.id", req.PaymentID)))
	defer func() {
		endSpan(span, err)
		if obs.PaymentRefundTotal != nil {
			obs.PaymentRefundTotal.WithLabelValues(resultLabel(err)).Inc()
		}
	}()

	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return RefundResult{}, ErrNotFound
	}
	if s.Locker == nil {
		return s.refund(ctx, paymentID, req)
	}

	ran := false
	lockErr := s.Locker.WithLock(ctx, "refund:"+paymentID, s.lockTTL(), func(ctx context.Context) error {
		ran = true
		res, err = s.refund(ctx, paymentID, req)
		return err
	})
	switch {
	case ran:
		return res, err
	case errors.Is(lockErr, lock.ErrNotAcquired):
		return RefundResult{}, ErrRefundInProgress
	case ctx.Err() != nil:
		return RefundResult{}, ctx.Err()
	default:
		// Unlike order creation nothing downstream stops a second provider
		// refund, so refunds wait for the lock to come back.
		s.log(ctx).Error().Err(lockErr).Str("payment_id", paymentID).Msg("refund lock unavailable")
		return RefundResult{}, fmt.Errorf("acquire refund lock: %w", lockErr)
	}
}

func (s *Service) refund(ctx context.Context, paymentID string, req RefundRequest) (RefundResult, error) {
	sctx, cancel := s.storeCtx(ctx)
	payment, err := s.Store.GetPayment(sctx, paymentID)
	cancel()
	if err != nil {
		if db.IsNotFound(err) {
			return RefundResult{}, ErrNotFound
		}
		return RefundResult{}, fmt.Errorf("load payment: %w", err)
	}
	booking, err := s.getBooking(ctx, payment.BookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return RefundResult{}, ErrNotFound
		}
		return RefundResult{}, err
	}
	if booking.UserID != strings.TrimSpace(req.UserID) || payment.Status != db.PaymentStatusSUCCEEDED {
		return RefundResult{}, ErrNotFound
	}
	if !booking.StartTime.After(s.clock()) {
		return RefundResult{}, ErrTooLateToRefund
	}
	if payment.ProviderPaymentID == "" {
		return RefundResult{}, ErrNoProviderReference
	}

	amount := payment.Amount
	var amountMinor *int64
	if req.Amount != nil {
		if !req.Amount.IsPositive() || req.Amount.GreaterThan(payment.Amount) {
			return RefundResult{}, ErrInvalidAmount.WithMessage("refund amount must be positive and at most the paid amount")
		}
		minor, err := money.ToMinorUnits(*req.Amount)
		if err != nil {
			return RefundResult{}, err
		}
		if minor == 0 {
			return RefundResult{}, ErrInvalidAmount.WithMessage("refund amount must be positive and at most the paid amount")
		}
		amountMinor = &minor
		amount = money.ToMajorUnits(minor)
	}

	refund, err := s.Gateway.CreateRefund(ctx, payment.ProviderPaymentID, amountMinor, map[string]string{
		"booking_id": booking.ID,
		"payment_id": payment.ID,
		"reason":     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		s.log(ctx).Warn().Err(err).Str("payment_id", payment.ID).Msg("provider refund failed")
		return RefundResult{}, ErrRefundProviderError.Wrap(err)
	}
	if refund.AmountMinor > 0 {
		amount = money.ToMajorUnits(refund.AmountMinor)
	}

	out, err := s.transition(ctx, payment, db.TransitionParams{
		To:              db.PaymentStatusREFUNDED,
		BookingFrom:     db.BookingStatusCONFIRMED,
		BookingTo:       db.BookingStatusCANCELLED,
		Source:          "refund",
		RefundReference: refund.ID,
		RefundedAmount:  decimal.NewNullDecimal(amount),
		Payload:         toJSON(map[string]any{"refundId": refund.ID, "reason": req.Reason, "amount": amount.StringFixed(money.MinorUnitExponent)}),
	})
	if err != nil {
		// The provider has already refunded; refund.processed will retry the write.
		s.log(ctx).Error().Err(err).Str("payment_id", payment.ID).Str("refund_id", refund.ID).Msg("refund issued but not recorded")
		return RefundResult{}, err
	}
	if !out.Applied && out.Payment.RefundReference != refund.ID {
		s.log(ctx).Error().Str("payment_id", payment.ID).Str("refund_id", refund.ID).Str("status", string(out.Payment.Status)).
			Str("recorded_refund_id", out.Payment.RefundReference).Msg("payment moved during refund, needs manual review")
		return RefundResult{}, ErrRefundConflict
	}
	return RefundResult{RefundID: refund.ID, Amount: amount, Status: out.Payment.Status}, nil
}

// PaymentStatus reports the booking's status and its latest payment to the
// booking owner.
func (s *Service) PaymentStatus(ctx context.Context, bookingID, userID string) (StatusResult, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return StatusResult{}, ErrNotFound
		}
		return StatusResult{}, err
	}
	if booking.UserID != strings.TrimSpace(userID) {
		return StatusResult{}, ErrNotFound
	}
	out := StatusResult{BookingID: booking.ID, BookingStatus: booking.Status}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	payment, err := s.Store.GetLatestPaymentByBooking(sctx, booking.ID)
	switch {
	case err == nil:
		out.PaymentID = payment.ID
		out.PaymentStatus = payment.Status
		out.OrderID = payment.ProviderReference
		out.Amount = payment.Amount
		out.Currency = payment.Currency
	case !db.IsNotFound(err):
		return StatusResult{}, fmt.Errorf("load payment: %w", err)
	}
	return out, nil
}

// transition applies a guarded move out of payment's current status and emits
// domain events when it took effect. A guard miss is a successful no-op.
func (s *Service) transition(ctx context.Context, payment db.Payment, arg db.TransitionParams) (db.TransitionResult, error) {
	arg.PaymentID = payment.ID
	if arg.From == "" {
		arg.From = payment.Status
	}
	if arg.From.Terminal() {
		return db.TransitionResult{}, fmt.Errorf("transition payment %s: %s is terminal", payment.ID, arg.From)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := s.Store.TransitionPayment(sctx, arg)
	if err != nil {
		return db.TransitionResult{}, fmt.Errorf("transition payment %s: %w", payment.ID, err)
	}
	if obs.PaymentTransitionTotal != nil {
		obs.PaymentTransitionTotal.WithLabelValues(arg.Source, string(arg.To), fmt.Sprint(out.Applied)).Inc()
	}
	logger := s.log(ctx)
	if !out.Applied {
		logger.Debug().Str("payment_id", payment.ID).Str("source", arg.Source).Str("want", string(arg.To)).Str("status", string(out.Payment.Status)).Msg("transition already applied")
		return out, nil
	}
	logger.Info().Str("payment_id", payment.ID).Str("source", arg.Source).Str("from", string(arg.From)).Str("to", string(arg.To)).Str("booking_status", string(out.BookingStatus)).Msg("payment transitioned")
	if arg.BookingTo != "" && !out.BookingApplied {
		logger.Warn().Str("payment_id", payment.ID).Str("booking_id", payment.BookingID).Str("booking_status", string(out.BookingStatus)).Str("expected", string(arg.BookingFrom)).Msg("booking moved concurrently, needs manual review")
	}
	s.emit(ctx, out, arg)
	return out, nil
}

func (s *Service) emit(ctx context.Context, out db.TransitionResult, arg db.TransitionParams) {
	if s.Events == nil {
		return
	}
	p := out.Payment
	payload := map[string]any{
		"paymentId":     p.ID,
		"bookingId":     p.BookingID,
		"orderId":       p.ProviderReference,
		"amount":        p.Amount.StringFixed(money.MinorUnitExponent),
		"currency":      p.Currency,
		"status":        string(p.Status),
		"bookingStatus": string(out.BookingStatus),
		"source":        arg.Source,
	}
	var topics []string
	switch arg.To {
	case db.PaymentStatusSUCCEEDED:
		topics = append(topics, events.TopicPaymentSucceeded)
	case db.PaymentStatusFAILED:
		topics = append(topics, events.TopicPaymentFailed)
	case db.PaymentStatusREFUNDED:
		topics = append(topics, events.TopicPaymentRefunded)
	}
	if out.BookingApplied {
		switch arg.BookingTo {
		case db.BookingStatusCONFIRMED:
			topics = append(topics, events.TopicBookingConfirmed)
		case db.BookingStatusCANCELLED:
			topics = append(topics, events.TopicBookingCancelled)
		}
	}
	// The transition has committed: publish on a bounded context that
	// outlives the request.
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventTimeout())
	defer cancel()
	for _, topic := range topics {
		aggregate := p.ID
		if strings.HasPrefix(topic, "booking.") {
			aggregate = p.BookingID
		}
		if _, err := s.Events.Emit(ectx, topic, aggregate, payload); err != nil {
			s.log(ctx).Warn().Err(err).Str("topic", topic).Str("payment_id", p.ID).Msg("emit domain event")
		}
	}
}

func (s *Service) getBooking(ctx context.Context, id string) (db.Booking, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	b, err := s.Store.GetBooking(sctx, strings.TrimSpace(id))
	if err != nil && !db.IsNotFound(err) {
		return db.Booking{}, fmt.Errorf("load booking: %w", err)
	}
	return b, err
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Config.StoreTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) eventTimeout() time.Duration {
	if s.Config.EventTimeout > 0 {
		return s.Config.EventTimeout
	}
	return 2 * time.Second
}

func (s *Service) lockTTL() time.Duration {
	if s.Config.LockTTL > 0 {
		return s.Config.LockTTL
	}
	return 30 * time.Second
}

func (s *Service) currency() string {
	if c := strings.ToUpper(strings.TrimSpace(s.Config.Currency)); c != "" {
		return c
	}
	return "INR"
}

func (s *Service) providerLabel() string {
	if p := strings.ToLower(strings.TrimSpace(s.Config.Provider)); p != "" {
		return p
	}
	return "razorpay"
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// log prefers the request-scoped logger so lines carry request and trace ids.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func checkAmount(payment db.Payment, remoteMinor int64) error {
	expected, err := money.ToMinorUnits(payment.Amount)
	if err != nil {
		return err
	}
	if remoteMinor != expected {
		return ErrAmountMismatch
	}
	return nil
}

// providerFailure maps gateway errors onto the engine taxonomy. Outages and
// rejections both surface as PROVIDER_UNAVAILABLE with the cause attached.
func providerFailure(err error) error {
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	if IsProviderRejection(err) {
		return ErrProviderUnavailable.WithMessage("payment provider rejected the request").Wrap(err)
	}
	return ErrProviderUnavailable.Wrap(err)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func toJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
