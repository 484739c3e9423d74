package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-booking/internal/db"
)

// ReconcileOutcome describes what a reconciliation run concluded.
type ReconcileOutcome string

const (
	// OutcomeSettled: the payment was already out of PENDING.
	OutcomeSettled   ReconcileOutcome = "settled"
	OutcomeSucceeded ReconcileOutcome = "succeeded"
	OutcomeFailed    ReconcileOutcome = "failed"
	// OutcomePending: the provider has not decided yet.
	OutcomePending        ReconcileOutcome = "pending"
	OutcomeAmountMismatch ReconcileOutcome = "amount_mismatch"
)

// Reconcile asks the provider about a PENDING payment for which neither a
// confirmation nor a webhook arrived. A captured attempt settles it; an order
// past its TTL with no live attempt fails it.
func (s *Service) Reconcile(ctx context.Context, paymentID string) (outcome ReconcileOutcome, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.Reconcile", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer func() {
		span.SetAttributes(attribute.String("reconcile.outcome", string(outcome)))
		endSpan(span, err)
	}()

	sctx, cancel := s.storeCtx(ctx)
	payment, err := s.Store.GetPayment(sctx, paymentID)
	cancel()
	if err != nil {
		if db.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load payment: %w", err)
	}
	if payment.Status != db.PaymentStatusPENDING {
		return OutcomeSettled, nil
	}

	remotes, err := s.Gateway.FetchOrderPayments(ctx, payment.ProviderReference)
	if err != nil {
		return "", providerFailure(err)
	}
	live := false
	for _, rp := range remotes {
		switch {
		case rp.Captured():
			if checkAmount(payment, rp.AmountMinor) != nil {
				s.log(ctx).Warn().Str("payment_id", payment.ID).Str("remote_payment_id", rp.ID).Int64("remote_amount_minor", rp.AmountMinor).Msg("captured amount differs from payment")
				return OutcomeAmountMismatch, nil
			}
			out, err := s.transition(ctx, payment, db.TransitionParams{
				To:                db.PaymentStatusSUCCEEDED,
				BookingFrom:       db.BookingStatusPENDING,
				BookingTo:         db.BookingStatusCONFIRMED,
				Source:            "reconcile",
				ProviderPaymentID: rp.ID,
				Payload:           toJSON(map[string]any{"paymentId": rp.ID, "status": rp.Status}),
			})
			if err != nil {
				return "", err
			}
			return outcomeOf(out, OutcomeSucceeded), nil
		case rp.Status == RemoteStatusCreated || rp.Status == RemoteStatusAuthorized:
			live = true
		}
	}

	if live || s.clock().Sub(payment.CreatedAt) < s.orderTTL() {
		return OutcomePending, nil
	}
	out, err := s.transition(ctx, payment, db.TransitionParams{
		To:          db.PaymentStatusFAILED,
		BookingFrom: db.BookingStatusPENDING,
		BookingTo:   db.BookingStatusCANCELLED,
		Source:      "reconcile",
		Payload:     toJSON(map[string]any{"reason": "order expired without capture", "attempts": len(remotes)}),
	})
	if err != nil {
		return "", err
	}
	return outcomeOf(out, OutcomeFailed), nil
}

// SweepStale schedules reconciliation for up to limit payments that have been
// PENDING for longer than olderThan and returns how many were scheduled.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if s.Scheduler == nil {
		return 0, errors.New("payment: reconcile scheduler not configured")
	}
	sctx, cancel := s.storeCtx(ctx)
	pending, err := s.Store.ListPendingPaymentsBefore(sctx, s.clock().Add(-olderThan), limit)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}
	scheduled := 0
	for _, p := range pending {
		if err := s.Scheduler.ScheduleReconcile(ctx, p.ID, 0); err != nil {
			s.log(ctx).Warn().Err(err).Str("payment_id", p.ID).Msg("schedule reconcile")
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

func (s *Service) orderTTL() time.Duration {
	if s.Config.OrderTTL > 0 {
		return s.Config.OrderTTL
	}
	return time.Hour
}

func outcomeOf(out db.TransitionResult, applied ReconcileOutcome) ReconcileOutcome {
	if out.Applied {
		return applied
	}
	return OutcomeSettled
}

// Task types handled by the worker.
const (
	TaskReconcilePayment = "payment:reconcile"
	TaskSweepStale       = "payment:sweep"
)

type reconcilePayload struct {
	PaymentID string `json:"paymentId"`
}

// AsynqScheduler enqueues reconcile tasks. The task id is derived from the
// payment id so a payment has at most one queued reconciliation.
type AsynqScheduler struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
}

func (a AsynqScheduler) ScheduleReconcile(ctx context.Context, paymentID string, delay time.Duration) error {
	task, opts, err := NewReconcileTask(paymentID, delay)
	if err != nil {
		return err
	}
	if a.Queue != "" {
		opts = append(opts, asynq.Queue(a.Queue))
	}
	if a.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(a.MaxRetry))
	}
	_, err = a.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// NewReconcileTask builds the task and options for reconciling paymentID.
func NewReconcileTask(paymentID string, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	if paymentID == "" {
		return nil, nil, errors.New("payment: reconcile task needs a payment id")
	}
	payload, err := json.Marshal(reconcilePayload{PaymentID: paymentID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.TaskID(TaskReconcilePayment + ":" + paymentID), asynq.Timeout(30 * time.Second)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return asynq.NewTask(TaskReconcilePayment, payload), opts, nil
}

// NewSweepTask builds the periodic stale-payment sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSweepStale, nil)
}

// Jobs adapts the engine to asynq handlers.
type Jobs struct {
	Svc        *Service
	SweepAfter time.Duration
	SweepLimit int
	Logger     zerolog.Logger
}

// Register mounts the job handlers on mux.
func (j Jobs) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskReconcilePayment, j.HandleReconcile)
	mux.HandleFunc(TaskSweepStale, j.HandleSweep)
}

// HandleReconcile reconciles one payment. Provider outages return an error
// so asynq retries with backoff; a still-pending payment is left to the sweep.
func (j Jobs) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p reconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.PaymentID == "" {
		return fmt.Errorf("reconcile payload without payment id: %w", asynq.SkipRetry)
	}
	outcome, err := j.Svc.Reconcile(ctx, p.PaymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("payment %s: %v: %w", p.PaymentID, err, asynq.SkipRetry)
		}
		return err
	}
	j.Logger.Info().Str("payment_id", p.PaymentID).Str("outcome", string(outcome)).Msg("payment reconciled")
	return nil
}

// HandleSweep schedules reconciliation for stale pending payments.
func (j Jobs) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	after := j.SweepAfter
	if after <= 0 {
		after = 15 * time.Minute
	}
	n, err := j.Svc.SweepStale(ctx, after, j.SweepLimit)
	if err != nil {
		return err
	}
	if n > 0 {
		j.Logger.Info().Int("scheduled", n).Msg("stale payments swept")
	}
	return nil
}
