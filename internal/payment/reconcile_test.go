package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/payment"
)

type recordingScheduler struct {
	mu     sync.Mutex
	ids    []string
	delays []time.Duration
}

func (r *recordingScheduler) ScheduleReconcile(_ context.Context, paymentID string, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, paymentID)
	r.delays = append(r.delays, delay)
	return nil
}

func TestCreateOrderSchedulesReconcile(t *testing.T) {
	f := newFixture(t)
	sched := &recordingScheduler{}
	f.svc.Scheduler = sched
	f.svc.Config.ReconcileDelay = 10 * time.Minute
	b := f.booking("500.00", 24*time.Hour)

	order, err := f.svc.CreateOrder(context.Background(), b.ID, ownerID)
	require.NoError(t, err)
	require.Equal(t, []string{order.PaymentID}, sched.ids)
	require.Equal(t, []time.Duration{10 * time.Minute}, sched.delays)
}

func TestReconcileCapturedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)
	f.gw.capture("pay_failed", order.OrderID, 50000, payment.RemoteStatusFailed)
	f.gw.capture("pay_ok", order.OrderID, 50000, payment.RemoteStatusCaptured)

	outcome, err := f.svc.Reconcile(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeSucceeded, outcome)
	bs, ps := f.state(t, b.ID)
	require.Equal(t, db.BookingStatusCONFIRMED, bs)
	require.Equal(t, db.PaymentStatusSUCCEEDED, ps)

	outcome, err = f.svc.Reconcile(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeSettled, outcome)
}

func TestReconcilePendingAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)

	outcome, err := f.svc.Reconcile(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomePending, outcome, "young orders are given time")

	f.store.BackdatePayment(order.PaymentID, 2*time.Hour)
	f.gw.capture("pay_live", order.OrderID, 50000, payment.RemoteStatusAuthorized)
	outcome, err = f.svc.Reconcile(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomePending, outcome, "an authorized attempt may still capture")

	other := f.booking("300.00", 24*time.Hour)
	stale, err := f.svc.CreateOrder(ctx, other.ID, ownerID)
	require.NoError(t, err)
	f.store.BackdatePayment(stale.PaymentID, 2*time.Hour)
	f.gw.capture("pay_dead", stale.OrderID, 30000, payment.RemoteStatusFailed)
	outcome, err = f.svc.Reconcile(ctx, stale.PaymentID)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeFailed, outcome)
	bs, ps := f.state(t, other.ID)
	require.Equal(t, db.BookingStatusCANCELLED, bs)
	require.Equal(t, db.PaymentStatusFAILED, ps)
}

func TestReconcileAmountMismatchLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)
	f.gw.capture("pay_1", order.OrderID, 100, payment.RemoteStatusCaptured)

	outcome, err := f.svc.Reconcile(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeAmountMismatch, outcome)
	_, ps := f.state(t, b.ID)
	require.Equal(t, db.PaymentStatusPENDING, ps)
}

func TestReconcileErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Reconcile(ctx, "missing")
	require.ErrorIs(t, err, payment.ErrNotFound)

	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)
	f.gw.fetchErr = errors.New("connection refused")
	_, err = f.svc.Reconcile(ctx, order.PaymentID)
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SweepStale(ctx, time.Minute, 10)
	require.Error(t, err, "a scheduler is required")

	sched := &recordingScheduler{}
	f.svc.Scheduler = sched
	var stale []string
	for i := 0; i < 3; i++ {
		b := f.booking("100.00", 24*time.Hour)
		order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
		require.NoError(t, err)
		if i < 2 {
			f.store.BackdatePayment(order.PaymentID, time.Hour)
			stale = append(stale, order.PaymentID)
		}
	}
	sched.ids, sched.delays = nil, nil

	n, err := f.svc.SweepStale(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.ElementsMatch(t, stale, sched.ids)

	sched.ids = nil
	n, err = f.svc.SweepStale(ctx, 30*time.Minute, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNewReconcileTask(t *testing.T) {
	task, opts, err := payment.NewReconcileTask("p-1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, payment.TaskReconcilePayment, task.Type())
	require.JSONEq(t, `{"paymentId":"p-1"}`, string(task.Payload()))

	found := map[asynq.OptionType]any{}
	for _, o := range opts {
		found[o.Type()] = o.Value()
	}
	require.Equal(t, "payment:reconcile:p-1", found[asynq.TaskIDOpt])
	require.Equal(t, 5*time.Minute, found[asynq.ProcessInOpt])
	require.Equal(t, 30*time.Second, found[asynq.TimeoutOpt])

	_, opts, err = payment.NewReconcileTask("p-1", 0)
	require.NoError(t, err)
	for _, o := range opts {
		require.NotEqual(t, asynq.ProcessInOpt, o.Type())
	}

	_, _, err = payment.NewReconcileTask("", 0)
	require.Error(t, err)
	require.Equal(t, payment.TaskSweepStale, payment.NewSweepTask().Type())
}

func TestJobsHandleReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobs := payment.Jobs{Svc: f.svc, Logger: zerolog.Nop()}
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(ctx, b.ID, ownerID)
	require.NoError(t, err)
	f.gw.capture("pay_1", order.OrderID, 50000, payment.RemoteStatusCaptured)

	payload, err := json.Marshal(map[string]string{"paymentId": order.PaymentID})
	require.NoError(t, err)
	require.NoError(t, jobs.HandleReconcile(ctx, asynq.NewTask(payment.TaskReconcilePayment, payload)))
	_, ps := f.state(t, b.ID)
	require.Equal(t, db.PaymentStatusSUCCEEDED, ps)

	err = jobs.HandleReconcile(ctx, asynq.NewTask(payment.TaskReconcilePayment, []byte(`{`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = jobs.HandleReconcile(ctx, asynq.NewTask(payment.TaskReconcilePayment, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = jobs.HandleReconcile(ctx, asynq.NewTask(payment.TaskReconcilePayment, []byte(`{"paymentId":"missing"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	other := f.booking("500.00", 24*time.Hour)
	pending, err := f.svc.CreateOrder(ctx, other.ID, ownerID)
	require.NoError(t, err)
	f.gw.fetchErr = errors.New("timeout")
	payload, err = json.Marshal(map[string]string{"paymentId": pending.PaymentID})
	require.NoError(t, err)
	err = jobs.HandleReconcile(ctx, asynq.NewTask(payment.TaskReconcilePayment, payload))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry, "provider outages are retried")
}

func TestJobsHandleSweep(t *testing.T) {
	f := newFixture(t)
	sched := &recordingScheduler{}
	f.svc.Scheduler = sched
	jobs := payment.Jobs{Svc: f.svc, SweepAfter: time.Minute, SweepLimit: 50, Logger: zerolog.Nop()}
	b := f.booking("500.00", 24*time.Hour)
	order, err := f.svc.CreateOrder(context.Background(), b.ID, ownerID)
	require.NoError(t, err)
	f.store.BackdatePayment(order.PaymentID, time.Hour)
	sched.ids = nil

	mux := asynq.NewServeMux()
	jobs.Register(mux)
	require.NoError(t, mux.ProcessTask(context.Background(), payment.NewSweepTask()))
	require.Equal(t, []string{order.PaymentID}, sched.ids)
}
