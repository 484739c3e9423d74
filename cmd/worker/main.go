package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/app"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger("booking-worker", cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics("booking", nil)

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   "booking-worker",
		Endpoint:      cfg.OTelEndpoint,
		Exporter:      cfg.OTelExporter,
		SamplingRatio: cfg.OTelSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, "booking-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	tasks := asynq.NewClient(deps.RedisConn)
	defer func() {
		if err := tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	paymentSvc, err := deps.NewPaymentService(tasks)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment service")
	}

	jobs := payment.Jobs{
		Svc:        paymentSvc,
		SweepAfter: cfg.Payment.SweepAfter,
		SweepLimit: cfg.Payment.SweepLimit,
		Logger:     logger,
	}
	mux := asynq.NewServeMux()
	jobs.Register(mux)

	srv := asynq.NewServer(deps.RedisConn, asynq.Config{
		Concurrency: cfg.Payment.WorkerConcurrent,
		Queues:      map[string]int{cfg.Payment.WorkerQueue: 1},
		Logger:      asynqLogger{l: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
		ShutdownTimeout: cfg.ShutdownGrace,
	})

	scheduler := asynq.NewScheduler(deps.RedisConn, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{l: logger.With().Str("component", "scheduler").Logger()},
	})
	entryID, err := scheduler.Register(cfg.Payment.SweepInterval, payment.NewSweepTask(),
		asynq.Queue(cfg.Payment.WorkerQueue),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Payment.SweepInterval).Msg("register sweep")
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().
		Str("queue", cfg.Payment.WorkerQueue).
		Int("concurrency", cfg.Payment.WorkerConcurrent).
		Str("sweep_entry", entryID).
		Msg("worker starting")

	<-ctx.Done()
	logger.Info().Msg("worker draining")
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
