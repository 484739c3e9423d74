// Package app assembles the shared dependencies of the api and worker
// binaries from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/audit"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/health"
	"github.com/noah-isme/backend-booking/internal/lock"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/payment"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

// Store is the payment store together with its audit reads and readiness
// probe.
type Store interface {
	payment.Store
	audit.Store
	health.Pinger
}

// Deps holds the connections shared by the binaries. Close releases them in
// reverse order of acquisition.
type Deps struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     Store
	Redis     *redis.Client
	RedisConn asynq.RedisConnOpt
	Events    *events.Bus

	closers []func() error
}

// Open connects the store, Redis and the event publisher. component names
// the binary in connection metadata.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, component string) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := &Deps{Config: cfg, Logger: logger}

	store, err := d.openStore(ctx, component)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Store = store

	if err := d.openRedis(ctx); err != nil {
		d.Close()
		return nil, err
	}

	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}}}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		bus.Publisher = pub
		d.closers = append(d.closers, pub.Close)
	}
	d.Events = bus
	return d, nil
}

func (d *Deps) openStore(ctx context.Context, component string) (Store, error) {
	if d.Config.StoreDriver == "memory" {
		d.Logger.Warn().Msg("using in-memory payment store; state is lost on restart")
		return db.NewMemoryStore(), nil
	}
	poolConfig, err := pgxpool.ParseConfig(d.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = component

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	d.closers = append(d.closers, func() error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db.NewStore(pool), nil
}

func (d *Deps) openRedis(ctx context.Context) error {
	redisOpts, err := redis.ParseURL(d.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	d.closers = append(d.closers, client.Close)
	if err := redisotel.InstrumentTracing(client); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	d.Redis = client

	conn, err := asynq.ParseRedisURI(d.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse asynq redis uri: %w", err)
	}
	d.RedisConn = conn
	return nil
}

// NewPaymentService builds the reconciliation engine. tasks may be nil in
// processes that never create orders.
func (d *Deps) NewPaymentService(tasks *asynq.Client) (*payment.Service, error) {
	cfg := d.Config
	breaker := resilience.NewBreaker(cfg.Razorpay.BreakerMinReqs, cfg.Razorpay.BreakerRatio, cfg.Razorpay.BreakerOpenFor).
		WithTarget("razorpay").
		WithLogger(d.Logger)
	gateway, err := payment.NewRazorpayClient(payment.RazorpayConfig{
		KeyID:       cfg.Razorpay.KeyID,
		KeySecret:   cfg.Razorpay.KeySecret,
		BaseURL:     cfg.Razorpay.BaseURL,
		Timeout:     cfg.Razorpay.Timeout,
		MaxAttempts: cfg.Razorpay.MaxAttempts,
		Breaker:     breaker,
	})
	if err != nil {
		return nil, err
	}
	verifier, err := payment.NewVerifier(cfg.Payment.ConfirmSecret, cfg.Payment.WebhookSecret)
	if err != nil {
		return nil, err
	}
	svc := &payment.Service{
		Store:    d.Store,
		Gateway:  gateway,
		Verifier: verifier,
		Locker:   lock.Locker{R: d.Redis, Prefix: "lock:"},
		Events:   d.Events,
		Replay:   payment.RedisReplayGuard{R: d.Redis, TTL: cfg.Payment.WebhookReplayTTL, InFlightTTL: cfg.Payment.LockTTL, Prefix: "replay:webhook:"},
		Logger:   d.Logger,
		Config: payment.Config{
			Provider:       "razorpay",
			Currency:       cfg.Payment.Currency,
			ReceiptPrefix:  cfg.Payment.ReceiptPrefix,
			StoreTimeout:   cfg.Payment.StoreTimeout,
			LockTTL:        cfg.Payment.LockTTL,
			EventTimeout:   cfg.Payment.EventTimeout,
			ReconcileDelay: cfg.Payment.ReconcileDelay,
			OrderTTL:       cfg.Payment.OrderTTL,
		},
	}
	if tasks != nil {
		svc.Scheduler = payment.AsynqScheduler{Client: tasks, Queue: cfg.Payment.WorkerQueue}
	}
	return svc, nil
}

// Close releases every acquired resource. It is safe to call on a partially
// opened Deps.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Error().Err(err).Msg("close dependency")
		}
	}
	d.closers = nil
}
