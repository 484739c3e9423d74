package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOrderTotal counts CreateOrder outcomes.
	PaymentOrderTotal *prometheus.CounterVec
	// PaymentTransitionTotal counts guarded transitions by source and whether they applied.
	PaymentTransitionTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhooks by event and outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentRefundTotal counts refund attempts by outcome.
	PaymentRefundTotal *prometheus.CounterVec
	// ProviderRequestDuration records provider API latency in milliseconds.
	ProviderRequestDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers the payment collectors.
// Calling it more than once is harmless; the first registry wins.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_order_total",
			Help:      "Count of payment order creation outcomes.",
		}, []string{"provider", "result"})
		PaymentTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transition_total",
			Help:      "Count of payment state transitions by source, target and whether the guard matched.",
		}, []string{"source", "to", "applied"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by event and outcome.",
		}, []string{"event", "result"})
		PaymentRefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_refund_total",
			Help:      "Count of refund attempts by outcome.",
		}, []string{"result"})
		ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_ms",
			Help:      "Latency of payment provider API calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"})

		mustRegisterCollector(reg, PaymentOrderTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentOrderTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentTransitionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentTransitionTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentRefundTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentRefundTotal = v
			}
		})
		mustRegisterCollector(reg, ProviderRequestDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderRequestDuration = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
}
