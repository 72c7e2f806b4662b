package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	paymentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_operations_total",
			Help: "Total payment operations by outcome",
		},
		[]string{"operation", "provider", "outcome"},
	)

	paymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_operation_duration_seconds",
			Help:    "Duration of payment operations including provider round trips",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation", "provider"},
	)

	activeHolds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_active_holds",
			Help: "Deposits currently held per provider",
		},
		[]string{"provider"},
	)

	serviceFees = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_service_fees_total",
			Help: "Accumulated provider service fees in major currency units",
		},
		[]string{"provider", "currency"},
	)

	storeKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_store_keys",
			Help: "Keys held in the transaction store by kind",
		},
		[]string{"kind"},
	)
)

type Monitor struct {
	redis redis.Cmdable
}

// NewMonitor starts store collection when a Redis client is given; ctx stops it.
func NewMonitor(ctx context.Context, redisClient redis.Cmdable) *Monitor {
	monitor := &Monitor{redis: redisClient}

	if redisClient != nil {
		go monitor.collectMetrics(ctx)
	}

	return monitor
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectStoreMetrics(ctx)
		}
	}
}

func (m *Monitor) collectStoreMetrics(ctx context.Context) {
	for kind, pattern := range map[string]string{
		"hold":        "payment:hold:*",
		"charge":      "payment:charge:*",
		"idempotency": "payment:idempotency:*",
	} {
		n, err := m.countKeys(ctx, pattern)
		if err != nil {
			continue
		}
		storeKeys.WithLabelValues(kind).Set(float64(n))
	}
}

func (m *Monitor) countKeys(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	total := 0
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return 0, err
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// TrackOperation counts one operation; outcome is "success" or an error code.
func (m *Monitor) TrackOperation(operation, provider, outcome string, took time.Duration) {
	paymentOperations.WithLabelValues(operation, provider, outcome).Inc()
	paymentDuration.WithLabelValues(operation, provider).Observe(took.Seconds())
}

func (m *Monitor) HoldPlaced(provider string) {
	activeHolds.WithLabelValues(provider).Inc()
}

func (m *Monitor) HoldSettled(provider string) {
	activeHolds.WithLabelValues(provider).Dec()
}

func (m *Monitor) TrackFee(provider, currency string, fee decimal.Decimal) {
	serviceFees.WithLabelValues(provider, currency).Add(fee.InexactFloat64())
}
