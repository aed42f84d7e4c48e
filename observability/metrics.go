package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	reserveMetricsOnce sync.Once
	reserveRegistry    *ReserveMetrics
)

// EngineMetrics captures the outcome of issuance engine operations.
type EngineMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// Engine returns the singleton metrics registry for issuance engine operations.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "securemint",
				Subsystem: "engine",
				Name:      "requests_total",
				Help:      "Count of issuance engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "securemint",
				Subsystem: "engine",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for issuance engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "securemint",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of issuance engine failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
		}
		prometheus.MustRegister(
			engineRegistry.requests,
			engineRegistry.latency,
			engineRegistry.errors,
		)
	})
	return engineRegistry
}

// Observe records the execution metrics for one engine operation.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// API returns the lazily-initialised registry used to record HTTP API activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "securemint",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "securemint",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "securemint",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "securemint",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be the
// HTTP status ultimately written to the response writer.
func (m *apiMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route.
// Reasons should be stable strings such as "rate_limit" so dashboards and
// alerts remain consistent.
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// ReserveMetrics bundles gauges tracking solvency and reserve health.
type ReserveMetrics struct {
	pauseLevel      prometheus.Gauge
	verifiedBacking prometheus.Gauge
	totalSupply     prometheus.Gauge
	epochMinted     prometheus.Gauge
	epochRemaining  prometheus.Gauge
	tierBalances    *prometheus.GaugeVec
	totalReserves   prometheus.Gauge
	dailyRedeemed   prometheus.Gauge
}

// Reserves exposes the solvency and reserve gauge registry.
func Reserves() *ReserveMetrics {
	reserveMetricsOnce.Do(func() {
		reserveRegistry = &ReserveMetrics{
			pauseLevel: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "pause_level",
				Help:      "Current emergency pause level (0 normal through 5 shutdown).",
			}),
			verifiedBacking: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "verified_backing",
				Help:      "Latest verified backing in integer asset units, 0 when consensus is unavailable.",
			}),
			totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "total_supply",
				Help:      "Circulating supply as reported by the external ledger.",
			}),
			epochMinted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "epoch_minted",
				Help:      "Amount minted in the current epoch in integer asset units.",
			}),
			epochRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "epoch_remaining",
				Help:      "Headroom left in the current epoch in integer asset units.",
			}),
			tierBalances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "tier_balance",
				Help:      "Reserve balance per tier in integer asset units.",
			}, []string{"tier"}),
			totalReserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "total_reserves",
				Help:      "Sum of all tier balances in integer asset units.",
			}),
			dailyRedeemed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "securemint",
				Subsystem: "reserve",
				Name:      "daily_redeemed",
				Help:      "Amount consumed against the UTC-day redemption limit.",
			}),
		}
		prometheus.MustRegister(
			reserveRegistry.pauseLevel,
			reserveRegistry.verifiedBacking,
			reserveRegistry.totalSupply,
			reserveRegistry.epochMinted,
			reserveRegistry.epochRemaining,
			reserveRegistry.tierBalances,
			reserveRegistry.totalReserves,
			reserveRegistry.dailyRedeemed,
		)
	})
	return reserveRegistry
}

// SetPauseLevel updates the pause level gauge.
func (m *ReserveMetrics) SetPauseLevel(level int) {
	if m == nil {
		return
	}
	m.pauseLevel.Set(float64(level))
}

// SetBacking updates the verified backing gauge; pass nil when consensus is
// unavailable.
func (m *ReserveMetrics) SetBacking(backing *big.Int) {
	if m == nil {
		return
	}
	m.verifiedBacking.Set(bigToFloat(backing))
}

// SetSupply updates the circulating supply gauge.
func (m *ReserveMetrics) SetSupply(supply *big.Int) {
	if m == nil {
		return
	}
	m.totalSupply.Set(bigToFloat(supply))
}

// SetEpoch updates the epoch counters.
func (m *ReserveMetrics) SetEpoch(minted, remaining *big.Int) {
	if m == nil {
		return
	}
	m.epochMinted.Set(bigToFloat(minted))
	m.epochRemaining.Set(bigToFloat(remaining))
}

// SetTier updates one tier's balance gauge.
func (m *ReserveMetrics) SetTier(tier string, balance *big.Int) {
	if m == nil {
		return
	}
	label := strings.ToUpper(strings.TrimSpace(tier))
	if label == "" {
		label = "UNKNOWN"
	}
	m.tierBalances.WithLabelValues(label).Set(bigToFloat(balance))
}

// SetTotalReserves updates the treasury total gauge.
func (m *ReserveMetrics) SetTotalReserves(total *big.Int) {
	if m == nil {
		return
	}
	m.totalReserves.Set(bigToFloat(total))
}

// SetDailyRedeemed updates the daily redemption consumption gauge.
func (m *ReserveMetrics) SetDailyRedeemed(used *big.Int) {
	if m == nil {
		return
	}
	m.dailyRedeemed.Set(bigToFloat(used))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
