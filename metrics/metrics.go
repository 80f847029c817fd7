package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	contractCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_contract_calls_total",
			Help: "Auction contract calls by method and result",
		},
		[]string{"method", "result"},
	)
	contractCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auction_contract_call_duration_seconds",
			Help:    "Latency of auction contract calls including receipt wait",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"method"},
	)
	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_registrations_total",
			Help: "User registration attempts by result",
		},
		[]string{"result"},
	)
	statusCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_status_cache_total",
			Help: "Auction status cache lookups",
		},
		[]string{"result"},
	)
)

// ObserveContractCall はコントラクト呼び出しの結果と所要時間を記録する
func ObserveContractCall(method string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	contractCalls.WithLabelValues(method, result).Inc()
	contractCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func ObserveRegistration(result string) {
	registrations.WithLabelValues(result).Inc()
}

func ObserveStatusCache(hit bool) {
	if hit {
		statusCache.WithLabelValues("hit").Inc()
		return
	}
	statusCache.WithLabelValues("miss").Inc()
}
