package services

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_request_total",
			Help: "Total service requests",
		},
		[]string{"service"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_request_duration_seconds",
			Help:    "Duration of service requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_request_errors_total",
			Help: "Service requests answered with status >= 400",
		},
		[]string{"service"},
	)

	tunnelsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tunnel_keeper_tunnels",
			Help: "Tunnel records by kind and liveness at the last snapshot",
		},
		[]string{"kind", "live"},
	)

	tunnelStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnel_keeper_tunnel_starts_total",
			Help: "Start requests by result (spawned, renewed, failed)",
		},
		[]string{"result"},
	)

	urlCaptures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnel_keeper_url_captures_total",
			Help: "URL capture results (captured, failed, discarded)",
		},
		[]string{"result"},
	)

	tunnelStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnel_keeper_tunnel_stops_total",
			Help: "Stopped tunnels by reason",
		},
		[]string{"reason"},
	)

	sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunnel_keeper_sweeps_total",
		Help: "Expiration sweep passes",
	})

	sweepRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunnel_keeper_sweep_removed_total",
		Help: "Dead records removed by the sweeper",
	})

	persistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunnel_keeper_persistence_errors_total",
		Help: "Failed writes of the durable tunnel state",
	})
)

// healthz需要的请求总数，prometheus计数器不方便读回
var (
	totalRequests atomic.Int64
	errorRequests atomic.Int64
)

func init() {
	prometheus.MustRegister(requestCount)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(requestErrors)
	prometheus.MustRegister(tunnelsGauge)
	prometheus.MustRegister(tunnelStarts)
	prometheus.MustRegister(urlCaptures)
	prometheus.MustRegister(tunnelStops)
	prometheus.MustRegister(sweepsTotal)
	prometheus.MustRegister(sweepRemoved)
	prometheus.MustRegister(persistenceErrors)
}

// IncrementRequestCount 记录一次请求
func IncrementRequestCount(service string) {
	requestCount.WithLabelValues(service).Inc()
	totalRequests.Add(1)
}

// RecordRequestDuration 记录请求耗时(秒)
func RecordRequestDuration(service string, seconds float64) {
	requestDuration.WithLabelValues(service).Observe(seconds)
}

// IncrementErrorCount 记录一次出错的请求(状态码>=400)
func IncrementErrorCount(service string) {
	requestErrors.WithLabelValues(service).Inc()
	errorRequests.Add(1)
}

func GetTotalRequestCount() int64 {
	return totalRequests.Load()
}

func GetTotalErrorCount() int64 {
	return errorRequests.Load()
}

func recordTunnelCounts(ephemeralLive, ephemeralDead, persistentLive, persistentDead int) {
	tunnelsGauge.WithLabelValues("ephemeral", "true").Set(float64(ephemeralLive))
	tunnelsGauge.WithLabelValues("ephemeral", "false").Set(float64(ephemeralDead))
	tunnelsGauge.WithLabelValues("persistent", "true").Set(float64(persistentLive))
	tunnelsGauge.WithLabelValues("persistent", "false").Set(float64(persistentDead))
}
