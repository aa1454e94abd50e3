package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 应用自己的指标注册表，不使用全局 DefaultRegisterer
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envoearn",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "envoearn",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	earningsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envoearn",
			Subsystem: "earnings",
			Name:      "credited_pkr_total",
			Help:      "Total PKR credited by type.",
		},
		[]string{"type"},
	)

	earningRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envoearn",
			Subsystem: "earnings",
			Name:      "runs_total",
			Help:      "Daily earnings runs by result.",
		},
		[]string{"result"},
	)

	withdrawalsReviewed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envoearn",
			Subsystem: "withdrawals",
			Name:      "reviewed_total",
			Help:      "Withdrawals reviewed by outcome.",
		},
		[]string{"status"},
	)

	outboxRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envoearn",
			Subsystem: "outbox",
			Name:      "relayed_total",
			Help:      "Outbox messages relayed by result.",
		},
		[]string{"result"},
	)

	outboxBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "envoearn",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Outbox messages waiting or given up, by status.",
		},
		[]string{"status"},
	)

	realtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "envoearn",
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Connected realtime subscribers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		earningsCredited,
		earningRuns,
		withdrawalsReviewed,
		outboxRelayed,
		outboxBacklog,
		realtimeSubscribers,
	)
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP 记录一次 HTTP 请求
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func AddEarnings(earningType string, amount int64) {
	earningsCredited.WithLabelValues(earningType).Add(float64(amount))
}

func IncEarningRun(result string) {
	earningRuns.WithLabelValues(result).Inc()
}

func IncWithdrawalReviewed(status string) {
	withdrawalsReviewed.WithLabelValues(status).Inc()
}

func IncOutboxRelayed(result string) {
	outboxRelayed.WithLabelValues(result).Inc()
}

// SetOutboxBacklog 按状态记录积压条数，PENDING 持续上涨说明 Kafka 投递卡住了
func SetOutboxBacklog(status string, n int64) {
	outboxBacklog.WithLabelValues(status).Set(float64(n))
}

func SetRealtimeSubscribers(n int) {
	realtimeSubscribers.Set(float64(n))
}
