package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_containers_total",
			Help: "Tracked containers by role",
		},
		[]string{"role"},
	)

	StockItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_stock_items_total",
			Help: "Total item count across all tracked containers",
		},
	)

	StockKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_stock_keys_total",
			Help: "Distinct item keys with positive stock",
		},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_scan_duration_seconds",
			Help:    "Full inventory scan duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExportTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_export_tick_duration_seconds",
			Help:    "Export policy tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transfer metrics
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_transfers_total",
			Help: "Transfer tasks executed by outcome",
		},
		[]string{"outcome"},
	)

	ItemsMoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_items_moved_total",
			Help: "Total items moved by the transfer engine",
		},
	)

	// Agent metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_agents_total",
			Help: "Registered agents by kind and health",
		},
		[]string{"kind", "health"},
	)

	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_jobs_total",
			Help: "Jobs by status",
		},
		[]string{"status"},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_jobs_completed_total",
			Help: "Total jobs completed",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_jobs_failed_total",
			Help: "Total jobs failed",
		},
	)

	// Tick metrics
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabric_tick_duration_seconds",
			Help:    "Periodic task tick duration in seconds by task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	TickPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_tick_panics_total",
			Help: "Recovered panics in periodic tasks by task",
		},
		[]string{"task"},
	)

	// Shop metrics
	PurchasesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_shop_purchases_total",
			Help: "Completed shop purchases",
		},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_shop_refunds_total",
			Help: "Refunds issued by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(StockItems)
	prometheus.MustRegister(StockKeys)
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(ExportTickDuration)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(ItemsMoved)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(TickPanics)
	prometheus.MustRegister(PurchasesTotal)
	prometheus.MustRegister(RefundsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
