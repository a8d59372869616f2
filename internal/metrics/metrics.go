package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 阶段名称，用于 StageFailuresTotal 的 stage 标签
const (
	StageSnapshot = "snapshot"
	StageNotes    = "notes"
	StageMinutes  = "minutes"
	StageTasks    = "tasks"
	StageCharts   = "charts"
	StageCompose  = "compose"
	StagePDF      = "pdf"
	StageEmail    = "email"
)

// Metrics 会议看板流水线的 Prometheus 指标
type Metrics struct {
	FinalizeRunsTotal       *prometheus.CounterVec
	FinalizeSeconds         prometheus.Histogram
	StageFailuresTotal      *prometheus.CounterVec
	UtterancesIngested      prometheus.Counter
	WebhookEventsTotal      *prometheus.CounterVec
	EmailsSentTotal         prometheus.Counter
	DashboardCacheEntries   prometheus.Gauge
	DashboardCacheEvictions prometheus.Counter
}

// New 在 reg 上注册全部指标；测试中使用独立的 prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FinalizeRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_finalize_runs_total",
				Help: "Total finalize runs by outcome",
			},
			[]string{"outcome"},
		),
		FinalizeSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meeting_finalize_seconds",
				Help:    "Time spent in one finalize run",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_finalize_stage_failures_total",
				Help: "Degraded or failed pipeline stages",
			},
			[]string{"stage"},
		),
		UtterancesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meeting_utterances_ingested_total",
				Help: "Transcript fragments appended to a transcript store",
			},
		),
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_webhook_events_total",
				Help: "Webhook events received by kind",
			},
			[]string{"kind"},
		),
		EmailsSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meeting_dashboard_emails_sent_total",
				Help: "Recipients that received a dashboard email",
			},
		),
		DashboardCacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meeting_dashboard_cache_entries",
				Help: "Dashboards currently cached",
			},
		),
		DashboardCacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meeting_dashboard_cache_evictions_total",
				Help: "Dashboards evicted after their TTL",
			},
		),
	}
}
