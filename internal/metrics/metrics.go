// Package metrics описывает метрики Prometheus, которые публикует бот.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "numerology_bot"

// Metrics — счетчики бота. Регистрируются в переданном Registerer,
// чтобы тесты могли использовать отдельный реестр.
type Metrics struct {
	Updates       *prometheus.CounterVec
	Forecasts     *prometheus.CounterVec
	AutoBlocks    prometheus.Counter
	StoreErrors   *prometheus.CounterVec
	DuplicateRows prometheus.Counter
	Notifications *prometheus.CounterVec
}

// New создает и регистрирует метрики.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound messenger updates by result.",
		}, []string{"result"}),
		Forecasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Forecasts sent by detail level.",
		}, []string{"detail"}),
		AutoBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_blocks_total",
			Help:      "Expired trials blocked automatically.",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed calls to the tabular store by operation.",
		}, []string{"op"}),
		DuplicateRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_user_rows_total",
			Help:      "Lookups that found more than one row for a user id.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Trial notifications by kind and result: published by the scheduler, delivered by the sender.",
		}, []string{"kind", "result"}),
	}
}

// NewNop создает метрики в отдельном реестре, который никто не публикует.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
