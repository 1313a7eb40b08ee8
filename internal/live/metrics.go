package live

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/g960059/wgpanel/internal/model"
)

// Metrics counts live traffic. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events      *prometheus.CounterVec
	modeChanges *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wgpanel_live_events_total",
			Help: "Live ledger events dispatched, by kind.",
		}, []string{"kind"}),
		modeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wgpanel_live_mode_changes_total",
			Help: "Live channel mode transitions, by target mode.",
		}, []string{"mode"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.modeChanges)
	}
	return m
}

func (m *Metrics) observeEvent(k Kind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) observeMode(mode model.LiveMode) {
	if m == nil {
		return
	}
	m.modeChanges.WithLabelValues(string(mode)).Inc()
}
