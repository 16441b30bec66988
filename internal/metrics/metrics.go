// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeInserted     = "inserted"
	OutcomeBuffered     = "buffered"
	OutcomeDroppedScope = "dropped_scope"
	OutcomeDroppedGroup = "dropped_group"
	OutcomeFiltered     = "filtered"
	OutcomeInvalid      = "invalid"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal      *prometheus.CounterVec
	LoadsTotal       *prometheus.CounterVec
	SeenAcksTotal    *prometheus.CounterVec
	ChannelConnected prometheus.Gauge
	PendingIntents   prometheus.Gauge
	Conversations    prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_events_total",
				Help: "Realtime conversation events by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_page_loads_total",
				Help: "Conversation page loads by mode and status.",
			},
			[]string{"mode", "status"},
		),
		SeenAcksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_seen_acks_total",
				Help: "Seen acknowledgements sent by status.",
			},
			[]string{"status"},
		),
		ChannelConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inbox_channel_connected",
				Help: "1 while the realtime channel is connected.",
			},
		),
		PendingIntents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inbox_pending_intents",
				Help: "Optimistic actions awaiting server confirmation.",
			},
		),
		Conversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inbox_conversations",
				Help: "Conversations in the visible collection.",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Load(mode, status string) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) SeenAck(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SeenAcksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ChannelConnected.Set(1)
		return
	}
	m.ChannelConnected.Set(0)
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingIntents.Set(float64(n))
}

func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.Conversations.Set(float64(n))
}

// EventTotals gathers inbox_events_total and sums it per outcome.
func (m *Metrics) EventTotals() (map[string]float64, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	totals := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "inbox_events_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			totals[labelValue(metric.GetLabel(), "outcome")] += metric.GetCounter().GetValue()
		}
	}
	return totals, nil
}

func labelValue(pairs []*dto.LabelPair, name string) string {
	for _, p := range pairs {
		if p.GetName() == name {
			return p.GetValue()
		}
	}
	return ""
}
