package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active signaling websocket connections",
		},
	)

	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rooms_active",
			Help: "Number of rooms with at least one participant",
		},
	)

	admissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Host admission decisions by outcome",
		},
		[]string{"outcome"},
	)

	signalEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_events_total",
			Help: "Signaling events processed by the relay, by event name",
		},
		[]string{"event"},
	)
)

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func SetActiveRooms(count int) {
	roomsActive.Set(float64(count))
}

func RecordAdmissionDecision(admitted bool) {
	outcome := "denied"
	if admitted {
		outcome = "admitted"
	}

	admissionDecisionsTotal.WithLabelValues(outcome).Inc()
}

func RecordSignalEvent(event string) {
	signalEventsTotal.WithLabelValues(event).Inc()
}
