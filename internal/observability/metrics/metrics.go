// Package metrics exposes the Prometheus instrumentation shared by the
// bot. Request-path metrics live next to the code that produces them;
// this package owns the bus-fed domain counters and the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	securityEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubbot_security_events_total",
		Help: "Security events recorded by the engine.",
	}, []string{"type", "severity"})

	escalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubbot_escalations_total",
		Help: "Security events that triggered admin DM escalation.",
	}, []string{"type"})

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubbot_notifications_total",
		Help: "Notification pipeline outcomes.",
	}, []string{"channel", "outcome"})
)

func init() {
	prometheus.MustRegister(securityEventsTotal, escalationsTotal, notificationsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
