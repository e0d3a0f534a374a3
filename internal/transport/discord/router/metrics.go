package router

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubbot_commands_total",
		Help: "Commands dispatched, by route and outcome.",
	}, []string{"command", "outcome"})

	commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clubbot_command_duration_seconds",
		Help:    "Command handler duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(commandsTotal, commandDuration)
}

// MWMetrics records per-route outcome and latency. Outermost in the
// chain so a recovered panic still counts as an error.
func MWMetrics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		commandsTotal.WithLabelValues(req.Command, outcome).Inc()
		commandDuration.WithLabelValues(req.Command).Observe(time.Since(start).Seconds())
		return err
	}
}
