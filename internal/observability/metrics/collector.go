package metrics

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"clubbot/internal/eventbus"
	"clubbot/internal/notifier"
	"clubbot/internal/security"
	logx "clubbot/pkg/logx"
)

// Collector drains the app bus into the domain counters. One per
// process; it owns a subscription and a drain goroutine.
type Collector struct {
	log     logx.Logger
	unsub   func()
	done    chan struct{}
	dropped prometheus.CounterFunc
}

// StartCollector subscribes to the bus and starts the drain loop.
func StartCollector(bus eventbus.Bus, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(64)
	c := &Collector{
		log:   log,
		unsub: unsub,
		done:  make(chan struct{}),
		dropped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "clubbot_bus_dropped_total",
			Help: "Bus events dropped because a subscriber could not keep up.",
		}, func() float64 { return float64(bus.Dropped()) }),
	}
	if err := prometheus.Register(c.dropped); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			log.Warn("metrics register failed", logx.Err(err))
		}
	}
	go c.loop(ch)
	return c
}

// Stop unsubscribes and waits for the drain loop to exit.
func (c *Collector) Stop() {
	c.unsub()
	<-c.done
	prometheus.Unregister(c.dropped)
}

func (c *Collector) loop(ch <-chan eventbus.Event) {
	defer close(c.done)
	for ev := range ch {
		c.observe(ev)
	}
}

func (c *Collector) observe(ev eventbus.Event) {
	switch {
	case ev.Type == security.BusTopicEvent:
		se, ok := ev.Data.(security.Event)
		if !ok {
			return
		}
		securityEventsTotal.WithLabelValues(string(se.Type), string(se.Severity)).Inc()
		if se.Severity == security.SeverityHigh || se.Severity == security.SeverityCritical {
			escalationsTotal.WithLabelValues(string(se.Type)).Inc()
		}

	case strings.HasPrefix(ev.Type, "notifier."):
		ne, ok := ev.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		outcome := strings.TrimPrefix(ev.Type, "notifier.")
		notificationsTotal.WithLabelValues(ne.Channel, outcome).Inc()
	}
}
