package security

import (
	"context"
	"encoding/json"
	"time"

	"clubbot/internal/eventbus"
	"clubbot/internal/storage"
	logx "clubbot/pkg/logx"
)

// EventStore is the slice of persistence the engine consumes.
// *storage.DB satisfies it; tests use an in-memory fake.
type EventStore interface {
	AppendEvent(ctx context.Context, e storage.SecurityEvent) error
	RecentEvents(ctx context.Context, f storage.EventFilter) ([]storage.SecurityEvent, error)
	CountEventsSince(ctx context.Context, since time.Time) (int, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BusTopicEvent is published on the app bus once per logged event.
// Data is the Event value.
const BusTopicEvent = "security.event"

// recorder owns the post-decision side effects: durable write first,
// then escalation for high/critical, then the bus publish. All of it
// runs after the verdict is committed to in-memory state.
type recorder struct {
	store EventStore
	esc   *Escalator
	bus   eventbus.Bus
	log   logx.Logger
}

// record persists and fans out one event. The durable write is awaited;
// a write failure is logged and never changes the already-made verdict.
func (r *recorder) record(ctx context.Context, ev Event) {
	if r.store != nil {
		if err := r.store.AppendEvent(ctx, eventRow(ev)); err != nil {
			r.log.Error("security event write failed",
				logx.Err(err),
				logx.String("type", string(ev.Type)),
				logx.String("user_id", ev.UserID),
			)
		}
	}

	if r.esc != nil && (ev.Severity == SeverityHigh || ev.Severity == SeverityCritical) {
		r.esc.Escalate(ctx, ev)
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: BusTopicEvent, Time: ev.At, Data: ev})
	}
}

func eventRow(ev Event) storage.SecurityEvent {
	details := ""
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = string(b)
		}
	}
	return storage.SecurityEvent{
		Type:      string(ev.Type),
		UserID:    ev.UserID,
		Username:  ev.Username,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		Command:   ev.Command,
		Details:   details,
		Severity:  string(ev.Severity),
		At:        ev.At,
	}
}
