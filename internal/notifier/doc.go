// Package notifier delivers club announcements and reminders.
//
// Notifications are queued and sent asynchronously by a small worker pool.
// Delivery is rate limited, retried with exponential backoff, and
// deduplicated so a rescheduled reminder does not ping the same member
// twice. Dedup marks can be persisted so a restart does not replay
// suppressed notifications.
//
// # Transport
//
// The service delegates delivery to a kit.Adapter implementation (e.g. the
// Discord adapter). A notification either targets a channel or, when UserID
// is set, a direct message.
//
// Security escalation DMs do not pass through this pipeline; the security
// engine sends those directly so a queue backlog cannot delay an alert.
package notifier
