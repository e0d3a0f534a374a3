// Package router dispatches prefix commands from the Discord update
// stream to registered handlers.
//
// Commands form a tree ("fee", "fee pay", "poll show"), optionally with
// root-level aliases. Each command declares a security requirement; the
// dispatcher asks the security engine for a verdict once per invocation
// before the handler is enqueued, and relays denial reasons back to the
// channel. Handlers run on a bounded worker pool so a slow command
// cannot stall the gateway read loop.
package router
