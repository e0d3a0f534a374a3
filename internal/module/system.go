package module

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"clubbot/internal/security"
	"clubbot/internal/transport/discord/router"
)

func systemCommands(d Deps) []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "liveness check",
			Usage:       "ping",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "pong")
			},
		},
		{
			Route:       "uptime",
			Aliases:     []string{"up"},
			Description: "show process uptime",
			Usage:       "uptime",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "uptime: "+durRel(time.Since(d.StartedAt)))
			},
		},
		{
			Route:       "health",
			Description: "runtime health report",
			Usage:       "health",
			Require:     security.Requirement{Level: security.LevelAdmin},
			Timeout:     15 * time.Second,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdHealth(ctx, req, d)
			},
		},
		{
			Route:       "sched run",
			Description: "run a scheduled job now",
			Usage:       "sched run <job>",
			Require:     security.Requirement{Level: security.LevelAdmin},
			Handle: func(ctx context.Context, req *router.Request) error {
				if d.Scheduler == nil || !d.Scheduler.Enabled() {
					return req.Reply(ctx, "scheduler is disabled")
				}
				if len(req.Args) < 1 {
					return req.Reply(ctx, "usage: "+prefixOf(req)+"sched run <job>")
				}
				if err := d.Scheduler.RunNow(req.Args[0]); err != nil {
					return req.Reply(ctx, "cannot run job: "+err.Error())
				}
				return req.Reply(ctx, "job queued: "+req.Args[0])
			},
		},
	}
}

func cmdHealth(ctx context.Context, req *router.Request, d Deps) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var b strings.Builder
	b.Grow(1024)
	b.WriteString("🏥 bot health\n")
	fmt.Fprintf(&b, "uptime: %s\n", durRel(time.Since(d.StartedAt)))
	fmt.Fprintf(&b, "go: %s, goroutines: %d\n", runtime.Version(), runtime.NumGoroutine())
	fmt.Fprintf(&b, "mem: alloc=%s sys=%s gc=%d\n", fmtBytes(m.Alloc), fmtBytes(m.Sys), m.NumGC)

	if d.Scheduler != nil && d.Scheduler.Enabled() {
		snap := d.Scheduler.Snapshot()
		fmt.Fprintf(&b, "\n⏱ scheduler (%s): %d workers, queue %d\n", snap.Timezone, snap.Workers, snap.QueueLen)
		jobs := snap.Jobs
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
		now := time.Now()
		for _, j := range jobs {
			next := "-"
			if !j.Next.IsZero() {
				next = durRel(j.Next.Sub(now))
			}
			fmt.Fprintf(&b, "• %s: %s, next in %s\n", j.Name, j.Spec, next)
		}
	} else {
		b.WriteString("\n⏱ scheduler: disabled\n")
	}

	if req.Services != nil && req.Services.RuntimeSupervisors != nil {
		sups := req.Services.RuntimeSupervisors.Snapshot()
		if len(sups) > 0 {
			names := make([]string, 0, len(sups))
			for name := range sups {
				names = append(names, name)
			}
			sort.Strings(names)
			b.WriteString("\n🧵 supervisors\n")
			for _, name := range names {
				sup := sups[name]
				c := sup.Counters()
				line := fmt.Sprintf("• %s: %d active / %d started", name, c.Active, c.Started)
				if err := sup.Err(); err != nil {
					line += " | err: " + err.Error()
				}
				b.WriteString(line + "\n")
			}
		}
	}

	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func fmtBytes(n uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1fGB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1fKB", float64(n)/kb)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
