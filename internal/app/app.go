package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"clubbot/internal/club"
	"clubbot/internal/eventbus"
	"clubbot/internal/module"
	"clubbot/internal/notifier"
	"clubbot/internal/notifier/broadcast"
	"clubbot/internal/observability/metrics"
	"clubbot/internal/observability/ops"
	"clubbot/internal/roster"
	"clubbot/internal/scheduler"
	"clubbot/internal/security"
	"clubbot/internal/storage"
	kit "clubbot/internal/transport"
	discord "clubbot/internal/transport/discord/adapter"
	logx "clubbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.DB

	adapter *discord.Adapter

	engine    *security.Engine
	directory *roster.Directory
	syncer    *roster.Syncer
	clubSvc   *club.Service
	notif     *notifier.Service
	bcast     *broadcast.Service
	sched     *scheduler.Service

	opsSrv    *ops.Server
	collector *metrics.Collector

	cmdm *CommandManager
	serv *Services

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Adapter config mapping
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "discord"))

	ad, err := discord.New(discord.Config{Token: cfg.Discord.Token}, bootLog)
	if err != nil {
		return nil, err
	}

	// Logging service mapping
	// Important: logx.New() calls Apply() immediately. If the Discord sink is
	// enabled but the target channel isn't set yet, Apply() will emit a
	// warning. To avoid a false-positive warning, we bootstrap with the sink
	// disabled, set the target, then Apply() the final config.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    false, // set target first, then enable via Apply()
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if ch := strings.TrimSpace(cfg.Discord.LogChannel); ch != "" {
		logSvc.SetDiscordTarget(ch)
	}

	finalLogCfg := baseLogCfg
	finalLogCfg.Discord.Enabled = cfg.Logging.Discord.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	// Storage (optional)
	var store *storage.DB
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	// Services mapping
	directory := roster.NewDirectory(ad, cfg.Security.AdminRoles, 0, log.With(logx.String("comp", "roster")))
	esc := security.NewEscalator(directory, ad, log.With(logx.String("comp", "security")))

	secCfg, err := mapSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	// A nil *DB inside a non-nil interface would defeat the engine's
	// store == nil checks; only assign when storage is really there.
	var events security.EventStore
	if store != nil {
		events = store
	}
	engine, err := security.New(secCfg, events, esc, bus, log.With(logx.String("comp", "security")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg, store != nil)
	if err != nil {
		return nil, err
	}
	var dedup notifier.DedupStore
	if store != nil {
		dedup = store
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, dedup)

	bcast := broadcast.New(mapBroadcastConfig(cfg), ad, log.With(logx.String("comp", "broadcast")))

	var members club.Store
	if store != nil {
		members = store
	}
	clubSvc := club.New(mapClubConfig(cfg), members, notif, bcast, log.With(logx.String("comp", "club")))

	var syncer *roster.Syncer
	if store != nil && strings.TrimSpace(cfg.Club.GuildID) != "" {
		var src roster.Source = roster.GuildSource{Lister: ad, GuildID: cfg.Club.GuildID}
		if path := strings.TrimSpace(cfg.Club.Roster.CSVPath); path != "" {
			// Guild list first so the CSV's display names win the upsert.
			src = roster.MultiSource{src, roster.FileSource{Path: path}}
		}
		syncer = roster.NewSyncer(store, src, log.With(logx.String("comp", "roster")))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")))

	opsSrv := ops.New(log, nil)

	serv := &Services{RuntimeSupervisors: NewSupervisorRegistry()}

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfgm, engine, serv)

	cmdm.SetRegistry(module.Commands(module.Deps{
		Log:       log,
		Engine:    engine,
		Club:      clubSvc,
		Roster:    syncer,
		Directory: directory,
		Scheduler: sched,
		Broadcast: bcast,
		StartedAt: time.Now(),
	}))

	buf := cfg.Discord.UpdateBuffer
	if buf <= 0 {
		buf = 128
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		engine:    engine,
		directory: directory,
		syncer:    syncer,
		clubSvc:   clubSvc,
		notif:     notif,
		bcast:     bcast,
		sched:     sched,
		opsSrv:    opsSrv,
		cmdm:      cmdm,
		serv:      serv,
		updates:   make(chan kit.Update, buf),
	}
	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// registerJobs wires the periodic housekeeping into the scheduler. Job
// definitions survive Start/Stop cycles, so this runs once.
func (a *App) registerJobs(cfg *Config) error {
	if err := a.sched.AddInterval("security.cleanup", 5*time.Minute, time.Minute, func(c context.Context) error {
		a.engine.Cleanup()
		return nil
	}); err != nil {
		return err
	}

	if a.syncer != nil {
		every, err := rosterSyncEvery(cfg)
		if err != nil {
			return err
		}
		if err := a.sched.AddInterval("roster.sync", every, 5*time.Minute, func(c context.Context) error {
			res, err := a.syncer.Sync(c)
			if err != nil {
				return err
			}
			a.log.Info("roster synced",
				logx.Int("total", res.Total),
				logx.Int("upserted", res.Upserted),
				logx.Int("failed", res.Failed),
			)
			return nil
		}); err != nil {
			return err
		}
	}

	if a.store != nil {
		// RemindIfDue no-ops outside the due window and when fees are
		// disabled, so the job can stay registered unconditionally.
		if err := a.sched.Add("fee.remind", feeRemindCron(cfg), 5*time.Minute, func(c context.Context) error {
			err := a.clubSvc.RemindIfDue(c)
			if errors.Is(err, club.ErrNoStorage) {
				return nil
			}
			return err
		}); err != nil {
			return err
		}

		if err := a.sched.AddInterval("polls.close", 5*time.Minute, time.Minute, func(c context.Context) error {
			n, err := a.clubSvc.CloseDuePolls(c)
			if err != nil {
				return err
			}
			if n > 0 {
				a.log.Info("polls closed", logx.Int("count", n))
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	if a.serv != nil {
		a.serv.AppSupervisor = a.sup
		if a.serv.RuntimeSupervisors == nil {
			a.serv.RuntimeSupervisors = NewSupervisorRegistry()
		}
	}

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			if strings.TrimSpace(cfg.Discord.Token) == "" {
				return fmt.Errorf("discord.token is required")
			}
			if _, err := mapSecurityConfig(cfg); err != nil {
				return err
			}
			if _, _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			if _, err := mapSchedulerConfig(cfg); err != nil {
				return err
			}
			if _, err := mapNotifierConfig(cfg, a.store != nil); err != nil {
				return err
			}
			if _, err := rosterSyncEvery(cfg); err != nil {
				return err
			}
			return nil
		})
	}

	a.collector = metrics.StartCollector(a.bus, a.log.With(logx.String("comp", "metrics")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	// Expose subsystem supervisors for operational visibility.
	if a.serv != nil {
		if sup := a.adapter.Supervisor(); sup != nil {
			a.serv.RuntimeSupervisors.Set("discord.adapter", sup)
		}
	}

	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
		if a.serv != nil {
			if sup := a.notif.Supervisor(); sup != nil {
				a.serv.RuntimeSupervisors.Set("notifier", sup)
			}
		}
	}
	if a.bcast != nil && a.bcast.Enabled() {
		a.bcast.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	a.opsSrv.Apply(a.sup.Context(), a.cfgm.Get().Ops)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level to avoid noise on busy guilds.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				a.applyReload(c, lastApplied, newCfg, sections)
				lastApplied = newCfg

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifySystemd()

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the running services.
// Invalid sections keep their previous settings; only storage and the
// scheduler's job table require a restart.
func (a *App) applyReload(c context.Context, oldCfg, newCfg *Config, sections []string) {
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	// update log target first (so Apply() doesn't warn when the Discord sink is enabled)
	a.logs.SetDiscordTarget(strings.TrimSpace(newCfg.Discord.LogChannel))

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    newCfg.Logging.Discord.Enabled,
			MinLevel:   newCfg.Logging.Discord.MinLevel,
			RatePerSec: newCfg.Logging.Discord.RatePerSec,
		},
	})

	// security policy + rate limits (live)
	if secCfg, err := mapSecurityConfig(newCfg); err != nil {
		a.log.Warn("invalid security config; keeping previous", logx.Err(err))
	} else if err := a.engine.Apply(secCfg); err != nil {
		a.log.Warn("security config rejected; keeping previous", logx.Err(err))
	}
	a.directory.SetAdminRoles(newCfg.Security.AdminRoles)

	// club settings (live; reminder cron and roster interval are
	// registration-time and need a restart)
	a.clubSvc.Apply(mapClubConfig(newCfg))
	if feeRemindCron(oldCfg) != feeRemindCron(newCfg) {
		a.log.Warn("club.fee.remind_cron changed; restart required for changes to take effect")
	}
	oldEvery, _ := rosterSyncEvery(oldCfg)
	newEvery, err := rosterSyncEvery(newCfg)
	if err == nil && oldEvery != newEvery {
		a.log.Warn("club.roster.sync_every changed; restart required for changes to take effect")
	}

	// scheduler enable/disable (live); worker/queue/timezone changes
	// take effect on the next start
	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prev := a.sched.Enabled()
		a.sched.SetEnabled(schedCfg.Enabled)
		if prev && !schedCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prev && schedCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(a.sup.Context())
		}
	}

	// notifier (live)
	if a.notif != nil {
		prevEnabled := a.notif.Enabled()
		if ncfg, err := mapNotifierConfig(newCfg, a.store != nil); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			if prevEnabled && !ncfg.Enabled {
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && ncfg.Enabled {
				a.log.Info("notifier enabled via config")
				a.notif.Start(a.sup.Context())
			}
		}
	}

	// broadcast rides the notifier flag
	if a.bcast != nil {
		prevEnabled := a.bcast.Enabled()
		bcfg := mapBroadcastConfig(newCfg)
		a.bcast.Apply(bcfg)
		if prevEnabled && !bcfg.Enabled {
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.bcast.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && bcfg.Enabled {
			a.bcast.Start(a.sup.Context())
		}
	}

	// ops endpoint (live; address or pprof change restarts the listener)
	a.opsSrv.Apply(a.sup.Context(), newCfg.Ops)
}

// notifySystemd reports readiness and arms the watchdog loop when the
// process runs under systemd with Type=notify. A no-op otherwise.
func (a *App) notifySystemd() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}
	a.log.Debug("sd_notify: ready")

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop services (order: jobs first, then delivery pipelines, then transport)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("broadcast", 2*time.Second, func(c context.Context) error {
		if a.bcast != nil {
			a.bcast.Stop(c)
		}
		return nil
	})
	step("notifier", 1*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	step("ops", 1*time.Second, func(c context.Context) error {
		if a.opsSrv != nil {
			a.opsSrv.Stop(c)
		}
		return nil
	})
	step("metrics", 1*time.Second, func(c context.Context) error {
		if a.collector != nil {
			a.collector.Stop()
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
