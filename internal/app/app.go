// Package app assembles the bot: configuration, logging, storage, the
// Telegram adapter, the drop engine, and the command router.
package app

import (
	"context"
	"fmt"
	"time"

	"dropbot/internal/config"
	"dropbot/internal/drop"
	"dropbot/internal/eventbus"
	"dropbot/internal/router"
	"dropbot/internal/runtime/supervisor"
	"dropbot/internal/schedule"
	"dropbot/internal/storage"
	kit "dropbot/internal/transport"
	telegram "dropbot/internal/transport/telegram/adapter"
	logx "dropbot/pkg/logx"
)

// StopReason labels why the process is going down, for the final log line.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *drop.Service
	sched   *schedule.Service
	rtr     *router.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		sched:   schedule.New(log.With(logx.String("comp", "schedule"))),
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
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
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	openCtx, cancel := context.WithTimeout(a.sup.Context(), 15*time.Second)
	store, err := storage.Open(openCtx, cfg.Storage)
	cancel()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", driverName(cfg.Storage)))

	a.engine = drop.NewService(drop.ServiceConfig{
		Store:        store,
		Messenger:    a.adapter,
		Destinations: a.adapter,
		Roles:        a.adapter,
		Perms:        a.adapter,
		Bus:          a.bus,
		Log:          a.log.With(logx.String("comp", "drop")),
		Owners:       cfg.Telegram.OwnerUserIDs,
	})
	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.engine.RegisterJobs(a.sched,
		cfg.Game.TickIntervalDuration(), cfg.Game.SweepIntervalDuration()); err != nil {
		return err
	}

	a.rtr = router.New(a.log.With(logx.String("comp", "router")), a.adapter, cfg.Telegram.OwnerUserIDs)
	a.rtr.Register(a.engine.Commands())
	a.rtr.SetCallbackHandler(a.engine.HandleCallback)
	a.rtr.SetObserver(func(c context.Context, msg kit.Message) {
		if msg.IsGroup {
			a.engine.TouchTenant(c, msg.ChatID)
		}
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rtr.DispatchLoop(c, a.updates)
	})

	// Audit recorder: every lifecycle event becomes a storage row. Best
	// effort; a failed append is logged and the event is gone.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.audit", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				entry, ok := auditFor(e)
				if !ok {
					continue
				}
				if err := a.store.AppendAudit(c, entry); err != nil {
					a.log.Warn("audit append failed", logx.String("type", e.Type), logx.Err(err))
				}
			}
		}
	})

	// Hot reload: only logging responds live; everything else needs a
	// restart and says so.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				if newCfg.Storage != cfg.Storage {
					a.log.Warn("storage config changed; restart required for changes to take effect")
				}
				if newCfg.Telegram.Token != cfg.Telegram.Token {
					a.log.Warn("telegram token changed; restart required for changes to take effect")
				}
				a.log.Info("config reloaded")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// auditFor maps a bus event to an audit row. Events without a storage-worthy
// payload (config churn, unknown types) are skipped.
func auditFor(e eventbus.Event) (storage.AuditEntry, bool) {
	switch d := e.Data.(type) {
	case drop.PostedEvent:
		return storage.AuditEntry{
			TenantID: d.TenantID,
			Action:   e.Type,
			Detail:   fmt.Sprintf("chat=%d msg=%d rare=%t", d.Ref.ChatID, d.Ref.MessageID, d.Rare),
			At:       e.Time,
		}, true
	case drop.ResolvedEvent:
		return storage.AuditEntry{
			TenantID: d.TenantID,
			ActorID:  d.ParticipantID,
			Action:   e.Type,
			Detail:   fmt.Sprintf("chat=%d msg=%d outcome=%s rare=%t", d.Ref.ChatID, d.Ref.MessageID, d.Outcome, d.Rare),
			At:       e.Time,
		}, true
	case drop.ExpiredEvent:
		return storage.AuditEntry{
			TenantID: d.TenantID,
			Action:   e.Type,
			Detail:   fmt.Sprintf("chat=%d msg=%d", d.Ref.ChatID, d.Ref.MessageID),
			At:       e.Time,
		}, true
	default:
		return storage.AuditEntry{}, false
	}
}

func driverName(sc config.StorageConfig) string {
	if sc.Driver == "" {
		return "sqlite"
	}
	return sc.Driver
}
