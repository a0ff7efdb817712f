package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shotbot/internal/admission"
	"shotbot/internal/bot"
	"shotbot/internal/broadcast"
	"shotbot/internal/config"
	"shotbot/internal/floodgate"
	"shotbot/internal/housekeeping"
	"shotbot/internal/media"
	"shotbot/internal/metrics"
	"shotbot/internal/oplog"
	"shotbot/internal/runtime/supervisor"
	"shotbot/internal/storage"
	kit "shotbot/internal/transport"
	telegram "shotbot/internal/transport/telegram/adapter"
	"shotbot/internal/transport/telegram/router"
	logx "shotbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	sink *oplog.Switch

	mu  sync.Mutex
	res config.Resolved

	store   storage.Store
	adapter kit.Adapter
	metrics *metrics.Metrics

	gate      *floodgate.Gate
	admission *admission.Pipeline
	registry  *broadcast.Registry
	engine    *broadcast.Engine
	sessions  *media.Sessions
	house     *housekeeping.Service

	broadcasts *broadcast.Manager
	bot        *bot.Bot
	router     *router.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	sink := &oplog.Switch{}
	logSvc, log := logx.New(mapLoggingConfig(cfg, res.LogChannel), sink)

	ad, err := telegram.New(telegram.Config{
		Token:       res.Token,
		PollTimeout: res.PollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a, err := build(cfgm, res, ad, logSvc, log, sink)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build wires every component except the ones that need the run supervisor.
func build(cfgm *config.ConfigManager, res config.Resolved, ad kit.Adapter, logSvc *logx.Service, log logx.Logger, sink *oplog.Switch) (*App, error) {
	if res.LogChannel != 0 {
		sink.Set(oplog.NewChatSink(ad, res.LogChannel))
	}

	store, err := storage.Open(mapStorageConfig(res), log.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn("storage disabled; using in-memory store, users and bans are lost on restart")
		store = storage.NewMemory()
	case err != nil:
		return nil, err
	default:
		log.Info("storage enabled", logx.String("driver", res.StorageDriver))
	}

	m := metrics.New()
	gate := floodgate.New()
	sessions := media.NewSessions()

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		sink:      sink,
		res:       res,
		store:     store,
		adapter:   ad,
		metrics:   m,
		gate:      gate,
		admission: admission.New(gate, store, sink, m, log.With(logx.String("comp", "admission")), mapAdmissionSettings(res)),
		registry:  broadcast.NewRegistry(mapRegistryConfig(res)),
		engine:    broadcast.NewEngine(ad, store, m, log.With(logx.String("comp", "broadcast")), mapEngineConfig(res)),
		sessions:  sessions,
		house: housekeeping.New(housekeeping.Deps{
			Gate:     gate,
			Sessions: sessions,
			Store:    store,
			Sink:     sink,
			Log:      log,
		}, mapHousekeepingConfig(res)),
		updates: make(chan kit.Update, 256),
	}
	return a, nil
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

func (a *App) resolved() config.Resolved {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	res := a.resolved()

	a.broadcasts = broadcast.NewManager(broadcast.ManagerDeps{
		Registry:   a.registry,
		Engine:     a.engine,
		Supervisor: a.sup,
		Adapter:    a.adapter,
		Audit:      a.store,
		Sink:       a.sink,
		Metrics:    a.metrics,
		Log:        a.log.With(logx.String("comp", "broadcast")),
	})
	a.bot = bot.New(bot.Deps{
		Adapter:    a.adapter,
		Admission:  a.admission,
		Store:      a.store,
		Broadcasts: a.broadcasts,
		Prober:     media.FFProbe{Path: res.FFProbePath},
		Processor:  media.Unsupported{},
		Sessions:   a.sessions,
		Sink:       a.sink,
		Log:        a.log,
	}, mapBotSettings(res))
	a.router = router.New(a.log.With(logx.String("comp", "router")), a.adapter, router.Options{
		Workers:    res.Workers,
		Owners:     ownerList(res),
		Gate:       a.bot.Admit,
		Fallback:   a.bot.HandleMessage,
		Supervisor: a.sup,
	})
	a.bot.Register(a.router)

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			_, err := config.Resolve(cfg)
			return err
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("admission.notices", a.admission.Run)

	if res.HousekeepingEnabled {
		if err := a.house.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if res.MetricsEnabled {
		addr, pprof := res.MetricsAddr, res.MetricsPprof
		a.sup.Go0("metrics.serve", func(c context.Context) {
			if err := a.metrics.Serve(c, addr, pprof, a.log.With(logx.String("comp", "metrics"))); err != nil {
				a.log.Warn("metrics listener failed", logx.String("addr", addr), logx.Err(err))
			}
		})
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started",
		logx.Int("owners", len(res.Owners)),
		logx.Bool("log_channel", res.LogChannel != 0),
		logx.Bool("housekeeping", res.HousekeepingEnabled),
		logx.Bool("metrics", res.MetricsEnabled),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}

			sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(restart) > 0 {
				a.log.Warn("config changed in sections that need a restart",
					logx.String("sections", strings.Join(restart, ",")))
			}
			if err := a.applyConfig(newCfg); err != nil {
				a.log.Warn("config reload rejected; keeping previous", logx.Err(err))
				continue
			}
			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

// applyConfig pushes the hot-reloadable parts of cfg into running components.
func (a *App) applyConfig(cfg *config.Config) error {
	res, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	prev := a.res
	// restart-only settings stay as they were started
	res.Token = prev.Token
	res.StorageDriver, res.StoragePath, res.BusyTimeout = prev.StorageDriver, prev.StoragePath, prev.BusyTimeout
	res.MetricsEnabled, res.MetricsAddr, res.MetricsPprof = prev.MetricsEnabled, prev.MetricsAddr, prev.MetricsPprof
	a.res = res
	a.mu.Unlock()

	if res.LogChannel != prev.LogChannel {
		if res.LogChannel != 0 {
			a.sink.Set(oplog.NewChatSink(a.adapter, res.LogChannel))
		} else {
			a.sink.Set(nil)
		}
	}
	a.logs.Apply(mapLoggingConfig(cfg, res.LogChannel))

	a.admission.Apply(mapAdmissionSettings(res))
	a.engine.Apply(mapEngineConfig(res))
	if a.bot != nil {
		a.bot.Apply(mapBotSettings(res))
	}
	if a.router != nil {
		a.router.SetOwners(ownerList(res))
	}

	switch {
	case res.HousekeepingEnabled && prev.HousekeepingEnabled:
		if err := a.house.Apply(mapHousekeepingConfig(res)); err != nil {
			a.log.Warn("housekeeping reschedule failed", logx.Err(err))
		}
	case res.HousekeepingEnabled:
		_ = a.house.Apply(mapHousekeepingConfig(res))
		if a.sup != nil {
			if err := a.house.Start(a.sup.Context()); err != nil {
				a.log.Warn("housekeeping start failed", logx.Err(err))
			}
		}
	case prev.HousekeepingEnabled:
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		a.house.Stop(stopCtx)
		cancel()
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Broadcasts get to write their final status before the transport goes away.
	step := a.stepper(ctx)
	step("broadcasts", 10*time.Second, func(c context.Context) error {
		if a.broadcasts == nil {
			return nil
		}
		return a.broadcasts.Shutdown(c)
	})

	a.sup.Cancel()

	step("housekeeping", 2*time.Second, func(c context.Context) error { a.house.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stepper runs shutdown steps with an upper bound so one component can't stall the whole stop.
func (a *App) stepper(ctx context.Context) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, deadline exceeded", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}
}
