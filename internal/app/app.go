// Package app wires the relay: configuration, logging, storage, directory,
// policy, channels, regulation engines, audit, intake and maintenance jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notifyrelay/internal/audit"
	"notifyrelay/internal/channel"
	"notifyrelay/internal/config"
	"notifyrelay/internal/directory"
	"notifyrelay/internal/eventbus"
	"notifyrelay/internal/intake"
	"notifyrelay/internal/metrics"
	"notifyrelay/internal/notify"
	"notifyrelay/internal/policy"
	"notifyrelay/internal/router"
	rtsup "notifyrelay/internal/runtime/supervisor"
	"notifyrelay/internal/scheduler"
	"notifyrelay/internal/storage"
	"notifyrelay/internal/suppress"
	logx "notifyrelay/pkg/logx"
	"notifyrelay/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	metrics  *metrics.Metrics
	dir      directory.Directory
	dirClose func() error
	policy   *policy.Resolver
	senders  *channel.Registry
	inbox    *channel.Inbox
	writers  []*audit.Writer
	closers  []func() error
	router   *router.Router
	sched    *scheduler.Service
	consumer *intake.Consumer
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: root.With(logx.String("comp", "app")), bus: eventbus.New()}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	a.metrics = metrics.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dir, dirReload, dirClose, err := openDirectory(ctx, cfg.Directory, root.With(logx.String("comp", "directory")))
	if err != nil {
		return nil, err
	}
	a.dir, a.dirClose = dir, dirClose

	pcfg, err := mapPolicy(cfg)
	if err != nil {
		return nil, err
	}
	a.policy = policy.New(pcfg, root.With(logx.String("comp", "policy")))

	a.senders, a.inbox, err = buildChannels(cfg, a.bus, a.metrics, root.With(logx.String("comp", "channel")))
	if err != nil {
		return nil, err
	}

	sink, err := a.buildAudit(cfg, root)
	if err != nil {
		return nil, err
	}

	ledger, err := a.buildLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rcfg, err := mapRouter(cfg)
	if err != nil {
		return nil, err
	}
	a.router, err = router.New(rcfg, router.Deps{
		Directory:             a.dir,
		Policy:                a.policy,
		Senders:               a.senders,
		Audit:                 sink,
		Bus:                   a.bus,
		Observer:              a.metrics,
		Log:                   root,
		Ledger:                ledger,
		MaxSuppressionEntries: cfg.Regulation.MaxSuppressionEntries,
	})
	if err != nil {
		return nil, err
	}

	if err := a.buildScheduler(cfg, dirReload, root); err != nil {
		return nil, err
	}

	if in := cfg.Intake; in != nil && in.Enabled {
		ht, err := config.ParseDurationOrDefault("intake.handle_timeout", in.HandleTimeout, 30*time.Second)
		if err != nil {
			return nil, err
		}
		a.consumer, err = intake.NewConsumer(intake.Config{
			URL:           in.URL,
			Queue:         in.Queue,
			Prefetch:      in.Prefetch,
			HandleTimeout: ht,
		}, intake.Handler{Notifier: a.router, Observer: a.metrics}, root)
		if err != nil {
			return nil, err
		}
	}

	a.registerGauges()
	return a, nil
}

func (a *App) buildAudit(cfg *config.Config, root logx.Logger) (audit.Sink, error) {
	if !cfg.Audit.Enabled {
		return audit.Nop{}, nil
	}
	var sinks audit.Multi
	if a.store != nil {
		w := audit.NewWriter("storage", a.store, cfg.Audit.QueueSize, root)
		a.writers = append(a.writers, w)
		sinks = append(sinks, w)
	}
	if k := cfg.Audit.Kafka; k != nil {
		kw := audit.NewKafka(k.Brokers, k.Topic)
		a.closers = append(a.closers, kw.Close)
		w := audit.NewWriter("kafka", kw, cfg.Audit.QueueSize, root)
		a.writers = append(a.writers, w)
		sinks = append(sinks, w)
	}
	if len(sinks) == 0 {
		a.log.Warn("audit enabled without storage or kafka; entries are discarded")
		return audit.Nop{}, nil
	}
	return sinks, nil
}

func (a *App) buildLedger(ctx context.Context, cfg *config.Config) (suppress.Ledger, error) {
	lc := cfg.Regulation.Ledger
	switch strings.ToLower(strings.TrimSpace(lc.Driver)) {
	case "", "none":
		return nil, nil
	case "memory":
		return suppress.NewMemoryLedger(), nil
	case "storage":
		if a.store == nil {
			return nil, errors.New("regulation.ledger: driver storage needs storage enabled")
		}
		return suppress.StoreLedger{Store: a.store}, nil
	case "redis":
		prefix := lc.Prefix
		if prefix == "" {
			prefix = "notifyrelay:suppress:"
		}
		rl := suppress.NewRedisLedger(lc.Addr, lc.Password, lc.DB, prefix)
		a.closers = append(a.closers, rl.Close)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rl.Ping(pctx); err != nil {
			// Claims fail open, so an unreachable redis only loses cross-process dedup.
			a.log.Warn("redis ledger unreachable", logx.String("addr", lc.Addr), logx.Err(err))
		}
		return rl, nil
	default:
		return nil, fmt.Errorf("unknown regulation.ledger.driver: %s", lc.Driver)
	}
}

func (a *App) buildScheduler(cfg *config.Config, dirReload func(context.Context) error, root logx.Logger) error {
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, root)
	sweep := cfg.Scheduler.Sweep
	if sweep == "" {
		sweep = "@every 10s"
	}
	reap := cfg.Scheduler.Reap
	if reap == "" {
		reap = "@every 1m"
	}
	jobs := []scheduler.Job{
		{Name: "digest.sweep", Schedule: sweep, Run: func(ctx context.Context) error {
			if n := a.router.Digests().Sweep(ctx); n > 0 {
				a.log.Debug("digests emitted", logx.Int("count", n))
			}
			return nil
		}},
		{Name: "suppress.reap", Schedule: reap, Run: func(context.Context) error {
			a.router.Suppression().Reap(time.Now())
			return nil
		}},
	}
	if dirReload != nil && strings.TrimSpace(cfg.Directory.Reload) != "" {
		jobs = append(jobs, scheduler.Job{Name: "directory.reload", Schedule: cfg.Directory.Reload, Timeout: time.Minute, Run: dirReload})
	}
	for _, j := range jobs {
		if err := a.sched.Add(j); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) registerGauges() {
	a.metrics.Gauge("digest_open_buckets", "Digest buckets currently collecting.", func() float64 {
		return float64(a.router.Digests().Stats().OpenBuckets)
	})
	a.metrics.Gauge("digest_buffered_units", "Units buffered in open digests.", func() float64 {
		return float64(a.router.Digests().Stats().Buffered)
	})
	a.metrics.Gauge("suppression_windows", "Active suppression windows.", func() float64 {
		return float64(a.router.Suppression().Stats().Entries)
	})
	a.metrics.Gauge("audit_dropped", "Audit entries dropped on a full queue.", func() float64 {
		var n uint64
		for _, w := range a.writers {
			n += w.Stats().Dropped
		}
		return float64(n)
	})
	a.metrics.Gauge("eventbus_dropped", "Events dropped for slow subscribers.", func() float64 {
		return float64(eventbus.Dropped(a.bus))
	})
}

func (a *App) Router() *router.Router { return a.router }

// Inbox is nil unless the in-app channel uses the inbox driver.
func (a *App) Inbox() *channel.Inbox { return a.inbox }

func (a *App) Notify(ctx context.Context, m notify.Message) (notify.Summary, error) {
	return a.router.Notify(ctx, m)
}

// Reload re-reads the config file now; SIGHUP lands here.
func (a *App) Reload(ctx context.Context) error {
	err := a.cfgm.Reload(ctx)
	if errors.Is(err, config.ErrUnchanged) {
		return nil
	}
	return err
}

// Done is closed when the app supervisor is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	for _, w := range a.writers {
		w.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	if cfg.Metrics.Enabled {
		addr, withPprof := cfg.Metrics.Addr, cfg.Metrics.Pprof
		if addr == "" {
			addr = ":9464"
		}
		a.sup.Go("metrics", func(c context.Context) error {
			return a.metrics.Serve(c, addr, withPprof, a.log.With(logx.String("comp", "metrics")))
		})
	}
	if a.consumer != nil {
		a.sup.GoRestart("intake", a.consumer.Run, rtsup.RestartPolicy{MinBackoff: time.Second, MaxBackoff: time.Minute})
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.log.Info("relay started", logx.Any("channels", a.senders.Channels()))
	return nil
}

// reloadLoop applies live-reloadable sections; others are logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
		// Coalesce bursts.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}

		changed, attrs := config.SummarizeChange(last, next)
		if len(changed) == 0 {
			a.log.Debug("config reload received, but no effective changes detected")
			continue
		}
		a.log.Info("config changed", append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)...)
		if restart := config.RestartRequired(last, next, changed); len(restart) > 0 {
			a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(restart, ",")))
		}
		_ = systemd.Reloading()
		a.apply(next)
		_ = systemd.Ready()
		_ = systemd.Status("config applied: " + strings.Join(changed, ","))
		last = next
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg))
	if pcfg, err := mapPolicy(cfg); err != nil {
		a.log.Warn("invalid policy config; keeping previous", logx.Err(err))
	} else {
		a.policy.Apply(pcfg)
	}
	if rcfg, err := mapRouter(cfg); err != nil {
		a.log.Warn("invalid regulation config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(rcfg)
	}
}

// Stop halts intake and jobs, flushes open digests and drains audit queues.
func (a *App) Stop(ctx context.Context) error {
	start := time.Now()
	a.log.Info("stopping")

	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	a.sched.Stop(ctx)

	if n := a.router.Flush(ctx); n > 0 {
		a.log.Info("open digests flushed", logx.Int("count", n))
	}
	for _, w := range a.writers {
		if err := w.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.dirClose != nil {
		errs = append(errs, a.dirClose())
		a.dirClose = nil
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
