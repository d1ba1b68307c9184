package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"huddlebot/internal/config"
	"huddlebot/internal/directory"
	"huddlebot/internal/eventbus"
	"huddlebot/internal/storage"
	"huddlebot/internal/survey"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/inbox"
	telegram "huddlebot/internal/transport/telegram/adapter"
	logx "huddlebot/pkg/logx"
	"huddlebot/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	inbox  *inbox.Inbox
	dir    *directory.Directory
	gemini *geminiSwitch
	speech *speechSwitch

	cmdm *CommandManager
	pm   *PluginManager

	serv *Services

	// incoming is fed by the adapter; routed carries the same updates to the
	// command dispatcher after the inbox has seen them.
	incoming chan kit.Update
	routed   chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging off, set the target, then apply the
	// final config so Apply does not warn about a missing chat.
	baseLogCfg := mapLogConfig(cfg)
	finalLogCfg := baseLogCfg
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	if id := cfg.Telegram.GroupLogID(); id != 0 {
		logSvc.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	in := inbox.New()
	dir := directory.New(store, log)
	surveys := survey.NewDispatcher(ad, in,
		survey.WithLogger(log.With(logx.String("comp", "survey"))),
		survey.WithBus(bus),
	)

	gem := &geminiSwitch{}
	if err := gem.apply(cfg); err != nil {
		return nil, err
	}
	if !gem.enabled() {
		log.Warn("gemini disabled: set gemini.api_key or " + config.EnvGeminiAPIKey)
	}
	sp := &speechSwitch{}
	if err := sp.apply(cfg); err != nil {
		return nil, err
	}

	serv := &Services{
		Surveys:            surveys,
		Inbox:              in,
		Directory:          dir,
		Generator:          gem,
		Synthesizer:        sp,
		Bus:                bus,
		Store:              store,
		RuntimeSupervisors: NewSupervisorRegistry(),
	}

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfgm, serv)

	pm := NewPluginManager(log.With(logx.String("comp", "plugins")),
		cfgm, PluginDeps{
			Logger:   log,
			Adapter:  ad,
			Config:   cfgm,
			Services: serv,
			Bus:      bus,
			Store:    store,
		}, cmdm)
	serv.Plugins = pm

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		inbox:    in,
		dir:      dir,
		gemini:   gem,
		speech:   sp,
		cmdm:     cmdm,
		pm:       pm,
		serv:     serv,
		incoming: make(chan kit.Update, 256),
		routed:   make(chan kit.Update, 256),
	}, nil
}

func (a *App) Plugins() *PluginManager { return a.pm }

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

// validate runs before a reloaded config is committed. config.Validate has
// already passed by then.
func (a *App) validate(ctx context.Context, cfg *Config) error {
	if _, err := mapGeminiConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSpeechConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if a.pm != nil {
		return a.pm.ValidateConfig(ctx, cfg)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.serv.AppSupervisor = a.sup

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)
	if err := a.validate(ctx, a.cfgm.Get()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.incoming); err != nil {
		return err
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *Supervisor }); ok {
		if sup := sp.Supervisor(); sup != nil {
			a.serv.RuntimeSupervisors.Set("telegram.adapter", sup)
		}
	}

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("directory.persist", a.dir.Run)
	a.sup.Go0("updates.fanout", a.fanout)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.routed)
	})

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
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started")
	return nil
}

// fanout feeds every incoming message to the reply inbox and the user
// directory before handing it to the command router. A DM that answers a
// survey can therefore also be a command.
func (a *App) fanout(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.incoming:
			if up.Message == nil {
				continue
			}
			msg := *up.Message
			if n := a.inbox.Offer(msg); n > 0 {
				a.log.Debug("reply delivered", logx.Int64("from_id", msg.FromID), logx.Int("waiters", n))
			}
			a.dir.Observe(ctx, msg.FromID, msg.FromUsername, msg.FromName)
			select {
			case a.routed <- up:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs, pluginChanged := SummarizeConfigChange(prev, next)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
		if len(pluginChanged) > 0 {
			a.log.Debug("plugin config changes detected", logx.Strs("plugins", pluginChanged))
		}
	}
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			if prev != nil && prev.Telegram.Token != next.Telegram.Token {
				a.log.Warn("telegram token changed; restart required for changes to take effect")
			}
		}
	}

	// Target first so Apply doesn't warn when Telegram logging is enabled.
	a.logs.SetTelegramTarget(next.Telegram.GroupLogID(), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	if err := a.gemini.apply(next); err != nil {
		a.log.Warn("invalid gemini config; keeping previous", logx.Err(err))
	}
	if err := a.speech.apply(next); err != nil {
		a.log.Warn("invalid speech config; keeping previous", logx.Err(err))
	}

	a.pm.OnConfigUpdate(ctx, next)

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	} else {
		a.log.Info("config applied (no changes)")
	}
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Time: time.Now(), Data: sections})
	}
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Unwind background loops first. Surveys still waiting see their
	// context end and report the remaining recipients as unreachable.
	a.sup.Cancel()

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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("inbox", time.Second, func(context.Context) error { a.inbox.Close(); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
