package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"huddlebot/internal/eventbus"
	"huddlebot/internal/runtime/lifecycle"
	"huddlebot/internal/storage"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/telegram/router"
	logx "huddlebot/pkg/logx"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin receives its raw config block before Start and on
// every change while running.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type PluginDeps struct {
	Logger   logx.Logger
	Adapter  kit.Adapter
	Config   *ConfigManager
	Services *Services
	Bus      eventbus.Bus
	Store    storage.Store
}

type Status = router.PluginStatus

// PluginManager starts, stops and reconfigures plugins to match the config
// and keeps the router registry in sync with the running set.
type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps PluginDeps
	cmdm *CommandManager

	reg     map[string]Plugin
	run     map[string]bool
	inited  map[string]bool
	rawHash map[string]uint64
	lastErr map[string]string
	pcancel map[string]context.CancelFunc

	// baseCtx outlives the call-scoped contexts passed to StartAll and
	// OnConfigUpdate; BindContext ties it to the app.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool
}

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:        log,
		cfgm:       cfgm,
		deps:       deps,
		cmdm:       cmdm,
		reg:        map[string]Plugin{},
		run:        map[string]bool{},
		inited:     map[string]bool{},
		rawHash:    map[string]uint64{},
		lastErr:    map[string]string{},
		pcancel:    map[string]context.CancelFunc{},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

func (pm *PluginManager) emit(stage string, data pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	data.Stage = stage
	pm.deps.Bus.Publish(eventbus.Event{Type: eventbus.PluginsReconciled, Time: time.Now(), Data: data})
}

// BindContext cancels every plugin context when appCtx ends. The first
// non-nil bind wins.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	go func() {
		select {
		case <-appCtx.Done():
			baseCancel()
		case <-pm.baseCtx.Done():
		}
	}()
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	for _, name := range pm.names() {
		pm.stopOne(ctx, name, reason)
	}
	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
	pm.baseCancel()
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	if err := pm.reconcile(cfg); err != nil {
		pm.log.Warn("plugin reconcile failed", logx.Err(err))
	}
}

func (pm *PluginManager) names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateConfig checks plugin config blocks without applying them. It is
// meant to be installed as the config manager's validator.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	pm.mu.Lock()
	reg := make(map[string]Plugin, len(pm.reg))
	for k, v := range pm.reg {
		reg[k] = v
	}
	pm.mu.Unlock()

	for name, raw := range cfg.Plugins {
		p, ok := reg[name]
		if !ok {
			pm.log.Warn("config names an unknown plugin", logx.String("plugin", name))
			continue
		}
		if !raw.Enabled {
			continue
		}
		v, ok := p.(ConfigValidator)
		if !ok {
			continue
		}
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(ctx, raw.Config) })
		if err != nil {
			return fmt.Errorf("plugins.%s: %w", name, err)
		}
	}
	return nil
}

const callTimeout = 10 * time.Second

func (pm *PluginManager) reconcile(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	for _, name := range pm.names() {
		raw, ok := cfg.Plugins[name]
		enabled := ok && raw.Enabled
		h := canonicalHashJSON(raw.Config)

		pm.mu.Lock()
		p := pm.reg[name]
		running := pm.run[name]
		oldHash := pm.rawHash[name]
		pm.mu.Unlock()

		switch {
		case enabled && !running:
			pm.start(name, p, raw, h)
		case !enabled && running:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, name, lifecycle.StopPluginDisable)
			cancel()
		case enabled && running && h != oldHash:
			pm.reconfigure(name, p, raw, h)
		}
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
	return nil
}

func (pm *PluginManager) fail(name, stage string, err error) {
	pm.mu.Lock()
	pm.lastErr[name] = err.Error()
	pm.mu.Unlock()
	pm.log.Error("plugin "+stage+" failed", logx.String("plugin", name), logx.Err(err))
	pm.emit(stage+"_failed", pluginEvent{Plugin: name, Err: err.Error()})
}

func (pm *PluginManager) start(name string, p Plugin, raw PluginConfigRaw, h uint64) {
	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	pm.mu.Unlock()
	// Init runs once per process, not on every enable.
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, pm.deps) })
		icancel()
		if err != nil {
			cancel()
			pm.fail(name, "init", err)
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		ccancel()
		if err != nil {
			cancel()
			pm.fail(name, "validate", err)
			return
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			cancel()
			pm.fail(name, "config", err)
			return
		}
	}
	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		cancel()
		pm.fail(name, "start", err)
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pcancel[name] = cancel
	pm.rawHash[name] = h
	delete(pm.lastErr, name)
	pm.mu.Unlock()
	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit("started", pluginEvent{Plugin: name})
}

// reconfigure hands a changed config block to a running plugin. A plugin
// that rejects its new config is stopped.
func (pm *PluginManager) reconfigure(name string, p Plugin, raw PluginConfigRaw, h uint64) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		pm.mu.Lock()
		pm.rawHash[name] = h
		pm.mu.Unlock()
		return
	}
	cctx, ccancel := context.WithTimeout(pm.baseCtx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error {
		if v, ok := p.(ConfigValidator); ok {
			if err := v.ValidateConfig(cctx, raw.Config); err != nil {
				return err
			}
		}
		return cp.OnConfigChange(cctx, raw.Config)
	})
	ccancel()
	if err != nil {
		pm.fail(name, "config", err)
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, lifecycle.StopPluginFailed)
		cancel()
		return
	}
	pm.mu.Lock()
	pm.rawHash[name] = h
	pm.mu.Unlock()
	pm.log.Info("plugin config applied", logx.String("plugin", name))
	pm.emit("config_applied", pluginEvent{Plugin: name})
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}
	// A misbehaving Stop must not block shutdown.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pcancel, name)
	delete(pm.rawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
	pm.emit("stopped", pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
}

// startWithTimeout bounds Start. On timeout the plugin context is canceled
// and Start gets a short grace period to return.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
	}
	cancel()
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("start timeout (%s): %w", timeout, err)
		}
		return fmt.Errorf("start timeout (%s)", timeout)
	case <-grace.C:
		return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *PluginManager) refreshRegistryLocked(cfg *Config) {
	var cmds []Command
	for name, p := range pm.reg {
		if !pm.run[name] {
			continue
		}
		if cfg != nil {
			if raw, ok := cfg.Plugins[name]; !ok || !raw.Enabled {
				continue
			}
		}
		var list []Command
		err := pm.safeCall("plugin.commands."+name, func() error {
			list = p.Commands()
			return nil
		})
		if err != nil {
			continue
		}
		for _, c := range list {
			c.PluginName = name
			cmds = append(cmds, c)
		}
	}
	if pm.cmdm != nil {
		pm.cmdm.SetRegistry(cmds)
	}
}

// Snapshot lists registered plugins sorted by name.
func (pm *PluginManager) Snapshot() []Status {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Status, 0, len(pm.reg))
	for name := range pm.reg {
		st := Status{Name: name, Running: pm.run[name], LastErr: pm.lastErr[name]}
		if cfg != nil {
			st.Enabled = cfg.Plugins[name].Enabled
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
