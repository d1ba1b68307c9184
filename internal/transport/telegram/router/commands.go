package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"huddlebot/internal/config"
	"huddlebot/internal/directory"
	"huddlebot/internal/eventbus"
	"huddlebot/internal/runtime/supervisor"
	"huddlebot/internal/storage"
	"huddlebot/internal/survey"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/inbox"
	logx "huddlebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // overrides router.command_timeout when > 0
	Handle     HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string

	// Tail is the text after the command word, untouched.
	Tail string
	// Args is Tail split on whitespace with quote support. When the quotes
	// do not balance, ArgsErr is set and Args holds plain fields.
	Args    []string
	ArgsErr error
	ReqID   string

	Adapter  kit.Adapter
	Config   *Config
	Logger   logx.Logger
	Services *Services
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
}

// Services are the shared collaborators handed to every command. Fields may
// be nil in tests or when a feature is not configured.
type Services struct {
	Surveys     *survey.Dispatcher
	Inbox       *inbox.Inbox
	Directory   *directory.Directory
	Generator   survey.Generator
	Synthesizer survey.Synthesizer
	Bus         eventbus.Bus
	Store       storage.Store
	Plugins     PluginsPort

	// AppSupervisor is set by the app once started.
	AppSupervisor *Supervisor
	// RuntimeSupervisors exposes subsystem supervisors for /health.
	RuntimeSupervisors *SupervisorRegistry
}

// PluginStatus is the runtime state of one registered plugin.
type PluginStatus struct {
	Name    string
	Enabled bool
	Running bool
	LastErr string
}

// PluginsPort exposes plugin state without importing the plugin package.
type PluginsPort interface {
	Snapshot() []PluginStatus
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager
	serv    *Services

	runMu   sync.Mutex
	running bool
	sup     *Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, serv *Services) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if serv == nil {
		serv = &Services{}
	}
	queue := config.DefaultRouterQueue
	if cfg := cfgm.Get(); cfg != nil {
		queue = cfg.Router.QueueSizeOrDefault()
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		serv:    serv,
		jobs:    make(chan func(), queue),
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue never blocks and tolerates a closed jobs channel.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "Displays a list of all available commands and their usage.",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(req.Args), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	}
	cmds = append(cmds, helper)

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name), logx.String("plugin", c.PluginName))
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		list = append(list, cc)
	}
	// Aliases never shadow a real command name.
	for _, c := range byName {
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, taken := byName[a]; taken {
				continue
			}
			alias[a] = c
		}
		if menu := sanitizeTelegramCommand(c.Name); menu != "" && menu != c.Name {
			if _, taken := byName[menu]; !taken {
				alias[menu] = c
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildTelegramMenuCommands(list)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("telegram menu update failed", logx.Err(err))
		}
	}
	if m.serv.AppSupervisor != nil {
		m.serv.AppSupervisor.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

// Lookup resolves a command name or alias.
func (m *CommandManager) Lookup(word string) (Command, bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return *c, true
	}
	if c, ok := m.alias[word]; ok {
		return *c, true
	}
	return Command{}, false
}

func (m *CommandManager) snapshot() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, *c)
	}
	return out
}

func (m *CommandManager) workers() int {
	if cfg := m.cfgm.Get(); cfg != nil {
		return cfg.Router.WorkersOrDefault()
	}
	return config.DefaultRouterWorkers
}

// DispatchLoop routes updates until ctx ends or updates is closed. Commands
// run on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.workers()
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.serv.RuntimeSupervisors.Set("telegram.router", sup)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.serv.RuntimeSupervisors.Delete("telegram.router")
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, *up.Message)
			}
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeMessage(ctx context.Context, msg kit.Message) {
	word, tail, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := m.Lookup(word)
	if !ok {
		_, _ = m.adapter.SendText(ctx, chat, "unknown command. try /help", nil)
		return
	}

	cfg := m.cfgm.Get()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, cfg) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	args, argsErr := TokenizeArgs(tail)
	if argsErr != nil {
		args = strings.Fields(tail)
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Tail:    tail,
		Args:    args,
		ArgsErr: argsErr,
		ReqID:   rid,
		Adapter: m.adapter,
		Config:  cfg,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		Services: m.serv,
	}

	timeout := cmd.Timeout
	if timeout <= 0 && cfg != nil {
		timeout, _ = cfg.Router.CommandTimeoutOrDefault()
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

func isOwner(id int64, cfg *Config) bool {
	if cfg == nil {
		return false
	}
	for _, o := range cfg.Telegram.OwnerUserIDs {
		if o == id {
			return true
		}
	}
	return false
}
