package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	kit "venuebot/internal/transport"
	"venuebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "ping"
	//   "venue check"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["venue_check", "vc"]
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens
	Command string   // convenience (route)
	Args    []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter     kit.Adapter
	Config      *Config
	Logger      logx.Logger
	Services    *Services
	OwnerUserID []int64
}

type Services struct {
	Scheduler SchedulerPort
	Notifier  NotifierPort
	Storage   StoragePort
}

type SchedulerPort interface {
	Enabled() bool
	Snapshot() Snapshot

	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)

	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error)

	AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddIntervalOpt(name string, every time.Duration, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error)

	AddDaily(name string, at string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddDailyOpt(name string, at string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error)

	Remove(name string) bool
}

type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
	Snapshot() []NotificationRecord
}

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager
	serv    *Services

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, serv *Services, owners []int64) *CommandManager {
	// copy to avoid callers mutating the slice after construction
	ownCopy := append([]int64(nil), owners...)
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		serv:    serv,
		owners:  ownCopy,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	// copy to avoid external mutation
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	// always inject help
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			text := m.helpText(req.Args)
			_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
			return nil
		},
	}
	cmds = append(cmds, helper)

	reload := Command{
		Route:       "reload",
		Description: "reload config from disk",
		Usage:       "/reload",
		Access:      AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			if _, err := m.cfgm.Reload(ctx); err != nil {
				_, _ = req.Adapter.SendText(ctx, req.Chat, "config reload failed: "+err.Error(), nil)
				return nil
			}
			_, _ = req.Adapter.SendText(ctx, req.Chat, "config reloaded", nil)
			return nil
		},
	}
	cmds = append(cmds, reload)

	status := Command{
		Route:       "status",
		Description: "scheduler and notifier status",
		Usage:       "/status",
		Access:      AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			var snap Snapshot
			if m.serv != nil && m.serv.Scheduler != nil {
				snap = m.serv.Scheduler.Snapshot()
			}
			var notes []NotificationRecord
			if m.serv != nil && m.serv.Notifier != nil {
				notes = m.serv.Notifier.Snapshot()
			}
			_, _ = req.Adapter.SendText(ctx, req.Chat, statusText(snap, notes), &kit.SendOptions{DisablePreview: true})
			return nil
		},
	}
	cmds = append(cmds, status)

	root := newRoot()
	alias := map[string]*cmdNode{}

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		cc := c // copy
		root.add(route, cc)

		leaf := root.find(route)
		// auto alias for multi-token routes: "a b" -> "a_b" (useful for Telegram menu shortcuts)
		if len(route) > 1 {
			auto := strings.Join(route, "_")
			if _, exists := alias[auto]; !exists {
				alias[auto] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	// bounded worker pool
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)

	closeJobs := func() {
		closeOnce.Do(func() {
			close(m.jobs)
		})
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			m.log.Debug("command worker started", logx.Int("worker", idx))
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
				m.log.Debug("command worker stopped", logx.Int("worker", idx))
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job == nil {
						continue
					}
					job()
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind == kit.UpdateMessage {
		m.routeMessage(root, up)
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := []string{}
	if len(parts) > 1 {
		args = parts[1:]
	}

	// snapshot registry
	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	// alias as root-level shortcut
	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		pos, flags, bools := parseFlags(args)
		m.enqueueCommand(root, up, cmd, splitRoute(cmd.Route), pos, args, flags, bools)
		return
	}

	// traverse subcommand tree
	cur, ok := rootNode.child(word)
	if !ok {
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "unknown command. try /help", nil)
		return
	}
	path := []string{word}
	for len(args) > 0 {
		nxt := args[0]
		if strings.HasPrefix(nxt, "-") { // flags start, stop subcommand traversal
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, nxt)
		args = args[1:]
	}

	// If container node without handler: show help for that path
	if cur.cmd == nil {
		txt := m.helpText(path)
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, txt, &kit.SendOptions{DisablePreview: true})
		return
	}

	cmd := *cur.cmd
	pos, flags, bools := parseFlags(args)
	m.enqueueCommand(root, up, cmd, path, pos, args, flags, bools)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, args []string, raw []string, flags map[string]string, bools map[string]bool) {
	msg := up.Message
	if msg == nil {
		return
	}

	owners := m.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "unauthorized", nil)
		return
	}

	rid := newReqID()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)

	req := &Request{
		Update:      up,
		Chat:        kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:      msg.FromID,
		Path:        path,
		Command:     cmd.Route,
		Args:        args,
		RawArgs:     raw,
		Flags:       flags,
		BoolFlags:   bools,
		ReqID:       rid,
		Adapter:     m.adapter,
		Config:      m.cfgm.Get(),
		Logger:      reqLog,
		Services:    m.serv,
		OwnerUserID: owners,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = m.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
