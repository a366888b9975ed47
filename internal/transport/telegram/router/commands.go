package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crouswatch/internal/ops"
	rtsup "crouswatch/internal/runtime/supervisor"
	"crouswatch/internal/storage"
	kit "crouswatch/internal/transport"
	"crouswatch/internal/watch"
	logx "crouswatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Ops is what operator commands act on.
type Ops interface {
	Status() ops.Status
	Listings() watch.Snapshot
	Check(ctx context.Context, who ops.Actor) (watch.Report, error)
	Reset(ctx context.Context, who ops.Actor) (int, error)
	Deliveries(ctx context.Context, limit int) ([]storage.Delivery, error)
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	ReqID    string
	Logger   logx.Logger
}

// Actor is the ops identity of the requester.
func (r *Request) Actor() ops.Actor {
	return ops.Actor{Source: "telegram", ID: r.FromID, Name: r.FromName}
}

// CommandManager routes inbound text commands to handlers on a small
// worker pool. Commands are ignored unless they start with "/".
type CommandManager struct {
	log    logx.Logger
	sender kit.Sender
	ops    Ops

	mu       sync.RWMutex
	commands map[string]*Command
	alias    map[string]*Command
	owners   []int64

	runMu   sync.Mutex
	running bool

	jobs chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, o Ops, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		ops:    o,
		owners: append([]int64(nil), owners...),
		jobs:   make(chan func(), 64),
	}
	m.SetRegistry(m.builtinCommands())
	return m
}

// SetOwners updates the owner list. Safe to call during hot reload.
// An empty list makes owner-only commands available to everyone.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetRegistry replaces the command table. /help is always present.
func (m *CommandManager) SetRegistry(cmds []Command) {
	table := map[string]*Command{}
	alias := map[string]*Command{}
	for _, c := range append(cmds, m.helpCommand()) {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && !strings.Contains(a, " ") {
				alias[a] = &cc
			}
		}
	}
	m.mu.Lock()
	m.commands = table
	m.alias = alias
	m.mu.Unlock()
}

// MenuCommands lists the registered commands for the Telegram "/" menu.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.menuLocked()
}

func (m *CommandManager) menuLocked() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(m.commands))
	for _, c := range m.commands {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	slices.SortFunc(out, func(a, b kit.BotCommand) int { return strings.Compare(a.Command, b.Command) })
	return out
}

// Running reports whether DispatchLoop is active.
func (m *CommandManager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *CommandManager) setRunning(running bool) {
	m.runMu.Lock()
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue reports false when the queue is full.
func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	const workers = 2
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setRunning(true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

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
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setRunning(false)
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
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	parts := strings.Fields(msg.Text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, ok := m.commands[word]
	if !ok {
		cmd, ok = m.alias[word]
	}
	m.mu.RUnlock()
	if !ok {
		m.reply(ctx, chat, "Commande inconnue. Essayez /help")
		return
	}

	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		m.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		m.reply(ctx, chat, "⛔ Commande réservée au propriétaire du bot.")
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:   up,
		Chat:     chat,
		FromID:   msg.FromID,
		FromName: msg.FromUsername,
		Command:  cmd.Name,
		Args:     parts[1:],
		ReqID:    rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.reply(ctx, chat, "Occupé, réessayez dans un instant.")
	}
}

func (m *CommandManager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.sender.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func isOwner(id int64, owners []int64) bool {
	if len(owners) == 0 {
		return true
	}
	return slices.Contains(owners, id)
}
