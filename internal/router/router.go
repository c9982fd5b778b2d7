// Package router dispatches inbound chat messages to registered bot commands.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	kit "github.com/runasharp/telegram-hotel-bot/internal/transport"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

// Request carries everything a command handler needs.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends a plain text response to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Timeout bounds one invocation; zero means the manager default.
	Timeout time.Duration
	Handle  HandlerFunc
}

const defaultCommandTimeout = 30 * time.Second

// Manager routes updates from the adapter to command handlers using a small
// worker pool.
type Manager struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int

	mu       sync.RWMutex
	commands map[string]*Command // includes aliases
	names    []string            // canonical names, registration order
	fallback HandlerFunc

	reqSeq uint64
}

func NewManager(adapter kit.Adapter, workers int, log logx.Logger) *Manager {
	if workers <= 0 {
		workers = 4
	}
	return &Manager{
		log:      log.With(logx.String("svc", "router")),
		adapter:  adapter,
		workers:  workers,
		commands: make(map[string]*Command),
	}
}

// Register adds commands; re-registering a name replaces it.
func (m *Manager) Register(cmds ...Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range cmds {
		c := cmds[i]
		if c.Name == "" || c.Handle == nil {
			return fmt.Errorf("router: command needs name and handler")
		}
		key := strings.ToLower(c.Name)
		if _, exists := m.commands[key]; !exists {
			m.names = append(m.names, key)
		}
		m.commands[key] = &c
		for _, a := range c.Aliases {
			m.commands[strings.ToLower(a)] = &c
		}
	}
	return nil
}

// SetFallback handles plain-text messages that are not commands.
func (m *Manager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// MenuCommands returns the canonical command list for the platform menu.
func (m *Manager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]kit.BotCommand, 0, len(m.names))
	for _, name := range m.names {
		c := m.commands[name]
		out = append(out, kit.BotCommand{Name: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublishMenu pushes the command list to the platform if the adapter
// supports it.
func (m *Manager) PublishMenu(ctx context.Context) {
	upd, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	if err := upd.UpdateMenuCommands(ctx, m.MenuCommands()); err != nil {
		m.log.Warn("command menu update failed", logx.Err(err))
	}
}

// DispatchLoop consumes updates until the channel closes or ctx is done.
// Handlers run on a bounded worker pool so one slow command cannot stall
// the rest.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) {
	jobs := make(chan kit.Update)

	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				m.handleUpdate(ctx, u)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case u, ok := <-updates:
			if !ok {
				close(jobs)
				wg.Wait()
				return
			}
			select {
			case jobs <- u:
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return
			}
		}
	}
}

func (m *Manager) handleUpdate(ctx context.Context, u kit.Update) {
	if u.Kind != kit.UpdateMessage || u.Message == nil {
		return
	}
	msg := u.Message

	m.mu.Lock()
	m.reqSeq++
	reqID := fmt.Sprintf("r%06d", m.reqSeq)
	m.mu.Unlock()

	req := &Request{
		Update:  u,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		FromID:  msg.FromID,
		ReqID:   reqID,
		Adapter: m.adapter,
		Logger:  m.log.With(logx.String("req", reqID), logx.Int64("chat", msg.ChatID)),
	}

	name, args, isCommand := splitCommand(msg.Text)

	var handler HandlerFunc
	var timeout time.Duration

	if isCommand {
		m.mu.RLock()
		cmd := m.commands[name]
		m.mu.RUnlock()
		if cmd == nil {
			m.replyUnknown(ctx, req, name)
			return
		}
		req.Command = cmd.Name
		req.Args = args
		handler = cmd.Handle
		timeout = cmd.Timeout
	} else {
		m.mu.RLock()
		handler = m.fallback
		m.mu.RUnlock()
		if handler == nil {
			return
		}
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			req.Logger.Error("command handler panic",
				logx.String("command", req.Command),
				logx.Any("panic", r))
		}
	}()

	err := handler(cctx, req)
	took := time.Since(start)
	if err != nil {
		req.Logger.Warn("command failed",
			logx.String("command", req.Command),
			logx.Duration("took", took),
			logx.Err(err))
		return
	}
	req.Logger.Debug("command handled",
		logx.String("command", req.Command),
		logx.Duration("took", took))
}

func (m *Manager) replyUnknown(ctx context.Context, req *Request, name string) {
	req.Logger.Debug("unknown command", logx.String("command", name))
	_ = req.Reply(ctx, "Unknown command. Use /help to see what I can do.")
}

// splitCommand parses "/seturl@MyBot 1 https://..." into ("seturl", args, true).
func splitCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
