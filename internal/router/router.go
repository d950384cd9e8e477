// Package router maps inbound platform updates onto command handlers.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	kit "gatebot/internal/transport"
	logx "gatebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string // without leading slash, e.g. "start"
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	Text         string // full message text

	Adapter kit.Adapter
	Logger  logx.Logger
}

const (
	defaultTimeout = 30 * time.Second

	deniedText = "You are not authorized to use this command."
	errorText  = "Something went wrong. Please try again later."
)

// Manager dispatches updates to registered commands. Free text that matches
// no command goes to the fallback handler (used for the broadcast dialogue).
type Manager struct {
	mu       sync.RWMutex
	cmds     map[string]Command
	fallback HandlerFunc

	authorize func(user int64) bool
	adapter   kit.Adapter
	log       logx.Logger
}

func NewManager(adapter kit.Adapter, authorize func(user int64) bool, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if authorize == nil {
		authorize = func(int64) bool { return false }
	}
	return &Manager{
		cmds:      make(map[string]Command),
		authorize: authorize,
		adapter:   adapter,
		log:       log,
	}
}

func (m *Manager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m.cmds[name] = c
	}
}

// SetFallback installs the handler for non-command text messages.
func (m *Manager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// Dispatch handles one update end to end. It never returns an error to the
// event loop; every failure path ends in a logged text reply.
func (m *Manager) Dispatch(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Text:         msg.Text,
		Adapter:      m.adapter,
		Logger:       m.log,
	}

	name, args, isCommand := parseCommand(msg.Text)

	var (
		handler HandlerFunc
		timeout = defaultTimeout
	)
	if isCommand {
		m.mu.RLock()
		cmd, ok := m.cmds[name]
		m.mu.RUnlock()
		if !ok {
			// Unknown commands are ignored, same as stray group chatter.
			return
		}
		req.Command = name
		req.Args = args
		if cmd.Access == AccessAdminOnly && !m.authorize(req.FromID) {
			m.log.Warn("unauthorized command", logx.String("cmd", name), logx.Int64("from_id", req.FromID))
			_, _ = m.adapter.SendText(ctx, req.Chat, deniedText, nil)
			return
		}
		handler = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	} else {
		m.mu.RLock()
		handler = m.fallback
		m.mu.RUnlock()
		if handler == nil {
			return
		}
		req.Command = "(text)"
	}

	h := Chain(handler,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if err := h(ctx, req); err != nil {
		_, _ = m.adapter.SendText(ctx, req.Chat, errorText, nil)
	}
}

// Commands returns the registered command list, for the platform menu.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	return out
}

// parseCommand splits "/cmd@botname arg1 arg2" into its parts.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
