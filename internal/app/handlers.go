package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/membership"
	"gatebot/internal/registry"
	"gatebot/internal/router"
	logx "gatebot/pkg/logx"
	"gatebot/pkg/tgui"
)

// pendingTTL bounds the broadcast dialogue: an admin who opened it but never
// sent a body has this long before the next free-text message is treated as
// ordinary chatter again.
const pendingTTL = 2 * time.Minute

type handlers struct {
	reg      *registry.Registry
	verifier *membership.Verifier
	engine   *broadcast.Engine
	gate     config.GateConfig
	log      logx.Logger

	mu      sync.Mutex
	pending map[int64]time.Time // admin id -> broadcast dialogue opened at
}

func newHandlers(reg *registry.Registry, verifier *membership.Verifier, engine *broadcast.Engine, gate config.GateConfig, log logx.Logger) *handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &handlers{
		reg:      reg,
		verifier: verifier,
		engine:   engine,
		gate:     gate,
		log:      log,
		pending:  make(map[int64]time.Time),
	}
}

func (h *handlers) commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "check channel membership and get access",
			Access:      router.AccessEveryone,
			Handle:      h.handleStart,
		},
		{
			Name:        "count",
			Description: "how many users the bot knows",
			Access:      router.AccessEveryone,
			Handle:      h.handleCount,
		},
		{
			Name:        "broadcast",
			Description: "send a message to all registered users",
			Access:      router.AccessAdminOnly,
			// Fan-out to a large registry can take a while.
			Timeout: 10 * time.Minute,
			Handle:  h.handleBroadcast,
		},
	}
}

func (h *handlers) handleStart(ctx context.Context, req *router.Request) error {
	h.log.Info("start command", logx.Int64("user", req.FromID), logx.String("username", req.FromUsername))

	// Persistence failures are logged inside the registry; the user still
	// gets their membership check.
	_, _ = h.reg.Record(ctx, req.FromID)

	verdict := h.verifier.Check(ctx, req.FromID)
	var msg tgui.Message
	switch verdict.State {
	case membership.Granted:
		msg = h.grantedMessage()
	case membership.Unverifiable:
		msg = tgui.Message{Text: fmt.Sprintf(
			"Could not verify membership in %s. Please ensure the bot has the correct permissions.",
			verdict.Channel)}
	default:
		msg = h.joinMessage(req.FromUsername)
	}
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *handlers) grantedMessage() tgui.Message {
	kb := tgui.NewInline()
	for _, l := range h.gate.AccessLinks {
		kb.Row(tgui.URLBtn(l.Title, l.URL))
	}
	return tgui.New().
		Line("You have successfully joined all required channels.").
		Line("To run the bot, click one of the buttons below 👇🏻").
		Line("Please choose the servers randomly 👍🏻").
		Inline(kb).
		Build()
}

func (h *handlers) joinMessage(username string) tgui.Message {
	kb := tgui.NewInline()
	for _, ch := range h.gate.Channels {
		title := ch.Title
		if title == "" {
			title = ch.Handle
		}
		url := ch.URL
		if url == "" {
			url = "https://t.me/" + strings.TrimPrefix(ch.Handle, "@")
		}
		kb.Row(tgui.URLBtn(title, url))
	}
	name := username
	if name == "" {
		name = "friend"
	}
	return tgui.New().
		Line(fmt.Sprintf("Peace be upon you, my friend @%s", name)).
		Line("Welcome to the bot 🫱🏻‍🫲🏻").
		Blank().
		Line(fmt.Sprintf("You must join these %d channels to use the bot 👇🏻", len(h.gate.Channels))).
		Line("Then use /start to get the bot.").
		Inline(kb).
		Build()
}

func (h *handlers) handleCount(ctx context.Context, req *router.Request) error {
	text := fmt.Sprintf("There are currently %d users in the bot.", h.reg.Count())
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

// handleBroadcast accepts the body inline (/broadcast some text) or opens a
// short-lived dialogue whose next text message is the body.
func (h *handlers) handleBroadcast(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 0 {
		return h.runBroadcast(ctx, req, strings.Join(req.Args, " "))
	}

	h.mu.Lock()
	h.pending[req.FromID] = time.Now()
	h.mu.Unlock()

	_, err := req.Adapter.SendText(ctx, req.Chat, "Please provide the message you would like to broadcast.", nil)
	return err
}

// fallback consumes the follow-up message of an open broadcast dialogue.
// Any other free text is ignored.
func (h *handlers) fallback(ctx context.Context, req *router.Request) error {
	h.mu.Lock()
	opened, ok := h.pending[req.FromID]
	if ok {
		delete(h.pending, req.FromID)
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}
	if time.Since(opened) > pendingTTL {
		h.log.Debug("broadcast dialogue expired", logx.Int64("admin", req.FromID))
		return nil
	}
	return h.runBroadcast(ctx, req, req.Text)
}

func (h *handlers) runBroadcast(ctx context.Context, req *router.Request, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Broadcast message is empty; nothing sent.", nil)
		return err
	}

	recipients := h.reg.Snapshot()
	h.log.Info("broadcast requested",
		logx.Int64("admin", req.FromID), logx.Int("recipients", len(recipients)))

	out := h.engine.Send(ctx, body, recipients)

	summary := fmt.Sprintf(
		"Broadcast complete.\nSuccessful: %d\nFailed: %d\nUsers removed: %d",
		out.Successful, out.Failed, len(out.Removed))
	_, err := req.Adapter.SendText(ctx, req.Chat, summary, nil)
	return err
}
