package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gatebot/internal/access"
	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/membership"
	"gatebot/internal/registry"
	"gatebot/internal/router"
	kit "gatebot/internal/transport"
	logx "gatebot/pkg/logx"
)

// fakeAdapter stands in for the Telegram platform: scripted membership
// statuses, scripted delivery failures, recorded sends.
type fakeAdapter struct {
	status    map[string]kit.MemberStatus
	statusErr map[string]error
	failSend  map[int64]bool

	sent []sentMsg
}

type sentMsg struct {
	chatID int64
	text   string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.failSend[to.ChatID] {
		return kit.MessageRef{}, fmt.Errorf("forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) MemberOf(ctx context.Context, channel string, user int64) (kit.MemberStatus, error) {
	if err := f.statusErr[channel]; err != nil {
		return kit.StatusUnknown, err
	}
	st, ok := f.status[channel]
	if !ok {
		st = kit.StatusLeft
	}
	return st, nil
}

type memStore struct{ ids []int64 }

func (s *memStore) Load(ctx context.Context) ([]int64, bool, error) { return s.ids, s.ids != nil, nil }
func (s *memStore) Replace(ctx context.Context, ids []int64) error {
	s.ids = append([]int64(nil), ids...)
	return nil
}
func (s *memStore) Close() error { return nil }

type fixture struct {
	adapter *fakeAdapter
	reg     *registry.Registry
	routes  *router.Manager
}

func newFixture(t *testing.T, ad *fakeAdapter, seed []int64, admins []int64) *fixture {
	t.Helper()
	store := &memStore{}
	if seed != nil {
		store.ids = append([]int64(nil), seed...)
	}
	reg := registry.New(store, logx.Nop())
	reg.Load(context.Background())

	gate := config.GateConfig{
		Channels: []config.ChannelConfig{
			{Handle: "@news", Title: "News", URL: "https://t.me/news"},
			{Handle: "@crypto", Title: "Crypto", URL: "https://t.me/crypto"},
		},
		AccessLinks: []config.LinkConfig{{Title: "Server 1", URL: "https://t.me/example/app"}},
	}
	verifier := membership.New(ad, []string{"@news", "@crypto"}, logx.Nop())
	engine := broadcast.New(ad, reg, logx.Nop())
	h := newHandlers(reg, verifier, engine, gate, logx.Nop())

	guard := access.New(admins)
	routes := router.NewManager(ad, guard.Authorize, logx.Nop())
	routes.Register(h.commands()...)
	routes.SetFallback(h.fallback)

	return &fixture{adapter: ad, reg: reg, routes: routes}
}

func update(from int64, username, text string) kit.Update {
	return kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: from, FromID: from, FromUsername: username, Text: text},
	}
}

func lastSentTo(f *fakeAdapter, chatID int64) string {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chatID == chatID {
			return f.sent[i].text
		}
	}
	return ""
}

func TestStartGrantsAccessWhenAllJoined(t *testing.T) {
	ad := &fakeAdapter{status: map[string]kit.MemberStatus{
		"@news":   kit.StatusMember,
		"@crypto": kit.StatusMember,
	}}
	fx := newFixture(t, ad, nil, nil)

	fx.routes.Dispatch(context.Background(), update(1001, "alice", "/start"))

	if !fx.reg.Contains(1001) {
		t.Fatalf("user not recorded in registry")
	}
	got := lastSentTo(ad, 1001)
	if !strings.Contains(got, "successfully joined") {
		t.Fatalf("expected granted response, got %q", got)
	}
}

func TestStartPromptsJoinWhenNotMember(t *testing.T) {
	ad := &fakeAdapter{status: map[string]kit.MemberStatus{
		"@news":   kit.StatusLeft,
		"@crypto": kit.StatusMember,
	}}
	fx := newFixture(t, ad, nil, nil)

	fx.routes.Dispatch(context.Background(), update(1001, "alice", "/start"))

	if !fx.reg.Contains(1001) {
		t.Fatalf("user must be recorded even when denied")
	}
	got := lastSentTo(ad, 1001)
	if !strings.Contains(got, "You must join") {
		t.Fatalf("expected join prompt, got %q", got)
	}
}

func TestStartReportsUnverifiableChannel(t *testing.T) {
	ad := &fakeAdapter{
		statusErr: map[string]error{"@news": fmt.Errorf("chat not found")},
	}
	fx := newFixture(t, ad, nil, nil)

	fx.routes.Dispatch(context.Background(), update(1001, "alice", "/start"))

	got := lastSentTo(ad, 1001)
	if !strings.Contains(got, "Could not verify membership in @news") {
		t.Fatalf("expected unverifiable response, got %q", got)
	}
}

func TestCountReportsRegistrySize(t *testing.T) {
	ad := &fakeAdapter{}
	fx := newFixture(t, ad, []int64{1, 2, 3}, nil)

	fx.routes.Dispatch(context.Background(), update(9, "bob", "/count"))

	got := lastSentTo(ad, 9)
	if !strings.Contains(got, "3 users") {
		t.Fatalf("expected count reply, got %q", got)
	}
}

func TestBroadcastInlineWithFailure(t *testing.T) {
	ad := &fakeAdapter{failSend: map[int64]bool{1002: true}}
	admin := int64(42)
	fx := newFixture(t, ad, []int64{1001, 1002, 1003}, []int64{admin})

	fx.routes.Dispatch(context.Background(), update(admin, "root", "/broadcast hello"))

	summary := lastSentTo(ad, admin)
	for _, want := range []string{"Successful: 2", "Failed: 1", "Users removed: 1"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q: %q", want, summary)
		}
	}
	if fx.reg.Contains(1002) {
		t.Fatalf("unreachable user not evicted")
	}
	if !fx.reg.Contains(1001) || !fx.reg.Contains(1003) {
		t.Fatalf("reachable users must remain, got %v", fx.reg.Snapshot())
	}
	delivered := 0
	for _, s := range ad.sent {
		if s.text == "hello" {
			delivered++
		}
	}
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
}

func TestBroadcastDialogue(t *testing.T) {
	ad := &fakeAdapter{}
	admin := int64(42)
	fx := newFixture(t, ad, []int64{1001}, []int64{admin})

	fx.routes.Dispatch(context.Background(), update(admin, "root", "/broadcast"))
	if got := lastSentTo(ad, admin); !strings.Contains(got, "provide the message") {
		t.Fatalf("expected dialogue prompt, got %q", got)
	}

	fx.routes.Dispatch(context.Background(), update(admin, "root", "hello everyone"))
	if got := lastSentTo(ad, 1001); got != "hello everyone" {
		t.Fatalf("follow-up not broadcast, got %q", got)
	}
	if got := lastSentTo(ad, admin); !strings.Contains(got, "Broadcast complete") {
		t.Fatalf("expected summary, got %q", got)
	}
}

func TestBroadcastDialogueExpires(t *testing.T) {
	ad := &fakeAdapter{}
	store := &memStore{ids: []int64{1001}}
	reg := registry.New(store, logx.Nop())
	reg.Load(context.Background())
	engine := broadcast.New(ad, reg, logx.Nop())
	h := newHandlers(reg, membership.New(ad, nil, logx.Nop()), engine, config.GateConfig{}, logx.Nop())

	// Backdate an open dialogue past the TTL; the follow-up must be dropped.
	h.mu.Lock()
	h.pending[42] = time.Now().Add(-pendingTTL - time.Minute)
	h.mu.Unlock()

	req := &router.Request{FromID: 42, Chat: kit.ChatTarget{ChatID: 42}, Text: "late body", Adapter: ad}
	if err := h.fallback(context.Background(), req); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if got := lastSentTo(ad, 1001); got != "" {
		t.Fatalf("expired dialogue must not broadcast, got %q", got)
	}
}

func TestBroadcastUnauthorized(t *testing.T) {
	ad := &fakeAdapter{}
	fx := newFixture(t, ad, []int64{1001, 1002}, []int64{42})

	fx.routes.Dispatch(context.Background(), update(7, "mallory", "/broadcast hi"))

	for _, s := range ad.sent {
		if s.chatID != 7 {
			t.Fatalf("unauthorized broadcast reached user %d", s.chatID)
		}
	}
	if got := lastSentTo(ad, 7); !strings.Contains(got, "not authorized") {
		t.Fatalf("expected denial, got %q", got)
	}
	if fx.reg.Count() != 2 {
		t.Fatalf("registry mutated by unauthorized attempt")
	}

	// Free text from a non-admin must not trigger anything either.
	fx.routes.Dispatch(context.Background(), update(7, "mallory", "sneaky body"))
	for _, s := range ad.sent {
		if s.text == "sneaky body" {
			t.Fatalf("non-admin text was broadcast")
		}
	}
}

func TestBroadcastEmptyBody(t *testing.T) {
	ad := &fakeAdapter{}
	admin := int64(42)
	fx := newFixture(t, ad, []int64{1001}, []int64{admin})

	fx.routes.Dispatch(context.Background(), update(admin, "root", "/broadcast"))
	fx.routes.Dispatch(context.Background(), update(admin, "root", "   "))

	if got := lastSentTo(ad, 1001); got != "" {
		t.Fatalf("empty body must not be delivered, got %q", got)
	}
}
