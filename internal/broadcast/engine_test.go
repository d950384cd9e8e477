package broadcast

import (
	"context"
	"errors"
	"fmt"
	"testing"

	kit "gatebot/internal/transport"
	logx "gatebot/pkg/logx"
)

type fakeSender struct {
	failFor map[int64]bool
	sent    []int64
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.sent = append(f.sent, to.ChatID)
	if f.failFor[to.ChatID] {
		return kit.MessageRef{}, fmt.Errorf("forbidden: bot was blocked by the user")
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

type fakeRemover struct {
	calls   int
	removed []int64
	err     error
}

func (f *fakeRemover) Remove(ctx context.Context, users []int64) error {
	f.calls++
	f.removed = append([]int64(nil), users...)
	return f.err
}

func TestSendIsolationAndBatchedRemoval(t *testing.T) {
	sender := &fakeSender{failFor: map[int64]bool{1002: true}}
	remover := &fakeRemover{}
	e := New(sender, remover, logx.Nop())

	out := e.Send(context.Background(), "hello", []int64{1001, 1002, 1003})

	if out.Successful != 2 || out.Failed != 1 {
		t.Fatalf("expected 2/1, got %d/%d", out.Successful, out.Failed)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("a failure must not abort remaining deliveries, sent=%v", sender.sent)
	}
	if remover.calls != 1 {
		t.Fatalf("removal must be batched into one call, got %d", remover.calls)
	}
	if len(remover.removed) != 1 || remover.removed[0] != 1002 {
		t.Fatalf("expected removal of exactly {1002}, got %v", remover.removed)
	}
	if len(out.Removed) != 1 || out.Removed[0] != 1002 {
		t.Fatalf("outcome must report removed set, got %v", out.Removed)
	}
}

func TestSendAllDelivered(t *testing.T) {
	sender := &fakeSender{}
	remover := &fakeRemover{}
	e := New(sender, remover, logx.Nop())

	out := e.Send(context.Background(), "hi", []int64{1, 2})
	if out.Successful != 2 || out.Failed != 0 || len(out.Removed) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if remover.calls != 0 {
		t.Fatalf("no removal call expected when nothing failed")
	}
}

func TestSendNoRecipients(t *testing.T) {
	sender := &fakeSender{}
	remover := &fakeRemover{}
	e := New(sender, remover, logx.Nop())

	out := e.Send(context.Background(), "hi", nil)
	if out.Successful != 0 || out.Failed != 0 || remover.calls != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSendRemoverErrorDoesNotPanic(t *testing.T) {
	sender := &fakeSender{failFor: map[int64]bool{9: true}}
	remover := &fakeRemover{err: errors.New("disk full")}
	e := New(sender, remover, logx.Nop())

	out := e.Send(context.Background(), "hi", []int64{9})
	if out.Failed != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}
