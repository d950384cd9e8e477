// Package broadcast fans an admin-authored message out to every registered
// user and reconciles delivery failures back into the registry.
package broadcast

import (
	"context"
	"time"

	kit "gatebot/internal/transport"
	logx "gatebot/pkg/logx"
)

// Sender is the slice of the platform API the engine needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Remover is how the engine evicts unreachable users after a run. In the
// app this is the registry; tests substitute a recorder.
type Remover interface {
	Remove(ctx context.Context, users []int64) error
}

// Outcome aggregates one broadcast run. Removed lists the users whose
// delivery failed and who were evicted from the registry.
type Outcome struct {
	Successful int
	Failed     int
	Removed    []int64
}

type Engine struct {
	sender  Sender
	remover Remover
	log     logx.Logger
}

func New(sender Sender, remover Remover, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{sender: sender, remover: remover, log: log}
}

// Send delivers text to every recipient. A failure for one recipient never
// aborts the rest; any delivery error is treated as permanent for that user
// in this design (no transient/blocked distinction, no retry). Failed
// recipients are removed from the registry in exactly one batched call.
func (e *Engine) Send(ctx context.Context, text string, recipients []int64) Outcome {
	start := time.Now()
	out := Outcome{}

	for _, user := range recipients {
		_, err := e.sender.SendText(ctx, kit.ChatTarget{ChatID: user}, text, nil)
		if err != nil {
			e.log.Warn("broadcast delivery failed",
				logx.Int64("user", user), logx.Err(err))
			out.Failed++
			out.Removed = append(out.Removed, user)
			continue
		}
		out.Successful++
	}

	if len(out.Removed) > 0 {
		if err := e.remover.Remove(ctx, out.Removed); err != nil {
			e.log.Error("failed evicting unreachable users", logx.Err(err), logx.Int("users", len(out.Removed)))
		} else {
			e.log.Info("evicted unreachable users", logx.Int("users", len(out.Removed)))
		}
	}

	fields := []logx.Field{
		logx.Int("total", len(recipients)),
		logx.Int("successful", out.Successful),
		logx.Int("failed", out.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if out.Failed > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	return out
}
