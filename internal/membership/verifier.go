// Package membership gates feature access behind multi-channel join checks.
package membership

import (
	"context"

	kit "gatebot/internal/transport"
	logx "gatebot/pkg/logx"
)

// State is the outcome class of a membership check.
//
// Unverifiable is deliberately distinct from Denied: a platform query that
// fails outright (bot lacks permission, channel unreachable) must not be
// mistaken for the user simply not having joined.
type State int

const (
	Granted State = iota
	Denied
	Unverifiable
)

// Verdict is the result of checking a user across all required channels.
type Verdict struct {
	State State

	// Channel is set only for Unverifiable: the channel whose status
	// query failed.
	Channel string
}

func (v Verdict) FullyJoined() bool { return v.State == Granted }

// StatusSource is the slice of the platform API the verifier needs.
type StatusSource interface {
	MemberOf(ctx context.Context, channel string, user int64) (kit.MemberStatus, error)
}

type Verifier struct {
	api      StatusSource
	channels []string
	log      logx.Logger
}

// New builds a verifier over the configured channel requirement set. The
// channel list is fixed for the process lifetime.
func New(api StatusSource, channels []string, log logx.Logger) *Verifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Verifier{api: api, channels: append([]string(nil), channels...), log: log}
}

func (v *Verifier) Channels() []string { return append([]string(nil), v.channels...) }

// Check queries every required channel in order. The first query error
// short-circuits to Unverifiable; a non-granting status keeps evaluating so
// the log shows the user's full join state, but the verdict is Denied.
func (v *Verifier) Check(ctx context.Context, user int64) Verdict {
	joined := 0
	for _, ch := range v.channels {
		status, err := v.api.MemberOf(ctx, ch, user)
		if err != nil {
			v.log.Warn("channel status query failed",
				logx.String("channel", ch), logx.Int64("user", user), logx.Err(err))
			return Verdict{State: Unverifiable, Channel: ch}
		}
		if status.Granting() {
			joined++
		}
	}
	if joined == len(v.channels) {
		return Verdict{State: Granted}
	}
	v.log.Debug("membership incomplete",
		logx.Int64("user", user), logx.Int("joined", joined), logx.Int("required", len(v.channels)))
	return Verdict{State: Denied}
}
