// Package oplog delivers operational log lines (new users, bans, broadcast summaries)
// to an operator chat. Delivery is best-effort and never blocks the caller for long.
package oplog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

// Sink is a write-only destination for operational lines.
type Sink interface {
	Emit(ctx context.Context, text string) error
}

// Nop discards everything. Used when no log channel is configured.
type Nop struct{}

func (Nop) Emit(context.Context, string) error { return nil }

// ChatSink sends lines as HTML messages to a fixed chat.
type ChatSink struct {
	adapter transport.Adapter
	target  transport.ChatTarget
}

func NewChatSink(a transport.Adapter, chatID int64) *ChatSink {
	return &ChatSink{adapter: a, target: transport.ChatTarget{ChatID: chatID}}
}

func (s *ChatSink) Emit(ctx context.Context, text string) error {
	_, err := s.adapter.SendText(ctx, s.target, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Switch is a Sink whose target can be replaced at runtime (config reload, late adapter wiring).
// The zero value behaves like Nop.
type Switch struct {
	cur atomic.Pointer[sinkBox]
}

type sinkBox struct{ s Sink }

func (w *Switch) Set(s Sink) {
	if s == nil {
		s = Nop{}
	}
	w.cur.Store(&sinkBox{s: s})
}

func (w *Switch) Emit(ctx context.Context, text string) error {
	b := w.cur.Load()
	if b == nil {
		return nil
	}
	return b.s.Emit(ctx, text)
}

// retryPause is the wait before the single retry of a non rate-limit failure.
var retryPause = time.Second

// maxRetryAfter caps a server-requested back-off so a log line never parks a handler for long.
const maxRetryAfter = 30 * time.Second

// BestEffort emits text with one bounded retry and then gives up.
// A rate-limit answer is honored once (the requested wait, capped); any other failure is
// retried once after a short pause. The final error is logged, never returned.
func BestEffort(ctx context.Context, sink Sink, text string, log logx.Logger) {
	if sink == nil {
		return
	}
	err := sink.Emit(ctx, text)
	if err == nil {
		return
	}

	wait := retryPause
	if d, ok := transport.RetryAfterOf(err); ok {
		wait = min(d, maxRetryAfter)
	}
	if !sleep(ctx, wait) {
		log.Debug("oplog emit abandoned", logx.Err(err))
		return
	}
	if err2 := sink.Emit(ctx, text); err2 != nil {
		if errors.Is(err2, context.Canceled) {
			return
		}
		log.Warn("oplog emit dropped", logx.Err(err2), logx.Bool("rate_limited", isRateLimit(err)))
	}
}

func isRateLimit(err error) bool {
	_, ok := transport.RetryAfterOf(err)
	return ok
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
