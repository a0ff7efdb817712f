package broadcast

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"shotbot/internal/metrics"
	"shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

// Recipients lists every user a broadcast is delivered to.
type Recipients interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

type EngineConfig struct {
	// RatePerSec is the global delivery pace across all running jobs (<=0 means 20).
	RatePerSec float64
	// ProgressInterval is the minimum gap between progress edits (<=0 means 10s).
	ProgressInterval time.Duration
}

// Engine executes broadcast jobs. One Engine may run many jobs concurrently;
// they share the delivery rate limiter.
type Engine struct {
	adapter transport.Adapter
	users   Recipients
	log     logx.Logger
	metrics *metrics.Metrics

	limiter  atomic.Pointer[rate.Limiter]
	progress atomic.Int64 // time.Duration
	// holdUntil (unix nanos) is the end of the last server-requested pause; it applies to every job.
	holdUntil atomic.Int64
}

func NewEngine(adapter transport.Adapter, users Recipients, m *metrics.Metrics, log logx.Logger, cfg EngineConfig) *Engine {
	e := &Engine{adapter: adapter, users: users, metrics: m, log: log}
	e.Apply(cfg)
	return e
}

// Apply updates pacing for deliveries that have not started yet.
func (e *Engine) Apply(cfg EngineConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	burst := max(int(rps), 1)
	if cur := e.limiter.Load(); cur != nil {
		cur.SetLimit(rate.Limit(rps))
		cur.SetBurst(burst)
	} else {
		e.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
	}
	iv := cfg.ProgressInterval
	if iv <= 0 {
		iv = 10 * time.Second
	}
	e.progress.Store(int64(iv))
}

// Run delivers job.Text to every recipient and returns the final status.
// It stops before the next recipient once the job is cancelled or ctx is done.
func (e *Engine) Run(ctx context.Context, job *Job) Status {
	start := time.Now()
	job.started.Store(start.UnixNano())
	job.setStatus(StatusRunning)
	log := e.log.With(logx.String("broadcast", job.ID))

	ids, err := e.users.ListUserIDs(ctx)
	if err != nil {
		log.Error("listing recipients failed", logx.Err(err))
		job.setStatus(StatusFailed)
		e.editStatus(ctx, job, failedText(job.Progress(), err), nil)
		return StatusFailed
	}
	job.total.Store(int64(len(ids)))
	e.editStatus(ctx, job, progressText(job.Progress()), controlKeyboard(job.ID))
	log.Info("broadcast started", logx.Int("total", len(ids)))

	final := StatusCompleted
	lastEdit := time.Now()
	for _, id := range ids {
		if job.CancelRequested() || ctx.Err() != nil {
			final = StatusCancelled
			break
		}
		if !e.waitHold(ctx) {
			final = StatusCancelled
			break
		}
		if err := e.limiter.Load().Wait(ctx); err != nil {
			final = StatusCancelled
			break
		}

		outcome := e.deliver(ctx, id, job.Text)
		if outcome == "sent" {
			job.sent.Add(1)
		} else {
			job.failed.Add(1)
			log.Debug("delivery failed", logx.UserID(id), logx.String("outcome", outcome))
		}
		e.metrics.Delivery(outcome)

		if time.Since(lastEdit) >= time.Duration(e.progress.Load()) {
			lastEdit = time.Now()
			e.editStatus(ctx, job, progressText(job.Progress()), controlKeyboard(job.ID))
		}
	}

	job.setStatus(final)
	p := job.Progress()
	log.Info("broadcast finished",
		logx.String("status", final.String()),
		logx.Int("total", p.Total), logx.Int("sent", p.Sent), logx.Int("failed", p.Failed),
		logx.Duration("took", time.Since(start)),
	)
	e.editStatus(ctx, job, finalText(p), nil)
	return final
}

// deliver sends one message. A rate-limit answer is honored once; everything else counts as failed.
func (e *Engine) deliver(ctx context.Context, userID int64, text string) string {
	to := transport.ChatTarget{ChatID: userID}
	_, err := e.adapter.SendText(ctx, to, text, nil)
	if err == nil {
		return "sent"
	}
	wait, limited := transport.RetryAfterOf(err)
	if !limited {
		return classify(err)
	}
	e.hold(time.Now().Add(wait))
	if !e.waitHold(ctx) {
		return "failed"
	}
	if _, err = e.adapter.SendText(ctx, to, text, nil); err == nil {
		return "sent"
	}
	if _, limited := transport.RetryAfterOf(err); limited {
		return "rate_limited"
	}
	return classify(err)
}

// hold pauses deliveries of all jobs until t. An earlier t never shortens a pause.
func (e *Engine) hold(t time.Time) {
	until := t.UnixNano()
	for {
		cur := e.holdUntil.Load()
		if until <= cur || e.holdUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// waitHold sleeps out the current pause. It reports false if ctx ended first.
func (e *Engine) waitHold(ctx context.Context) bool {
	return sleepCtx(ctx, time.Until(time.Unix(0, e.holdUntil.Load())))
}

func classify(err error) string {
	if errors.Is(err, transport.ErrRecipientUnavailable) {
		return "unavailable"
	}
	return "failed"
}

// editStatus updates the status message. It survives cancellation of ctx so the final
// state is still shown during shutdown.
func (e *Engine) editStatus(ctx context.Context, job *Job, text string, kb transport.Keyboard) {
	if job.StatusMessage.MessageID == 0 {
		return
	}
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := e.adapter.EditText(ectx, job.StatusMessage, text, &transport.SendOptions{ParseMode: "HTML", Keyboard: kb})
	if err != nil {
		e.log.Debug("status edit failed", logx.String("broadcast", job.ID), logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
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
