// Package bot holds the user-facing handlers: admission gate, commands, callbacks and media intake.
package bot

import (
	"context"
	"sync/atomic"
	"time"

	"shotbot/internal/admission"
	"shotbot/internal/broadcast"
	"shotbot/internal/media"
	"shotbot/internal/oplog"
	"shotbot/internal/storage"
	"shotbot/internal/transport"
	"shotbot/internal/transport/telegram/router"
	logx "shotbot/pkg/logx"
)

type Deps struct {
	Adapter    transport.Adapter
	Admission  *admission.Pipeline
	Store      storage.Store
	Broadcasts *broadcast.Manager
	Prober     media.Prober
	Processor  media.Processor
	Sessions   *media.Sessions
	Sink       oplog.Sink
	Log        logx.Logger
}

// Settings are the hot-reloadable knobs of the handlers.
type Settings struct {
	StreamHost     string
	ProbeTimeout   time.Duration
	DefaultBanDays int
}

type Bot struct {
	d        Deps
	log      logx.Logger
	settings atomic.Pointer[Settings]
	now      func() time.Time
}

func New(d Deps, s Settings) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Sink == nil {
		d.Sink = oplog.Nop{}
	}
	if d.Processor == nil {
		d.Processor = media.Unsupported{}
	}
	if d.Sessions == nil {
		d.Sessions = media.NewSessions()
	}
	b := &Bot{d: d, log: d.Log.With(logx.String("comp", "bot")), now: time.Now}
	b.Apply(s)
	return b
}

func (b *Bot) Apply(s Settings) {
	if s.DefaultBanDays <= 0 {
		s.DefaultBanDays = 30
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = 30 * time.Second
	}
	b.settings.Store(&s)
}

func (b *Bot) cfg() Settings { return *b.settings.Load() }

// Register installs the commands and callbacks on r.
func (b *Bot) Register(r *router.Router) {
	r.SetRoutes(b.Commands(), b.Callbacks())
}

// Admit is the router gate. Every update from a user goes through the admission pipeline
// before any handler sees it.
func (b *Bot) Admit(ctx context.Context, up transport.Update) bool {
	var from transport.User
	switch {
	case up.Message != nil:
		from = up.Message.From
	case up.Callback != nil:
		from = up.Callback.From
	}
	if from.ID == 0 {
		return true
	}
	res := b.d.Admission.Admit(ctx, admission.Request{
		UserID:  from.ID,
		Mention: from.Mention(),
		Now:     b.now(),
	})
	if res != admission.Allow {
		b.log.Debug("update rejected", logx.UserID(from.ID), logx.String("result", res.String()))
		return false
	}
	return true
}
