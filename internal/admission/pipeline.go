package admission

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"shotbot/internal/calendar"
	"shotbot/internal/floodgate"
	"shotbot/internal/metrics"
	"shotbot/internal/oplog"
	"shotbot/internal/storage"
	logx "shotbot/pkg/logx"
)

type Result int

const (
	Allow Result = iota
	RejectFlood
	RejectBanned
)

func (r Result) String() string {
	switch r {
	case Allow:
		return "allow"
	case RejectFlood:
		return "flood"
	case RejectBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// Request is one inbound event to be admitted.
type Request struct {
	UserID int64
	// Mention is the pre-rendered HTML mention used in the new-user log line.
	Mention string
	Now     time.Time
}

// Settings are the hot-reloadable knobs of the pipeline.
type Settings struct {
	MinInterval time.Duration
	Location    *time.Location
}

// Pipeline runs every inbound event through flood control, first-seen registration,
// ban enforcement and daily-active bookkeeping.
type Pipeline struct {
	gate    *floodgate.Gate
	store   storage.Store
	notices *oplog.Queue
	log     logx.Logger
	metrics *metrics.Metrics

	settings atomic.Pointer[Settings]
	register singleflight.Group
}

// noticeBuffer is how many new-user notices may wait for the log channel.
const noticeBuffer = 128

// New builds a pipeline. New-user notices to sink are queued and only delivered while Run is active.
func New(gate *floodgate.Gate, store storage.Store, sink oplog.Sink, m *metrics.Metrics, log logx.Logger, s Settings) *Pipeline {
	p := &Pipeline{
		gate:    gate,
		store:   store,
		notices: oplog.NewQueue(sink, noticeBuffer, log),
		metrics: m,
		log:     log,
	}
	p.Apply(s)
	return p
}

// Run delivers new-user notices until ctx is done.
func (p *Pipeline) Run(ctx context.Context) { p.notices.Run(ctx) }

// Apply swaps the settings used by subsequent Admit calls.
func (p *Pipeline) Apply(s Settings) {
	if s.Location == nil {
		s.Location = calendar.DefaultLocation
	}
	if s.MinInterval < 0 {
		s.MinInterval = 0
	}
	p.settings.Store(&s)
}

func (p *Pipeline) Settings() Settings { return *p.settings.Load() }

// Today is the calendar date of now in the configured timezone.
func (p *Pipeline) Today(now time.Time) calendar.Date {
	return calendar.Of(now, p.settings.Load().Location)
}

// Admit decides whether req may proceed to the handlers.
// Store failures never surface to the caller; they are logged and the pipeline continues.
func (p *Pipeline) Admit(ctx context.Context, req Request) Result {
	res := p.admit(ctx, req)
	p.metrics.Admission(res.String())
	return res
}

func (p *Pipeline) admit(ctx context.Context, req Request) Result {
	s := p.settings.Load()
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if !p.gate.TryAdmit(req.UserID, req.Now, s.MinInterval) {
		return RejectFlood
	}

	today := calendar.Of(req.Now, s.Location)
	log := p.log.With(logx.UserID(req.UserID))

	exists, err := p.store.Exists(ctx, req.UserID)
	switch {
	case err != nil:
		log.Warn("user lookup failed; skipping registration", logx.Err(err))
	case !exists:
		p.registerOnce(ctx, req, today, log)
	}

	ban, err := p.store.BanStatus(ctx, req.UserID)
	if err != nil {
		log.Warn("ban lookup failed; admitting", logx.Err(err))
	} else if ban.Banned {
		elapsed := today.DaysSince(ban.Since)
		if elapsed <= ban.Days {
			return RejectBanned
		}
		if err := p.store.ClearBan(ctx, req.UserID); err != nil {
			log.Warn("clearing expired ban failed", logx.Err(err))
		} else {
			log.Info("ban expired", logx.String("since", ban.Since.String()), logx.Int("days", ban.Days))
		}
	}

	last, err := p.store.LastActiveDate(ctx, req.UserID)
	if err == nil && last != today {
		if err := p.store.SetLastActiveDate(ctx, req.UserID, today); err != nil {
			log.Debug("last active update failed", logx.Err(err))
		}
	}
	return Allow
}

// registerOnce collapses concurrent first-seen events for the same user into one Register call.
func (p *Pipeline) registerOnce(ctx context.Context, req Request, today calendar.Date, log logx.Logger) {
	key := strconv.FormatInt(req.UserID, 10)
	_, err, _ := p.register.Do(key, func() (any, error) {
		created, err := p.store.Register(ctx, req.UserID, today)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info("new user registered")
			if err := p.notices.Emit(ctx, newUserLine(req)); err != nil {
				log.Warn("new user notice dropped", logx.Err(err))
			}
		}
		return created, nil
	})
	if err != nil {
		log.Warn("user registration failed", logx.Err(err))
	}
}

func newUserLine(req Request) string {
	mention := req.Mention
	if mention == "" {
		mention = strconv.FormatInt(req.UserID, 10)
	}
	return fmt.Sprintf("#NewUser\n\nNew user %s (<code>%d</code>) started the bot.", mention, req.UserID)
}
