// Package housekeeping runs periodic maintenance: flood-gate pruning, expiry of media
// sessions and the daily activity report sent to the log channel.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shotbot/internal/calendar"
	"shotbot/internal/config"
	"shotbot/internal/floodgate"
	"shotbot/internal/media"
	"shotbot/internal/oplog"
	"shotbot/internal/storage"
	logx "shotbot/pkg/logx"
)

type Config struct {
	PruneSchedule string
	// ReportSchedule is optional; empty disables the daily report.
	ReportSchedule string
	Location       *time.Location
	// Retention is how long flood-gate entries are kept after their last admit.
	Retention  time.Duration
	SessionTTL time.Duration
}

// StatsSource is the part of the store used by the report.
type StatsSource interface {
	Stats(ctx context.Context, today calendar.Date) (storage.Stats, error)
}

type Deps struct {
	Gate     *floodgate.Gate
	Sessions *media.Sessions
	Store    StatsSource
	Sink     oplog.Sink
	Log      logx.Logger
}

type Service struct {
	d   Deps
	log logx.Logger
	now func() time.Time

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	parser cron.Parser
}

const jobTimeout = 30 * time.Second

func New(d Deps, cfg Config) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Sink == nil {
		d.Sink = oplog.Nop{}
	}
	return &Service{
		d:      d,
		log:    d.Log.With(logx.String("comp", "housekeeping")),
		now:    time.Now,
		cfg:    cfg,
		parser: config.ScheduleParser,
	}
}

// Start begins triggering. Jobs run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	loc := s.cfg.Location
	if loc == nil {
		loc = calendar.DefaultLocation
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if spec := strings.TrimSpace(s.cfg.PruneSchedule); spec != "" {
		if _, err := c.AddFunc(spec, func() { s.Prune(s.now()) }); err != nil {
			return fmt.Errorf("prune schedule %q: %w", spec, err)
		}
	}
	if spec := strings.TrimSpace(s.cfg.ReportSchedule); spec != "" {
		if _, err := c.AddFunc(spec, s.runReport); err != nil {
			return fmt.Errorf("report schedule %q: %w", spec, err)
		}
	}
	c.Start()
	s.c = c
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("jobs", len(c.Entries())))
	return nil
}

// Apply swaps the configuration and re-registers jobs when running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

// Stop stops triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Prune drops idle flood-gate entries and expired media sessions.
func (s *Service) Prune(now time.Time) (gate, sessions int) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	retention := cfg.Retention
	if retention < time.Minute {
		retention = time.Minute
	}
	if s.d.Gate != nil {
		gate = s.d.Gate.Prune(now, retention)
	}
	if s.d.Sessions != nil && cfg.SessionTTL > 0 {
		sessions = s.d.Sessions.Prune(now, cfg.SessionTTL)
	}
	if gate > 0 || sessions > 0 {
		s.log.Debug("pruned", logx.Int("gate", gate), logx.Int("sessions", sessions))
	}
	return gate, sessions
}

func (s *Service) runReport() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()
	if err := s.Report(ctx); err != nil {
		s.log.Warn("daily report failed", logx.Err(err))
	}
}

// Report sends the activity summary for today to the log sink.
func (s *Service) Report(ctx context.Context) error {
	if s.d.Store == nil {
		return nil
	}
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()

	today := calendar.Of(s.now(), loc)
	st, err := s.d.Store.Stats(ctx, today)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	oplog.BestEffort(ctx, s.d.Sink, reportText(today, st), s.log)
	return nil
}

func reportText(day calendar.Date, st storage.Stats) string {
	return fmt.Sprintf("#DailyReport %s\n\nUsers: <b>%d</b>\nActive today: <b>%d</b>\nBanned: <b>%d</b>",
		day, st.Total, st.ActiveToday, st.Banned)
}

// cronLogger routes cron's internal messages through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
