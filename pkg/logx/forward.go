package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Forwarder receives forwarded lines as Telegram HTML.
// Emit is called from a single goroutine and should return within its context deadline.
type Forwarder interface {
	Emit(ctx context.Context, text string) error
}

const (
	forwardQueue   = 256
	forwardTimeout = 10 * time.Second
	maxForwardLen  = 3500
	maxFieldLen    = 600
)

// forwarder is a zerolog.LevelWriter that filters by level, rate-limits and hands lines
// to a Forwarder on its own goroutine. Lines that do not fit the queue are dropped.
type forwarder struct {
	dst   Forwarder
	queue chan string

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

var _ zerolog.LevelWriter = (*forwarder)(nil)

func newForwarder(dst Forwarder) *forwarder {
	return &forwarder{
		dst:      dst,
		queue:    make(chan string, forwardQueue),
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (f *forwarder) configure(cfg ForwardConfig) {
	rps := max(cfg.RatePerSec, 1)
	f.mu.Lock()
	f.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	f.mu.Unlock()
	if cfg.Enabled {
		f.start()
	}
}

func (f *forwarder) start() {
	f.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		f.mu.Lock()
		f.cancel = cancel
		f.done = make(chan struct{})
		done := f.done
		f.mu.Unlock()
		go func() {
			defer close(done)
			f.run(ctx)
		}()
	})
}

func (f *forwarder) stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *forwarder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-f.queue:
			sctx, cancel := context.WithTimeout(ctx, forwardTimeout)
			_ = f.dst.Emit(sctx, text)
			cancel()
		}
	}
}

func (f *forwarder) Write(p []byte) (int, error) { return f.WriteLevel(LevelInfo, p) }

func (f *forwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.mu.Lock()
	pass := level >= f.minLevel && f.limiter.Allow()
	f.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if text := forwardHTML(p); text != "" {
		select {
		case f.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// forwardHTML renders one JSON log line as "<b>LEVEL</b> message" followed by sorted
// key=value lines. Input that is not JSON is sent escaped as-is.
func forwardHTML(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return html.EscapeString(clip(raw, maxForwardLen))
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "<b>%s</b> ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(html.EscapeString(msg))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n<code>%s</code>=%s", html.EscapeString(k), html.EscapeString(clip(fmt.Sprint(m[k]), maxFieldLen)))
	}
	return clipHTML(b.String(), maxForwardLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n-3], "") + "..."
}

// clipHTML truncates on a line boundary so no tag is left open.
func clipHTML(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if i := strings.LastIndexByte(s[:n], '\n'); i > 0 {
		return s[:i] + "\n..."
	}
	return html.EscapeString(clip(s, n))
}
