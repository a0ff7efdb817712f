package admission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shotbot/internal/calendar"
	"shotbot/internal/floodgate"
	"shotbot/internal/oplog"
	"shotbot/internal/storage"
	"shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Emit(_ context.Context, text string) error {
	s.mu.Lock()
	s.lines = append(s.lines, text)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// faultyStore wraps Memory and fails selected operations.
type faultyStore struct {
	*storage.Memory
	failExists    bool
	failBan       bool
	failSetActive bool
}

var errStore = errors.New("store down")

func (f *faultyStore) Exists(ctx context.Context, id int64) (bool, error) {
	if f.failExists {
		return false, errStore
	}
	return f.Memory.Exists(ctx, id)
}

func (f *faultyStore) BanStatus(ctx context.Context, id int64) (storage.BanStatus, error) {
	if f.failBan {
		return storage.BanStatus{}, errStore
	}
	return f.Memory.BanStatus(ctx, id)
}

func (f *faultyStore) SetLastActiveDate(ctx context.Context, id int64, d calendar.Date) error {
	if f.failSetActive {
		return errStore
	}
	return f.Memory.SetLastActiveDate(ctx, id, d)
}

func newPipeline(t *testing.T, st storage.Store, sink oplog.Sink, interval time.Duration) *Pipeline {
	t.Helper()
	p := New(floodgate.New(), st, sink, nil, logx.Nop(), Settings{MinInterval: interval})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p
}

// waitLines polls until sink holds n lines.
func waitLines(t *testing.T, sink *recordingSink, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		lines := sink.Lines()
		if len(lines) >= n {
			return lines
		}
		if time.Now().After(deadline) {
			t.Fatalf("lines=%q, want %d", lines, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func TestAdmit_FloodSequence(t *testing.T) {
	p := newPipeline(t, storage.NewMemory(), &recordingSink{}, 10*time.Second)

	steps := []struct {
		now  int64
		want Result
	}{
		{100, Allow},
		{105, RejectFlood},
		{109, RejectFlood},
		{111, Allow},
		{115, RejectFlood},
		{121, Allow},
	}
	for _, s := range steps {
		if got := p.Admit(context.Background(), Request{UserID: 1, Now: at(s.now)}); got != s.want {
			t.Fatalf("t=%d got %v want %v", s.now, got, s.want)
		}
	}
}

func TestAdmit_FirstSeenRegistersAndLogsOnce(t *testing.T) {
	st := storage.NewMemory()
	sink := &recordingSink{}
	p := newPipeline(t, st, sink, 0)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Admit(context.Background(), Request{UserID: 77, Mention: "<b>x</b>", Now: at(1000)})
		}()
	}
	wg.Wait()

	ok, _ := st.Exists(context.Background(), 77)
	if !ok {
		t.Fatalf("user not registered")
	}
	lines := waitLines(t, sink, 1)
	if len(lines) != 1 {
		t.Fatalf("new-user lines=%d want 1", len(lines))
	}
	if !strings.Contains(lines[0], "#NewUser") || !strings.Contains(lines[0], "<b>x</b>") {
		t.Fatalf("unexpected line %q", lines[0])
	}

	// A returning user is not announced again.
	p.Admit(context.Background(), Request{UserID: 77, Now: at(2000)})
	if n := len(sink.Lines()); n != 1 {
		t.Fatalf("lines=%d after returning user", n)
	}
}

func TestAdmit_BanExpiry(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	p := newPipeline(t, st, &recordingSink{}, 0)

	since := calendar.New(2024, time.January, 10)
	if err := st.Ban(ctx, 5, since, 3); err != nil {
		t.Fatal(err)
	}
	day := func(n int) time.Time {
		d := since.AddDays(n)
		return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
	}

	for _, n := range []int{0, 1, 3} {
		if got := p.Admit(ctx, Request{UserID: 5, Now: day(n)}); got != RejectBanned {
			t.Fatalf("day+%d got %v want banned", n, got)
		}
	}
	if got := p.Admit(ctx, Request{UserID: 5, Now: day(4)}); got != Allow {
		t.Fatalf("day+4 got %v want allow", got)
	}
	bs, _ := st.BanStatus(ctx, 5)
	if bs.Banned {
		t.Fatalf("ban should be cleared after expiry")
	}
}

func TestAdmit_BannedRejectStillConsumesFloodSlot(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	p := newPipeline(t, st, &recordingSink{}, 10*time.Second)
	_ = st.Ban(ctx, 9, calendar.Of(at(0), time.UTC), 30)

	if got := p.Admit(ctx, Request{UserID: 9, Now: at(100)}); got != RejectBanned {
		t.Fatalf("got %v", got)
	}
	if got := p.Admit(ctx, Request{UserID: 9, Now: at(101)}); got != RejectFlood {
		t.Fatalf("got %v", got)
	}
}

func TestAdmit_UpdatesLastActive(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	p := newPipeline(t, st, &recordingSink{}, 0)

	p.Admit(ctx, Request{UserID: 3, Now: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)})
	p.Admit(ctx, Request{UserID: 3, Now: time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)})

	got, err := st.LastActiveDate(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := calendar.New(2024, time.February, 2); got != want {
		t.Fatalf("last active=%v want %v", got, want)
	}
}

func TestAdmit_StoreFailuresAreRecovered(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name  string
		store *faultyStore
	}{
		{"exists", &faultyStore{Memory: storage.NewMemory(), failExists: true}},
		{"ban status", &faultyStore{Memory: storage.NewMemory(), failBan: true}},
		{"last active", &faultyStore{Memory: storage.NewMemory(), failSetActive: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			p := newPipeline(t, tc.store, sink, 0)
			if got := p.Admit(ctx, Request{UserID: 1, Now: at(50)}); got != Allow {
				t.Fatalf("got %v want allow", got)
			}
		})
	}

	// A failing existence check skips registration entirely.
	st := &faultyStore{Memory: storage.NewMemory(), failExists: true}
	sink := &recordingSink{}
	newPipeline(t, st, sink, 0).Admit(ctx, Request{UserID: 1, Now: at(50)})
	if ok, _ := st.Memory.Exists(ctx, 1); ok {
		t.Fatalf("user registered despite lookup failure")
	}
	if len(sink.Lines()) != 0 {
		t.Fatalf("unexpected log lines")
	}
}

func TestAdmit_UsesConfiguredTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata not available")
	}
	ctx := context.Background()
	st := storage.NewMemory()
	p := newPipeline(t, st, &recordingSink{}, 0)
	p.Apply(Settings{Location: loc})

	p.Admit(ctx, Request{UserID: 4, Now: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)})
	got, _ := st.LastActiveDate(ctx, 4)
	if want := calendar.New(2024, time.January, 2); got != want {
		t.Fatalf("today=%v want %v", got, want)
	}
}

// throttledSink answers every send with a rate-limit error.
type throttledSink struct {
	wait  time.Duration
	calls atomic.Int32
}

func (s *throttledSink) Emit(context.Context, string) error {
	s.calls.Add(1)
	return &transport.RateLimitError{RetryAfter: s.wait}
}

func TestAdmit_NewUserNoticeDoesNotDelayAdmission(t *testing.T) {
	sink := &throttledSink{wait: 3 * time.Second}
	p := newPipeline(t, storage.NewMemory(), sink, 0)

	start := time.Now()
	if got := p.Admit(context.Background(), Request{UserID: 5, Now: at(10)}); got != Allow {
		t.Fatalf("got %v want allow", got)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("first contact admitted after %v", d)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("notice never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
