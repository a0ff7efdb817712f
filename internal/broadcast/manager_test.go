package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shotbot/internal/runtime/supervisor"
	"shotbot/internal/storage"
	"shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func newTestManager(t *testing.T, a *fakeAdapter, users Recipients, reg RegistryConfig) (*Manager, *memAudit) {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(sup.Cancel)
	audit := &memAudit{}
	m := NewManager(ManagerDeps{
		Registry:   NewRegistry(reg),
		Engine:     newTestEngine(a, users),
		Supervisor: sup,
		Adapter:    a,
		Audit:      audit,
		Log:        logx.Nop(),
	})
	return m, audit
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManager_LookupUntilDone(t *testing.T) {
	a := newFakeAdapter()
	release := make(chan struct{})
	a.onSend = func(int64) { <-release }
	m, audit := newTestManager(t, a, staticUsers{ids: userRange(3)}, RegistryConfig{})

	task, err := m.Start(context.Background(), 42, transport.ChatTarget{ChatID: 42}, "hi")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := task.Job.ID
	if _, ok := m.Registry().Lookup(id); !ok {
		t.Fatalf("job not registered while running")
	}
	if m.Running() != 1 {
		t.Fatalf("running=%d", m.Running())
	}

	close(release)
	st, err := task.Wait(waitCtx(t))
	if err != nil || st != StatusCompleted {
		t.Fatalf("st=%v err=%v", st, err)
	}
	if _, ok := m.Registry().Lookup(id); ok {
		t.Fatalf("job still registered after completion")
	}
	if m.Running() != 0 {
		t.Fatalf("running=%d", m.Running())
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != "broadcast.completed" || audit.entries[0].OK != 3 {
		t.Fatalf("audit=%+v", audit.entries)
	}
}

func TestManager_CancelViaRegistry(t *testing.T) {
	a := newFakeAdapter()
	started := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	a.onSend = func(chatID int64) {
		if chatID == 2 {
			once.Do(func() { close(started) })
			<-proceed
		}
	}
	m, _ := newTestManager(t, a, staticUsers{ids: userRange(10)}, RegistryConfig{})

	task, err := m.Start(context.Background(), 1, transport.ChatTarget{ChatID: 1}, "hi")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	if !m.Registry().Cancel(task.Job.ID) {
		t.Fatalf("cancel failed")
	}
	close(proceed)

	st, _ := task.Wait(waitCtx(t))
	if st != StatusCancelled {
		t.Fatalf("status=%v", st)
	}
	if p := task.Job.Progress(); p.Done() != 2 {
		t.Fatalf("done=%d want 2", p.Done())
	}
	if m.Registry().Len() != 0 {
		t.Fatalf("registry not empty")
	}
}

func TestManager_StatusMessageFailureReleasesID(t *testing.T) {
	a := newFakeAdapter()
	a.statusErr = errSend
	m, _ := newTestManager(t, a, staticUsers{ids: userRange(1)}, RegistryConfig{})

	if _, err := m.Start(context.Background(), 1, transport.ChatTarget{ChatID: 1}, "hi"); !errors.Is(err, errSend) {
		t.Fatalf("err=%v", err)
	}
	if m.Registry().Len() != 0 {
		t.Fatalf("id leaked")
	}
}

func TestManager_Exhausted(t *testing.T) {
	a := newFakeAdapter()
	block := make(chan struct{})
	a.onSend = func(int64) { <-block }
	m, _ := newTestManager(t, a, staticUsers{ids: userRange(1)}, RegistryConfig{Alphabet: "a", Length: 1, MaxLength: 1, MaxAttempts: 2})
	defer close(block)

	if _, err := m.Start(context.Background(), 1, transport.ChatTarget{ChatID: 1}, "one"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := m.Start(context.Background(), 1, transport.ChatTarget{ChatID: 1}, "two"); !errors.Is(err, ErrRegistryExhausted) {
		t.Fatalf("second: %v", err)
	}
}

func TestManager_ShutdownCancelsRunningJobs(t *testing.T) {
	a := newFakeAdapter()
	entered := make(chan struct{}, 1)
	a.onSend = func(int64) {
		select {
		case entered <- struct{}{}:
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	m, _ := newTestManager(t, a, staticUsers{ids: userRange(1000)}, RegistryConfig{})

	task, err := m.Start(context.Background(), 1, transport.ChatTarget{ChatID: 1}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := m.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if st := task.Job.Status(); st != StatusCancelled {
		t.Fatalf("status=%v", st)
	}
}

// gatedAudit blocks AppendAudit until open is closed.
type gatedAudit struct {
	entered chan struct{}
	open    chan struct{}
}

func (g *gatedAudit) AppendAudit(context.Context, storage.AuditEntry) error {
	close(g.entered)
	<-g.open
	return nil
}

func TestManager_ReleasesBeforeReporting(t *testing.T) {
	a := newFakeAdapter()
	sup := supervisor.New(context.Background())
	t.Cleanup(sup.Cancel)
	audit := &gatedAudit{entered: make(chan struct{}), open: make(chan struct{})}
	m := NewManager(ManagerDeps{
		Registry:   NewRegistry(RegistryConfig{}),
		Engine:     newTestEngine(a, staticUsers{ids: userRange(2)}),
		Supervisor: sup,
		Adapter:    a,
		Audit:      audit,
		Log:        logx.Nop(),
	})

	task, err := m.Start(context.Background(), 1, transport.ChatTarget{ChatID: 1}, "hi")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-audit.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("report never started")
	}

	if _, ok := m.Registry().Lookup(task.Job.ID); ok {
		t.Fatalf("finished job still registered while reporting")
	}
	if m.Registry().Cancel(task.Job.ID) {
		t.Fatalf("finished job still cancellable")
	}
	if n := m.Running(); n != 0 {
		t.Fatalf("running=%d while reporting", n)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(sctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown returned %v before the report finished", err)
	}
	close(audit.open)
	if err := m.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-task.Done():
	default:
		t.Fatalf("task not done after Shutdown")
	}
}
