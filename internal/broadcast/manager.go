package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shotbot/internal/metrics"
	"shotbot/internal/oplog"
	"shotbot/internal/runtime/supervisor"
	"shotbot/internal/storage"
	"shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

// Auditor records operator actions. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Task is the handle of one spawned broadcast.
type Task struct {
	Job  *Job
	done chan struct{}
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		return t.Job.Status(), nil
	case <-ctx.Done():
		return t.Job.Status(), ctx.Err()
	}
}

// Manager starts broadcasts as supervised tasks and keeps track of them until they finish.
type Manager struct {
	reg     *Registry
	eng     *Engine
	sup     *supervisor.Supervisor
	adapter transport.Adapter
	audit   Auditor
	sink    oplog.Sink
	metrics *metrics.Metrics
	log     logx.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	// inflight counts task goroutines, including ones still reporting after release.
	inflight sync.WaitGroup
}

type ManagerDeps struct {
	Registry   *Registry
	Engine     *Engine
	Supervisor *supervisor.Supervisor
	Adapter    transport.Adapter
	Audit      Auditor    // optional
	Sink       oplog.Sink // optional
	Metrics    *metrics.Metrics
	Log        logx.Logger
}

func NewManager(d ManagerDeps) *Manager {
	if d.Sink == nil {
		d.Sink = oplog.Nop{}
	}
	return &Manager{
		reg:     d.Registry,
		eng:     d.Engine,
		sup:     d.Supervisor,
		adapter: d.Adapter,
		audit:   d.Audit,
		sink:    d.Sink,
		metrics: d.Metrics,
		log:     d.Log,
		tasks:   make(map[string]*Task),
	}
}

func (m *Manager) Registry() *Registry { return m.reg }

// Start registers a job, posts its status message into chat and spawns the delivery task.
// The registry slot is released when the task exits, whatever the outcome.
func (m *Manager) Start(ctx context.Context, adminID int64, chat transport.ChatTarget, text string) (*Task, error) {
	job := NewJob(adminID, text)
	h, err := m.reg.Acquire(job)
	if err != nil {
		return nil, err
	}

	ref, err := m.adapter.SendText(ctx, chat, startingText(job.ID), &transport.SendOptions{ParseMode: "HTML"})
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("send status message: %w", err)
	}
	job.StatusMessage = ref

	task := &Task{Job: job, done: make(chan struct{})}
	m.mu.Lock()
	m.tasks[job.ID] = task
	m.mu.Unlock()
	m.metrics.JobStarted()

	// retire frees the id and the task slot as soon as delivery ends, before the slow report.
	retire := sync.OnceFunc(func() {
		h.Release()
		m.mu.Lock()
		delete(m.tasks, job.ID)
		m.mu.Unlock()
		m.metrics.JobFinished(job.Status().String())
	})
	m.inflight.Add(1)
	m.sup.Go0("broadcast."+job.ID, func(ctx context.Context) {
		finished := false
		defer m.inflight.Done()
		defer func() {
			if !finished {
				job.setStatus(StatusFailed)
			}
			retire()
			close(task.done)
		}()
		st := m.eng.Run(ctx, job)
		finished = true
		retire()
		m.report(ctx, job, st)
	})
	return task, nil
}

func (m *Manager) report(ctx context.Context, job *Job, st Status) {
	p := job.Progress()
	ctx = context.WithoutCancel(ctx)
	if m.audit != nil {
		e := storage.AuditEntry{
			At:      time.Now(),
			ActorID: job.AdminID,
			Action:  "broadcast." + st.String(),
			Target:  job.ID,
			OK:      p.Sent,
			Fail:    p.Failed,
			TookMS:  p.Elapsed.Milliseconds(),
		}
		if err := m.audit.AppendAudit(ctx, e); err != nil {
			m.log.Warn("audit append failed", logx.String("broadcast", job.ID), logx.Err(err))
		}
	}
	line := fmt.Sprintf("#Broadcast <code>%s</code> by <code>%d</code>: %s, %d/%d sent, %d failed",
		job.ID, job.AdminID, st, p.Sent, p.Total, p.Failed)
	sctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	oplog.BestEffort(sctx, m.sink, line, m.log)
}

// Task returns the running task for id.
func (m *Manager) Task(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Wait blocks until the task for id finishes. Unknown ids return immediately.
func (m *Manager) Wait(ctx context.Context, id string) error {
	t, ok := m.Task(id)
	if !ok {
		return nil
	}
	_, err := t.Wait(ctx)
	return err
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Shutdown cancels every running job and waits for all tasks, reports included, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, t := range m.tasks {
		t.Job.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
