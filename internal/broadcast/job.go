package broadcast

import (
	"sync/atomic"
	"time"

	"shotbot/internal/transport"
)

type Status int32

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is one fan-out of a text to every known user.
//
// Counters are written only by the engine goroutine and read by anyone.
type Job struct {
	ID      string
	AdminID int64
	Text    string
	// StatusMessage is the message edited in place with live progress (zero = none).
	StatusMessage transport.MessageRef
	CreatedAt     time.Time

	sent      atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64
	cancelled atomic.Bool
	status    atomic.Int32
	started   atomic.Int64 // unix nano
}

func NewJob(adminID int64, text string) *Job {
	return &Job{AdminID: adminID, Text: text, CreatedAt: time.Now()}
}

// Cancel requests cooperative cancellation. The engine stops before the next recipient.
func (j *Job) Cancel() { j.cancelled.Store(true) }

func (j *Job) CancelRequested() bool { return j.cancelled.Load() }

func (j *Job) Status() Status { return Status(j.status.Load()) }

func (j *Job) setStatus(s Status) { j.status.Store(int32(s)) }

// Progress is a consistent-enough snapshot of a job's counters.
type Progress struct {
	ID      string
	Status  Status
	Total   int
	Sent    int
	Failed  int
	Elapsed time.Duration
}

func (p Progress) Done() int { return p.Sent + p.Failed }

func (j *Job) Progress() Progress {
	p := Progress{
		ID:     j.ID,
		Status: j.Status(),
		Total:  int(j.total.Load()),
		Sent:   int(j.sent.Load()),
		Failed: int(j.failed.Load()),
	}
	if ns := j.started.Load(); ns > 0 {
		p.Elapsed = time.Since(time.Unix(0, ns))
	}
	return p
}
