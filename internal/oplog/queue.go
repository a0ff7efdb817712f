package oplog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	logx "shotbot/pkg/logx"
)

// ErrQueueFull is returned by Queue.Emit when the buffer has no room.
var ErrQueueFull = errors.New("oplog: queue full")

// lineBudget bounds one BestEffort delivery, retry wait included.
const lineBudget = 45 * time.Second

// Queue is a Sink that returns immediately and delivers lines in order on a single
// worker started with Run. Lines queued while Run is not active wait in the buffer.
type Queue struct {
	sink    Sink
	log     logx.Logger
	ch      chan string
	dropped atomic.Uint64
}

func NewQueue(sink Sink, size int, log logx.Logger) *Queue {
	if sink == nil {
		sink = Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{sink: sink, log: log, ch: make(chan string, max(size, 1))}
}

// Emit enqueues text without waiting for delivery.
func (q *Queue) Emit(_ context.Context, text string) error {
	select {
	case q.ch <- text:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many lines were refused because the buffer was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Run delivers queued lines until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.ch); n > 0 {
				q.log.Debug("oplog queue stopped with pending lines", logx.Int("pending", n))
			}
			return
		case text := <-q.ch:
			lctx, cancel := context.WithTimeout(ctx, lineBudget)
			BestEffort(lctx, q.sink, text, q.log)
			cancel()
		}
	}
}
