package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"shotbot/internal/transport"
)

// Session ties an options keyboard to the file it was built for.
type Session struct {
	UserID  int64
	Source  string
	Info    Info
	Created time.Time
}

// Sessions keeps recent sessions keyed by the options message.
type Sessions struct {
	mu    sync.Mutex
	items map[transport.MessageRef]Session
}

func NewSessions() *Sessions {
	return &Sessions{items: make(map[transport.MessageRef]Session)}
}

func (s *Sessions) Put(ref transport.MessageRef, sess Session) {
	if sess.Created.IsZero() {
		sess.Created = time.Now()
	}
	s.mu.Lock()
	s.items[ref] = sess
	s.mu.Unlock()
}

func (s *Sessions) Get(ref transport.MessageRef) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[ref]
	return sess, ok
}

// Prune drops sessions created before now-maxAge and returns how many were removed.
func (s *Sessions) Prune(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ref, sess := range s.items {
		if sess.Created.Before(cutoff) {
			delete(s.items, ref)
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ErrUnsupported is returned by processors that do not implement an action.
var ErrUnsupported = errors.New("media: action not supported")

// Processor performs the heavy work behind an option (screenshots, trimming, samples).
type Processor interface {
	Process(ctx context.Context, sess Session, a Action) error
}

// Unsupported rejects every action. It is the default until a worker backend is wired.
type Unsupported struct{}

func (Unsupported) Process(context.Context, Session, Action) error { return ErrUnsupported }
