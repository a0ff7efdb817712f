package floodgate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func at(sec int64) time.Time { return time.Unix(sec, 0) }

func TestTryAdmitSequence(t *testing.T) {
	g := New()
	const uid = 7
	interval := 10 * time.Second

	steps := []struct {
		now  int64
		want bool
	}{
		{100, true},  // first contact always passes
		{105, false}, // within interval
		{109, false},
		{111, true}, // new floor = 111
		{115, false},
		{121, true}, // exactly interval later
	}
	for _, s := range steps {
		if got := g.TryAdmit(uid, at(s.now), interval); got != s.want {
			t.Fatalf("TryAdmit(t=%d) = %v, want %v", s.now, got, s.want)
		}
	}
	last, ok := g.Last(uid)
	if !ok || last.Unix() != 121 {
		t.Fatalf("last = %v (ok=%v), want 121", last.Unix(), ok)
	}
}

func TestRejectDoesNotMoveFloor(t *testing.T) {
	g := New()
	interval := 10 * time.Second
	g.TryAdmit(1, at(100), interval)
	for s := int64(101); s < 110; s++ {
		g.TryAdmit(1, at(s), interval)
	}
	if last, _ := g.Last(1); last.Unix() != 100 {
		t.Fatalf("floor moved to %d on rejected requests", last.Unix())
	}
}

func TestUsersAreIndependent(t *testing.T) {
	g := New()
	interval := 10 * time.Second
	if !g.TryAdmit(1, at(100), interval) || !g.TryAdmit(2, at(100), interval) {
		t.Fatalf("first request of each user must pass")
	}
	if g.TryAdmit(1, at(101), interval) {
		t.Fatalf("user 1 should be throttled")
	}
}

func TestZeroIntervalAlwaysAdmits(t *testing.T) {
	g := New()
	for i := 0; i < 3; i++ {
		if !g.TryAdmit(1, at(100), 0) {
			t.Fatalf("zero interval must admit (iteration %d)", i)
		}
	}
}

func TestSubSecondIntervalRoundsUp(t *testing.T) {
	g := New()
	if !g.TryAdmit(1, at(100), 500*time.Millisecond) {
		t.Fatalf("first contact rejected")
	}
	if g.TryAdmit(1, at(100), 500*time.Millisecond) {
		t.Fatalf("same-second request admitted with a 500ms interval")
	}
	if !g.TryAdmit(1, at(101), 500*time.Millisecond) {
		t.Fatalf("next-second request rejected")
	}

	g.TryAdmit(2, at(100), 1500*time.Millisecond)
	if g.TryAdmit(2, at(101), 1500*time.Millisecond) {
		t.Fatalf("1.5s interval admitted after one second")
	}
	if !g.TryAdmit(2, at(102), 1500*time.Millisecond) {
		t.Fatalf("1.5s interval rejected after two seconds")
	}
}

func TestClockStepBackKeepsMonotonicFloor(t *testing.T) {
	g := New()
	g.TryAdmit(1, at(200), 0)
	g.TryAdmit(1, at(150), 0)
	if last, _ := g.Last(1); last.Unix() != 200 {
		t.Fatalf("floor went backwards to %d", last.Unix())
	}
}

func TestConcurrentSameUserSingleAdmit(t *testing.T) {
	g := New()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.TryAdmit(42, at(1000), 5*time.Second) {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if n := admitted.Load(); n != 1 {
		t.Fatalf("admitted %d concurrent requests, want exactly 1", n)
	}
}

func TestPrune(t *testing.T) {
	g := New()
	g.TryAdmit(1, at(100), time.Second)
	g.TryAdmit(2, at(500), time.Second)

	if n := g.Prune(at(600), 200*time.Second); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, ok := g.Last(1); ok {
		t.Fatalf("user 1 should have been pruned")
	}
	if g.Len() != 1 {
		t.Fatalf("len = %d, want 1", g.Len())
	}
}
