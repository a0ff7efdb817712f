// Package floodgate implements the per-user minimum-interval throttle.
package floodgate

import (
	"sync"
	"time"
)

const shardCount = 32

// Gate remembers the last accepted request time (unix seconds) per user.
// State is process-local and resets on restart.
//
// Users are spread over shards, each with its own mutex, so the
// read-compare-write in TryAdmit is atomic per user without a global lock.
type Gate struct {
	shards [shardCount]shard
}

type shard struct {
	mu   sync.Mutex
	last map[int64]int64
}

func New() *Gate {
	g := &Gate{}
	for i := range g.shards {
		g.shards[i].last = map[int64]int64{}
	}
	return g
}

func (g *Gate) shardFor(userID int64) *shard {
	h := uint64(userID) * 0x9E3779B97F4A7C15
	return &g.shards[h>>59%shardCount]
}

// TryAdmit reports whether a request from userID at now is admitted.
// A rejected request leaves the stored timestamp untouched.
// Timestamps have one-second resolution, so a fractional minInterval is rounded up.
func (g *Gate) TryAdmit(userID int64, now time.Time, minInterval time.Duration) bool {
	nowSec := now.Unix()
	interval := intervalSeconds(minInterval)

	sh := g.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	last, ok := sh.last[userID]
	if !ok {
		last = nowSec - interval - 1
	}
	if nowSec-last < interval {
		return false
	}
	// Keep timestamps monotonic even if the caller's clock steps backwards.
	if nowSec > last {
		sh.last[userID] = nowSec
	}
	return true
}

func intervalSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Last returns the last accepted timestamp for userID.
func (g *Gate) Last(userID int64) (time.Time, bool) {
	sh := g.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.last[userID]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(v, 0), true
}

// Prune drops entries last accepted before now-olderThan and returns how many were removed.
// Callers must pass olderThan >= the admission interval; a pruned entry then behaves
// exactly like a missing one.
func (g *Gate) Prune(now time.Time, olderThan time.Duration) int {
	cutoff := now.Add(-olderThan).Unix()
	removed := 0
	for i := range g.shards {
		sh := &g.shards[i]
		sh.mu.Lock()
		for id, ts := range sh.last {
			if ts < cutoff {
				delete(sh.last, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked users.
func (g *Gate) Len() int {
	n := 0
	for i := range g.shards {
		sh := &g.shards[i]
		sh.mu.Lock()
		n += len(sh.last)
		sh.mu.Unlock()
	}
	return n
}
