package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"shotbot/internal/calendar"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	users map[int64]*User
	audit []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{users: make(map[int64]*User)}
}

func (m *Memory) Exists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *Memory) Register(_ context.Context, id int64, today calendar.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; ok {
		return false, nil
	}
	m.users[id] = &User{ID: id, JoinedOn: today}
	return true, nil
}

func (m *Memory) BanStatus(_ context.Context, id int64) (BanStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return BanStatus{}, nil
	}
	return u.Ban, nil
}

func (m *Memory) Ban(_ context.Context, id int64, since calendar.Date, days int) error {
	if days < 0 {
		return fmt.Errorf("ban %d: negative duration %d", id, days)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &User{ID: id, JoinedOn: since}
		m.users[id] = u
	}
	u.Ban = BanStatus{Banned: true, Since: since, Days: days}
	return nil
}

func (m *Memory) ClearBan(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Ban = BanStatus{}
	}
	return nil
}

func (m *Memory) LastActiveDate(_ context.Context, id int64) (calendar.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return calendar.Date{}, ErrNotFound
	}
	return u.LastActive, nil
}

func (m *Memory) SetLastActiveDate(_ context.Context, id int64, d calendar.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastActive = d
	}
	return nil
}

func (m *Memory) ListUserIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) Stats(_ context.Context, today calendar.Date) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Total: len(m.users)}
	for _, u := range m.users {
		if u.LastActive == today {
			st.ActiveToday++
		}
		if u.Ban.Banned {
			st.Banned++
		}
	}
	return st, nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.audit)
}

func (m *Memory) Close() error { return nil }
