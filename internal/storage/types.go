package storage

import (
	"context"
	"errors"
	"time"

	"shotbot/internal/calendar"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("user not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local maps, lost on restart (tests / dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// BanStatus is the ban part of a user record.
// When Banned is false, Since and Days carry no meaning.
type BanStatus struct {
	Banned bool
	Since  calendar.Date
	Days   int
}

// User is the persisted per-user profile.
type User struct {
	ID         int64
	JoinedOn   calendar.Date
	Ban        BanStatus
	LastActive calendar.Date
}

// Stats is a coarse activity summary used by /stats and the daily report.
type Stats struct {
	Total       int
	ActiveToday int
	Banned      int
}

// AuditEntry records an operator action (ban, unban, broadcast).
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	OK      int
	Fail    int
	Error   string
	TookMS  int64
}

// Store is the user-profile persistence API.
//
// Every mutating call is idempotent so callers may retry after transient failures.
type Store interface {
	Exists(ctx context.Context, id int64) (bool, error)
	// Register creates the user if missing; created reports whether this call inserted it.
	Register(ctx context.Context, id int64, today calendar.Date) (created bool, err error)

	BanStatus(ctx context.Context, id int64) (BanStatus, error)
	// Ban (re)bans the user starting at since for days days, registering them if needed.
	Ban(ctx context.Context, id int64, since calendar.Date, days int) error
	ClearBan(ctx context.Context, id int64) error

	// LastActiveDate returns the zero Date if the user never had one recorded.
	LastActiveDate(ctx context.Context, id int64) (calendar.Date, error)
	SetLastActiveDate(ctx context.Context, id int64, d calendar.Date) error

	ListUserIDs(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context, today calendar.Date) (Stats, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
