package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shotbot/internal/calendar"
	logx "shotbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %d: %w", id, err)
	}
	return true, nil
}

func (s *sqliteStore) Register(ctx context.Context, id int64, today calendar.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, joined_on) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		id, today.String(),
	)
	if err != nil {
		return false, fmt.Errorf("register %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) BanStatus(ctx context.Context, id int64) (BanStatus, error) {
	var (
		banned   int
		bannedOn sql.NullString
		days     int
	)
	err := s.db.QueryRowContext(ctx, `SELECT banned, banned_on, ban_days FROM users WHERE id = ?`, id).
		Scan(&banned, &bannedOn, &days)
	if errors.Is(err, sql.ErrNoRows) {
		return BanStatus{}, nil
	}
	if err != nil {
		return BanStatus{}, fmt.Errorf("ban status %d: %w", id, err)
	}
	if banned == 0 {
		return BanStatus{}, nil
	}
	since, err := calendar.Parse(bannedOn.String)
	if err != nil || since.IsZero() {
		// Unparseable start date: report as not banned so the row does not lock the user out forever.
		s.log.Warn("banned user has invalid banned_on", logx.UserID(id), logx.String("banned_on", bannedOn.String))
		return BanStatus{}, nil
	}
	return BanStatus{Banned: true, Since: since, Days: max(days, 0)}, nil
}

func (s *sqliteStore) Ban(ctx context.Context, id int64, since calendar.Date, days int) error {
	if days < 0 {
		return fmt.Errorf("ban %d: negative duration %d", id, days)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, joined_on, banned, banned_on, ban_days) VALUES(?, ?, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET banned = 1, banned_on = excluded.banned_on, ban_days = excluded.ban_days`,
		id, since.String(), since.String(), days,
	)
	if err != nil {
		return fmt.Errorf("ban %d: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) ClearBan(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET banned = 0, banned_on = NULL, ban_days = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear ban %d: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) LastActiveDate(ctx context.Context, id int64) (calendar.Date, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_used_on FROM users WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.Date{}, ErrNotFound
	}
	if err != nil {
		return calendar.Date{}, fmt.Errorf("last active %d: %w", id, err)
	}
	return calendar.Parse(v.String)
}

func (s *sqliteStore) SetLastActiveDate(ctx context.Context, id int64, d calendar.Date) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_used_on = ? WHERE id = ?`, d.String(), id)
	if err != nil {
		return fmt.Errorf("set last active %d: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 64)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context, today calendar.Date) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN last_used_on = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(banned), 0)
		 FROM users`, today.String()).
		Scan(&st.Total, &st.ActiveToday, &st.Banned)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, fail, err, took_ms) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
