package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ontime/internal/model"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite stores firings in a single sqlite file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Firings are rare; a single connection avoids SQLITE_BUSY between
	// the cron goroutines and the web handlers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Record(ctx context.Context, f model.Firing) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if f.FiredAt.IsZero() {
		f.FiredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO firings(schedule_id, rule, fired_at, took_ms, actions, failures, err)
		 VALUES(?,?,?,?,?,?,?)`,
		f.ScheduleID, f.Rule, f.FiredAt.UnixMilli(), f.Took.Milliseconds(),
		f.Actions, f.Failures, nullStr(f.Error),
	)
	return err
}

func (s *SQLite) Recent(ctx context.Context, scheduleID string, limit int) ([]model.Firing, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := `SELECT id, schedule_id, rule, fired_at, took_ms, actions, failures, err FROM firings`
	args := []any{}
	if scheduleID != "" {
		q += ` WHERE schedule_id = ?`
		args = append(args, scheduleID)
	}
	q += ` ORDER BY fired_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Firing{}
	for rows.Next() {
		var (
			f       model.Firing
			firedMs int64
			tookMs  int64
			errStr  sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.ScheduleID, &f.Rule, &firedMs, &tookMs, &f.Actions, &f.Failures, &errStr); err != nil {
			return nil, err
		}
		f.FiredAt = time.UnixMilli(firedMs)
		f.Took = time.Duration(tookMs) * time.Millisecond
		f.Error = errStr.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM firings WHERE fired_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
