package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: writers serialize anyway, and :memory: is per-connection
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs(
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			server_name TEXT NOT NULL,
			status TEXT NOT NULL,
			percentage INTEGER NOT NULL DEFAULT 0,
			message TEXT NULL,
			error TEXT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_server ON jobs(server_name);`,
		`CREATE TABLE IF NOT EXISTS samples(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			cpu_percent REAL NULL,
			rss INTEGER NOT NULL,
			vms INTEGER NOT NULL,
			players INTEGER NOT NULL,
			up BOOLEAN NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_server_ts ON samples(server, ts_ms);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) UpsertJob(ctx context.Context, rec store.JobRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs(id, type, server_name, status, percentage, message, error, started_at, completed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			percentage=excluded.percentage,
			message=excluded.message,
			error=excluded.error,
			completed_at=excluded.completed_at
		WHERE jobs.status NOT IN ('completed','failed')
			AND NOT (jobs.status='running' AND excluded.status='queued');`,
		rec.ID, rec.Type, rec.ServerName, rec.Status, rec.Percentage,
		store.NullString(rec.Message), store.NullString(rec.Error),
		rec.StartedAt.UTC(), store.NullTime(rec.CompletedAt))
	return err
}

func (s *DB) GetJob(ctx context.Context, id string) (store.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, server_name, status, percentage, message, error, started_at, completed_at
		FROM jobs WHERE id=?;`, id)
	if err != nil {
		return store.JobRecord{}, err
	}
	defer func() { _ = rows.Close() }()
	recs, err := store.ScanJobs(rows)
	if err != nil {
		return store.JobRecord{}, err
	}
	if len(recs) == 0 {
		return store.JobRecord{}, errs.NotFound("job %s", id)
	}
	return recs[0], nil
}

func (s *DB) ListJobs(ctx context.Context, server string, limit int) ([]store.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, server_name, status, percentage, message, error, started_at, completed_at
		FROM jobs
		WHERE ?='' OR server_name=?
		ORDER BY started_at DESC
		LIMIT ?;`, server, server, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanJobs(rows)
}

func (s *DB) AppendSample(ctx context.Context, smp store.Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO samples(server, ts_ms, cpu_percent, rss, vms, players, up)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		smp.Server, smp.Timestamp.UnixMilli(), store.NullFloat(smp.CPUPercent),
		int64(smp.ResidentMemory), int64(smp.VirtualMemory), smp.PlayerCount, smp.IsUp)
	return err
}

// Samples returns the newest samples since the given time, oldest first.
func (s *DB) Samples(ctx context.Context, server string, since time.Time, limit int) ([]store.Sample, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT server, ts_ms, cpu_percent, rss, vms, players, up FROM (
			SELECT id, server, ts_ms, cpu_percent, rss, vms, players, up
			FROM samples
			WHERE server=? AND ts_ms >= ?
			ORDER BY ts_ms DESC, id DESC
			LIMIT ?
		) ORDER BY ts_ms ASC, id ASC;`, server, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanSamples(rows)
}

func (s *DB) PurgeSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE ts_ms < ?;`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
