package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs(
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			server_name TEXT NOT NULL,
			status TEXT NOT NULL,
			percentage INTEGER NOT NULL DEFAULT 0,
			message TEXT NULL,
			error TEXT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_server ON jobs(server_name);`,
		`CREATE TABLE IF NOT EXISTS samples(
			id BIGSERIAL PRIMARY KEY,
			server TEXT NOT NULL,
			ts_ms BIGINT NOT NULL,
			cpu_percent DOUBLE PRECISION NULL,
			rss BIGINT NOT NULL,
			vms BIGINT NOT NULL,
			players INTEGER NOT NULL,
			up BOOLEAN NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_server_ts ON samples(server, ts_ms);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) UpsertJob(ctx context.Context, rec store.JobRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs(id, type, server_name, status, percentage, message, error, started_at, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT(id) DO UPDATE SET
			status=EXCLUDED.status,
			percentage=EXCLUDED.percentage,
			message=EXCLUDED.message,
			error=EXCLUDED.error,
			completed_at=EXCLUDED.completed_at
		WHERE jobs.status NOT IN ('completed','failed')
			AND NOT (jobs.status='running' AND EXCLUDED.status='queued');`,
		rec.ID, rec.Type, rec.ServerName, rec.Status, rec.Percentage,
		store.NullString(rec.Message), store.NullString(rec.Error),
		rec.StartedAt.UTC(), store.NullTime(rec.CompletedAt))
	return err
}

func (p *DB) GetJob(ctx context.Context, id string) (store.JobRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, server_name, status, percentage, message, error, started_at, completed_at
		FROM jobs WHERE id=$1;`, id)
	if err != nil {
		return store.JobRecord{}, err
	}
	defer rows.Close()
	recs, err := store.ScanJobs(rows)
	if err != nil {
		return store.JobRecord{}, err
	}
	if len(recs) == 0 {
		return store.JobRecord{}, errs.NotFound("job %s", id)
	}
	return recs[0], nil
}

func (p *DB) ListJobs(ctx context.Context, server string, limit int) ([]store.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, server_name, status, percentage, message, error, started_at, completed_at
		FROM jobs
		WHERE $1::text='' OR server_name=$1::text
		ORDER BY started_at DESC
		LIMIT $2;`, server, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return store.ScanJobs(rows)
}

func (p *DB) AppendSample(ctx context.Context, s store.Sample) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO samples(server, ts_ms, cpu_percent, rss, vms, players, up)
		VALUES($1,$2,$3,$4,$5,$6,$7);`,
		s.Server, s.Timestamp.UnixMilli(), store.NullFloat(s.CPUPercent),
		int64(s.ResidentMemory), int64(s.VirtualMemory), s.PlayerCount, s.IsUp)
	return err
}

func (p *DB) Samples(ctx context.Context, server string, since time.Time, limit int) ([]store.Sample, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT server, ts_ms, cpu_percent, rss, vms, players, up FROM (
			SELECT id, server, ts_ms, cpu_percent, rss, vms, players, up
			FROM samples
			WHERE server=$1 AND ts_ms >= $2
			ORDER BY ts_ms DESC, id DESC
			LIMIT $3
		) AS recent ORDER BY ts_ms ASC, id ASC;`, server, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return store.ScanSamples(rows)
}

func (p *DB) PurgeSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM samples WHERE ts_ms < $1;`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
