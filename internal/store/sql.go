package store

import (
	"database/sql"
	"time"
)

// Rows is the subset of *sql.Rows the scanners need.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanJobs reads rows of (id, type, server_name, status, percentage, message,
// error, started_at, completed_at).
func ScanJobs(rows Rows) ([]JobRecord, error) {
	out := make([]JobRecord, 0)
	for rows.Next() {
		var (
			r         JobRecord
			msg, e    sql.NullString
			completed sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.ServerName, &r.Status, &r.Percentage, &msg, &e, &r.StartedAt, &completed); err != nil {
			return nil, err
		}
		r.Message = msg.String
		r.Error = e.String
		r.StartedAt = r.StartedAt.UTC()
		if completed.Valid {
			t := completed.Time.UTC()
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScanSamples reads rows of (server, ts_ms, cpu, rss, vms, players, up).
func ScanSamples(rows Rows) ([]Sample, error) {
	out := make([]Sample, 0)
	for rows.Next() {
		var (
			s   Sample
			ms  int64
			cpu sql.NullFloat64
			rss int64
			vms int64
		)
		if err := rows.Scan(&s.Server, &ms, &cpu, &rss, &vms, &s.PlayerCount, &s.IsUp); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(ms).UTC()
		if cpu.Valid {
			v := cpu.Float64
			s.CPUPercent = &v
		}
		s.ResidentMemory = uint64(rss)
		s.VirtualMemory = uint64(vms)
		out = append(out, s)
	}
	return out, rows.Err()
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func NullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
