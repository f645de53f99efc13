// Package store persists job records and performance samples.
package store

import (
	"context"
	"time"
)

// Job statuses. Transitions only move forward: queued, running, then one
// terminal status.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IsTerminal reports whether status ends a job.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// StatusRank orders statuses for the forward-only check.
func StatusRank(status string) int {
	switch status {
	case StatusQueued:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return 0
}

// JobRecord is the durable state of one background job, keyed by ID.
type JobRecord struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	ServerName  string     `json:"server_name"`
	Status      string     `json:"status"`
	Percentage  int        `json:"percentage"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Sample is one point-in-time measurement of a server.
type Sample struct {
	Server         string    `json:"server"`
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     *float64  `json:"cpu_percent,omitempty"`
	ResidentMemory uint64    `json:"resident_memory"`
	VirtualMemory  uint64    `json:"virtual_memory"`
	PlayerCount    int       `json:"player_count"`
	IsUp           bool      `json:"is_up"`
}

// JobStore is the durable side of the job engine. UpsertJob is idempotent and
// never moves a stored record backwards.
type JobStore interface {
	UpsertJob(ctx context.Context, rec JobRecord) error
	GetJob(ctx context.Context, id string) (JobRecord, error)
	ListJobs(ctx context.Context, server string, limit int) ([]JobRecord, error)
}

type SampleStore interface {
	AppendSample(ctx context.Context, s Sample) error
	Samples(ctx context.Context, server string, since time.Time, limit int) ([]Sample, error)
	PurgeSamplesBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store is implemented by each SQL backend.
type Store interface {
	JobStore
	SampleStore
	EnsureSchema(ctx context.Context) error
	Close() error
}
