package jobs

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/loykin/craftd/internal/store"
)

// MaxOutputLines bounds the rolling output log of an install.
const MaxOutputLines = 200

// Progress is one record of a progress stream.
type Progress struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	ServerName string        `json:"server_name"`
	Status     string        `json:"status"`
	Percentage int           `json:"percentage"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Install    *InstallState `json:"install,omitempty"`
}

// Terminal reports whether p is the last record of its stream.
func (p Progress) Terminal() bool { return store.IsTerminal(p.Status) }

// InstallState is the in-memory detail of a multi-step install. It is lost
// when the daemon restarts; the JobRecord is not.
type InstallState struct {
	CurrentStep    string   `json:"current_step"`
	StepPercentage int      `json:"step_percentage"`
	ModIndex       int      `json:"mod_index"`
	TotalMods      int      `json:"total_mods"`
	Output         []string `json:"output"`
	InstalledFiles []string `json:"installed_files"`
}

func (s *InstallState) clone() *InstallState {
	if s == nil {
		return nil
	}
	c := *s
	c.Output = slices.Clone(s.Output)
	c.InstalledFiles = slices.Clone(s.InstalledFiles)
	return &c
}

// Func is the body of a job. It reports progress through t and should return
// promptly once ctx is cancelled.
type Func func(ctx context.Context, t *Tracker) error

type job struct {
	mu      sync.Mutex
	rec     store.JobRecord
	install *InstallState
	fn      Func
	cancel  context.CancelFunc
	onSnap  func(store.JobRecord)
}

func (j *job) snapshot() store.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec
}

func (j *job) progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Progress{
		ID:         j.rec.ID,
		Type:       j.rec.Type,
		ServerName: j.rec.ServerName,
		Status:     j.rec.Status,
		Percentage: j.rec.Percentage,
		Message:    j.rec.Message,
		Error:      j.rec.Error,
		Timestamp:  time.Now().UTC(),
		Install:    j.install.clone(),
	}
}

// transition moves the job forward. It returns false when the move would go
// backwards or leave a terminal status.
func (j *job) transition(status, errMsg string) (store.JobRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if store.IsTerminal(j.rec.Status) || store.StatusRank(status) <= store.StatusRank(j.rec.Status) {
		return j.rec, false
	}
	j.rec.Status = status
	if status == store.StatusCompleted {
		j.rec.Percentage = 100
	}
	if status == store.StatusFailed {
		j.rec.Error = errMsg
	}
	if store.IsTerminal(status) {
		now := time.Now().UTC()
		j.rec.CompletedAt = &now
		j.cancel = nil
	}
	return j.rec, true
}

// update applies fn while the job is running and emits a snapshot.
func (j *job) update(fn func()) {
	j.mu.Lock()
	if store.IsTerminal(j.rec.Status) {
		j.mu.Unlock()
		return
	}
	fn()
	rec := j.rec
	emit := j.onSnap
	j.mu.Unlock()
	if emit != nil {
		emit(rec)
	}
}

// Tracker is handed to a running job to report progress.
type Tracker struct {
	j *job
}

// ID returns the job id.
func (t *Tracker) ID() string { return t.j.rec.ID }

// Report sets overall percentage and message. Percentage never moves down.
func (t *Tracker) Report(pct int, msg string) {
	t.j.update(func() {
		pct = min(max(pct, 0), 100)
		if pct > t.j.rec.Percentage {
			t.j.rec.Percentage = pct
		}
		if msg != "" {
			t.j.rec.Message = msg
		}
	})
}

// Step records the current install step and its own percentage.
func (t *Tracker) Step(name string, stepPct int) {
	t.j.update(func() {
		st := t.j.installState()
		st.CurrentStep = name
		st.StepPercentage = min(max(stepPct, 0), 100)
	})
}

// Mods records mod progress.
func (t *Tracker) Mods(index, total int) {
	t.j.update(func() {
		st := t.j.installState()
		st.ModIndex = index
		st.TotalMods = total
	})
}

// Logf appends a line to the rolling output log.
func (t *Tracker) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.j.update(func() {
		st := t.j.installState()
		st.Output = append(st.Output, line)
		if n := len(st.Output); n > MaxOutputLines {
			st.Output = slices.Clone(st.Output[n-MaxOutputLines:])
		}
	})
}

// AddFile records a file written by the job.
func (t *Tracker) AddFile(path string) {
	t.j.update(func() {
		st := t.j.installState()
		st.InstalledFiles = append(st.InstalledFiles, path)
	})
}

// Install returns a copy of the install detail, nil for simple jobs.
func (t *Tracker) Install() *InstallState {
	t.j.mu.Lock()
	defer t.j.mu.Unlock()
	return t.j.install.clone()
}

func (j *job) installState() *InstallState {
	if j.install == nil {
		j.install = &InstallState{}
	}
	return j.install
}
