package client

import (
	"fmt"
	"time"
)

// Identity holds the process ids of a running server.
type Identity struct {
	WrapperPID int `json:"wrapper_pid,omitempty"`
	JavaPID    int `json:"java_pid,omitempty"`
}

// ServerStatus is the state of one server as reported by the daemon.
type ServerStatus struct {
	Name            string   `json:"name"`
	State           string   `json:"state"`
	Identity        Identity `json:"identity"`
	Port            int      `json:"port"`
	EULAAccepted    bool     `json:"eula_accepted"`
	RestartRequired bool     `json:"restart_required"`
	AutoStart       bool     `json:"auto_start"`
}

// CreateRequest creates a server. Zero Port lets the daemon allocate one.
type CreateRequest struct {
	Name       string `json:"name"`
	Port       int    `json:"port,omitempty"`
	MOTD       string `json:"motd,omitempty"`
	AcceptEULA bool   `json:"accept_eula,omitempty"`
}

// InstallState is the step detail of a modpack install.
type InstallState struct {
	CurrentStep    string   `json:"current_step"`
	StepPercentage int      `json:"step_percentage"`
	ModIndex       int      `json:"mod_index"`
	TotalMods      int      `json:"total_mods"`
	Output         []string `json:"output"`
	InstalledFiles []string `json:"installed_files"`
}

// Progress is one record of a job.
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

// Terminal reports whether the job has finished.
func (p Progress) Terminal() bool { return p.Status == "completed" || p.Status == "failed" }

// JobRecord is a stored job status.
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

// PingStatus is the status handshake result of a server.
type PingStatus struct {
	Version       string        `json:"version"`
	MOTD          string        `json:"motd"`
	PlayersOnline int           `json:"players_online"`
	PlayersMax    int           `json:"players_max"`
	Latency       time.Duration `json:"latency"`
}

// PingResponse reports whether a server answered its handshake.
type PingResponse struct {
	Online bool        `json:"online"`
	Host   string      `json:"host"`
	Port   int         `json:"port"`
	Status *PingStatus `json:"status,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx answer of the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

type jobResp struct {
	JobID string `json:"job_id"`
}
