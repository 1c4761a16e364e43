package jobs

import (
	"time"
)

type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// StartRequest asks for a mapping job over one date folder. Email and
// phone receive the result and may be empty.
type StartRequest struct {
	DateFolder string `json:"date"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Status is the snapshot of the current or most recent job. A snapshot is
// never modified after it is published; every transition publishes a new one.
type Status struct {
	Running    bool       `json:"running"`
	Completed  bool       `json:"completed"`
	Volume     *float64   `json:"volume"`
	MapImage   string     `json:"map_image"`
	GeoImage   string     `json:"geo_image"`
	JobID      string     `json:"job_id,omitempty"`
	DateFolder string     `json:"date_folder,omitempty"`
	ReportPath string     `json:"report_path,omitempty"`
	ReportURL  string     `json:"report_url,omitempty"`
	Simulated  bool       `json:"simulated"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Run is the history record of one job invocation.
type Run struct {
	ID           string     `json:"id"`
	DateFolder   string     `json:"date_folder"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	State        RunState   `json:"state"`
	Volume       *float64   `json:"volume,omitempty"`
	Simulated    bool       `json:"simulated"`
	ReportPath   string     `json:"report_path,omitempty"`
	MapImage     string     `json:"map_image,omitempty"`
	GeoImage     string     `json:"geo_image,omitempty"`
	EmailSent    bool       `json:"email_sent"`
	WhatsAppSent bool       `json:"whatsapp_sent"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
