// Package events publishes mapping job lifecycle events to external sinks.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
)

// Event is a single job lifecycle transition.
type Event struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	DateFolder string    `json:"date_folder"`
	Status     string    `json:"status"`
	Volume     *float64  `json:"volume,omitempty"`
	Simulated  bool      `json:"simulated,omitempty"`
	ReportURL  string    `json:"report_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
