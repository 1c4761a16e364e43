// Package jobs runs mapping jobs: one at a time, each on its own goroutine,
// publishing an immutable status snapshot that request handlers read.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/paulgrammer/surveyd/internal/events"
	"github.com/paulgrammer/surveyd/internal/mapping"
	"github.com/paulgrammer/surveyd/internal/notify"
	"github.com/paulgrammer/surveyd/internal/report"
	"github.com/paulgrammer/surveyd/internal/storage"
)

var (
	ErrJobRunning  = errors.New("a mapping job is already running")
	ErrInvalidDate = storage.ErrInvalidDate
)

// Dispatcher delivers the result of a job to its requester.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message) notify.Outcome
}

// Config wires a Manager.
type Config struct {
	Layout     storage.Layout
	Mapper     mapping.Runner
	Dispatcher Dispatcher
	Store      Store
	Events     events.Publisher
	Logger     *slog.Logger

	// Timeout bounds a single run of the mapping tool.
	Timeout time.Duration
	// SimulatedDelay is waited instead of running an unavailable tool.
	SimulatedDelay time.Duration
	Volume         mapping.VolumeOptions
	Report         report.Metadata
	// PublicBaseURL prefixes links sent to requesters.
	PublicBaseURL string

	Now func() time.Time
}

type Manager struct {
	cfg    Config
	logger *slog.Logger

	slot   Slot
	status atomic.Pointer[Status]

	mu   sync.Mutex
	done chan struct{} // closed when the latest job has finished

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Mapper == nil {
		return nil, errors.New("mapping runner is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewInMemoryStore()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	m.status.Store(&Status{})
	return m, nil
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// Busy reports whether a job holds the slot.
func (m *Manager) Busy() bool {
	return m.slot.Busy()
}

// Start begins a mapping job in the background. It fails with ErrJobRunning
// while another job holds the slot.
func (m *Manager) Start(req StartRequest) (Run, error) {
	if !storage.ValidDate(req.DateFolder) {
		return Run{}, fmt.Errorf("%w: %q", ErrInvalidDate, req.DateFolder)
	}
	if !m.slot.TryAcquire() {
		JobsRejectedTotal.Inc()
		return Run{}, ErrJobRunning
	}

	now := m.cfg.Now()
	run := Run{
		ID:         uuid.NewString(),
		DateFolder: req.DateFolder,
		Email:      strings.TrimSpace(req.Email),
		Phone:      strings.TrimSpace(req.Phone),
		State:      RunStateRunning,
		StartedAt:  now,
	}
	m.status.Store(&Status{
		Running:    true,
		JobID:      run.ID,
		DateFolder: run.DateFolder,
		StartedAt:  &now,
	})
	if err := m.cfg.Store.Create(&run); err != nil {
		m.logger.Warn("failed to record run", "job_id", run.ID, "error", err)
	}
	JobsStartedTotal.Inc()

	done := make(chan struct{})
	m.mu.Lock()
	m.done = done
	m.mu.Unlock()

	go m.execute(run, done)
	return run, nil
}

// finished returns a channel closed once the most recently started job has
// finished. It is closed already when no job was ever started.
func (m *Manager) finished() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		m.done = make(chan struct{})
		close(m.done)
	}
	return m.done
}

// Wait blocks until the in-flight job, if any, has finished.
func (m *Manager) Wait() {
	<-m.finished()
}

// Shutdown cancels the in-flight job and waits for it to wind down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	select {
	case <-m.finished():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History lists recent runs, newest first.
func (m *Manager) History(limit int) ([]Run, error) {
	return m.cfg.Store.List(limit)
}

func (m *Manager) execute(run Run, done chan struct{}) {
	defer close(done)
	defer m.slot.Release()

	JobsInProgress.Inc()
	defer JobsInProgress.Dec()
	start := time.Now()
	defer func() { JobDuration.Observe(time.Since(start).Seconds()) }()

	logger := m.logger.With("job_id", run.ID, "date_folder", run.DateFolder)
	logger.Info("mapping job started", "email", run.Email, "phone", run.Phone)
	m.publish(run, events.JobStarted)

	if err := m.safeProcess(logger, &run); err != nil {
		m.fail(logger, &run, err)
	}
}

func (m *Manager) safeProcess(logger *slog.Logger, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mapping job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.process(logger, run)
}

func (m *Manager) process(logger *slog.Logger, run *Run) error {
	ctx := m.ctx
	date := run.DateFolder

	if avail := m.cfg.Mapper.Available(ctx); !avail.Available {
		logger.Warn("mapping tool unavailable, continuing without tool output",
			"reason", avail.Reason, "delay", m.cfg.SimulatedDelay)
		select {
		case <-time.After(m.cfg.SimulatedDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		runCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		err := m.cfg.Mapper.Run(runCtx, date)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("mapping tool finished", "version", avail.Version)
	}

	vol, err := mapping.ExtractVolume(m.cfg.Layout.StatsPath(date), m.cfg.Volume)
	if err != nil {
		return err
	}
	if vol.Simulated {
		JobsSimulatedTotal.Inc()
		logger.Warn("stats not found, using simulated volume", "volume", vol.Value)
	}
	volume := vol.Value

	reportPath := m.cfg.Layout.ReportPath(date)
	err = report.WriteFile(reportPath, report.Report{
		SurveyDate:  date,
		GeneratedAt: m.cfg.Now(),
		Volume:      &volume,
		Simulated:   vol.Simulated,
		Metadata:    m.cfg.Report,
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	preview, err := mapping.PublishPreview(m.cfg.Layout, date)
	if err != nil {
		return fmt.Errorf("publish preview: %w", err)
	}

	finished := m.cfg.Now()
	started := run.StartedAt
	reportURL := m.reportURL()
	m.status.Store(&Status{
		Completed:  true,
		Volume:     &volume,
		MapImage:   preview.MapImage,
		GeoImage:   preview.GeoImage,
		JobID:      run.ID,
		DateFolder: date,
		ReportPath: reportPath,
		ReportURL:  reportURL,
		Simulated:  vol.Simulated,
		StartedAt:  &started,
		FinishedAt: &finished,
	})

	run.State = RunStateCompleted
	run.Volume = &volume
	run.Simulated = vol.Simulated
	run.ReportPath = reportPath
	run.MapImage = preview.MapImage
	run.GeoImage = preview.GeoImage
	run.FinishedAt = &finished
	m.updateRun(logger, run)
	JobsCompletedTotal.Inc()
	logger.Info("mapping job completed", "volume", volume, "simulated", vol.Simulated, "preview", preview.Source)

	if m.cfg.Dispatcher != nil && (run.Email != "" || run.Phone != "") {
		outcome := m.cfg.Dispatcher.Dispatch(ctx, notify.Message{
			Email: run.Email,
			Phone: run.Phone,
			Details: fmt.Sprintf("Automated Mapping Complete.\nDate: %s\nCalculated Volume: %s m³",
				date, formatVolume(volume)),
			AttachmentPath: reportPath,
			MediaURL:       reportURL,
		})
		run.EmailSent = outcome.Email
		run.WhatsAppSent = outcome.WhatsApp
		m.updateRun(logger, run)
	}

	m.publish(*run, events.JobCompleted)
	return nil
}

func (m *Manager) fail(logger *slog.Logger, run *Run, err error) {
	logger.Error("mapping job failed", "error", err)

	finished := m.cfg.Now()
	started := run.StartedAt
	m.status.Store(&Status{
		JobID:      run.ID,
		DateFolder: run.DateFolder,
		Error:      err.Error(),
		StartedAt:  &started,
		FinishedAt: &finished,
	})

	run.State = RunStateFailed
	run.Error = err.Error()
	run.FinishedAt = &finished
	m.updateRun(logger, run)
	JobsFailedTotal.Inc()
	m.publish(*run, events.JobFailed)
}

func (m *Manager) updateRun(logger *slog.Logger, run *Run) {
	if err := m.cfg.Store.Update(run); err != nil {
		logger.Warn("failed to update run", "error", err)
	}
}

func (m *Manager) publish(run Run, eventType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := m.cfg.Events.Publish(ctx, events.Event{
		Type:       eventType,
		JobID:      run.ID,
		DateFolder: run.DateFolder,
		Status:     string(run.State),
		Volume:     run.Volume,
		Simulated:  run.Simulated,
		ReportURL:  m.reportURLFor(run),
		Error:      run.Error,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		m.logger.Warn("failed to publish job event", "job_id", run.ID, "type", eventType, "error", err)
	}
}

func (m *Manager) reportURL() string {
	return strings.TrimRight(m.cfg.PublicBaseURL, "/") + "/report/download"
}

func (m *Manager) reportURLFor(run Run) string {
	if run.State != RunStateCompleted {
		return ""
	}
	return m.reportURL()
}

func formatVolume(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
