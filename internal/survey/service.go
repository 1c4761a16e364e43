package survey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paulgrammer/surveyd/internal/notify"
	"github.com/paulgrammer/surveyd/internal/report"
	"github.com/paulgrammer/surveyd/internal/storage"
)

// Dispatcher delivers the acknowledgement.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message) notify.Outcome
}

type Config struct {
	Layout        storage.Layout
	Recorder      *Recorder
	Ledger        *Ledger
	Dispatcher    Dispatcher
	Report        report.Metadata
	PublicBaseURL string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Result is returned to the requester.
type Result struct {
	Status        string         `json:"status"`
	File          string         `json:"file"`
	Report        string         `json:"report,omitempty"`
	Notifications notify.Outcome `json:"notifications"`
}

// Service records a request, renders a pending report for the day and
// acknowledges the requester.
type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	if cfg.Recorder == nil {
		cfg.Recorder = NewRecorder(cfg.Layout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}
}

func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	req.Message = strings.TrimSpace(req.Message)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Message == "" {
		return Result{}, ErrEmptyMessage
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.cfg.Now()
	}
	logger := s.cfg.Logger.With("email", req.Email, "phone", req.Phone)

	file, err := s.cfg.Recorder.Record(req)
	if err != nil {
		return Result{}, fmt.Errorf("record request: %w", err)
	}
	RequestsTotal.Inc()

	if s.cfg.Ledger != nil {
		if err := s.cfg.Ledger.Append(req, file); err != nil {
			logger.Warn("failed to append request to ledger", "error", err)
		}
	}

	date := storage.DateFolder(req.CreatedAt)
	reportPath := s.cfg.Layout.ReportPath(date)
	err = report.WriteFile(reportPath, report.Report{
		SurveyDate:  date,
		GeneratedAt: req.CreatedAt,
		Metadata:    s.cfg.Report,
	})
	if err != nil {
		return Result{}, fmt.Errorf("write pending report: %w", err)
	}

	var outcome notify.Outcome
	if s.cfg.Dispatcher != nil {
		outcome = s.cfg.Dispatcher.Dispatch(ctx, notify.Message{
			Email:          req.Email,
			Phone:          req.Phone,
			Details:        req.Message,
			AttachmentPath: reportPath,
			MediaURL:       strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/report/download",
		})
	}
	logger.Info("survey request recorded", "file", file, "email_sent", outcome.Email, "whatsapp_sent", outcome.WhatsApp)

	return Result{
		Status:        "success",
		File:          file,
		Report:        reportPath,
		Notifications: outcome,
	}, nil
}
