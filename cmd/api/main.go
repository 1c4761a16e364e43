package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/paulgrammer/surveyd/internal/capture"
	"github.com/paulgrammer/surveyd/internal/chat"
	"github.com/paulgrammer/surveyd/internal/config"
	"github.com/paulgrammer/surveyd/internal/events"
	"github.com/paulgrammer/surveyd/internal/executor"
	"github.com/paulgrammer/surveyd/internal/httpapi"
	"github.com/paulgrammer/surveyd/internal/jobs"
	"github.com/paulgrammer/surveyd/internal/logging"
	"github.com/paulgrammer/surveyd/internal/mapping"
	"github.com/paulgrammer/surveyd/internal/notify"
	"github.com/paulgrammer/surveyd/internal/report"
	"github.com/paulgrammer/surveyd/internal/storage"
	"github.com/paulgrammer/surveyd/internal/supervisor"
	"github.com/paulgrammer/surveyd/internal/survey"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "surveyd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("SURVEYD_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableSource,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	layout := storage.Layout{Root: cfg.Storage.Root, StaticDir: cfg.Storage.StaticDir}
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	if err := os.MkdirAll(layout.StaticDir, 0o755); err != nil {
		return fmt.Errorf("create static dir: %w", err)
	}

	// Core components
	dispatcher := notify.NewDispatcher(
		notify.NewEmailNotifier(notify.EmailConfig{
			Host:         cfg.Notify.Email.Host,
			Port:         cfg.Notify.Email.Port,
			Username:     cfg.Notify.Email.Username,
			Password:     cfg.Notify.Email.Password,
			FromName:     cfg.Notify.Email.FromName,
			ImplicitTLS:  cfg.Notify.Email.Port == 465,
			Timeout:      cfg.Notify.Email.Timeout,
			RetryBackoff: cfg.Notify.Email.RetryBackoff,
		}),
		notify.NewWhatsAppNotifier(notify.WhatsAppConfig{
			APIBaseURL:         cfg.Notify.WhatsApp.APIBaseURL,
			AccountSID:         cfg.Notify.WhatsApp.AccountSID,
			AuthToken:          cfg.Notify.WhatsApp.AuthToken,
			From:               cfg.Notify.WhatsApp.From,
			DefaultCountryCode: cfg.Notify.WhatsApp.DefaultCountryCode,
			Timeout:            cfg.Notify.WhatsApp.Timeout,
			RetryBackoff:       cfg.Notify.WhatsApp.RetryBackoff,
		}, nil),
		logger,
	)

	publisher, closeEvents := newPublisher(cfg.Events, logger)
	defer closeEvents()

	store, closeStore, err := newStore(cfg.History)
	if err != nil {
		return err
	}
	defer closeStore()

	reportMeta := report.Metadata{
		Organization: cfg.Report.Organization,
		Methodology:  cfg.Report.Methodology,
		SurveyOutput: cfg.Report.SurveyOutput,
		LogoPath:     cfg.Report.LogoPath,
	}

	runner := executor.NewExecRunner(executor.WithLogger(logger))
	manager, err := jobs.NewManager(jobs.Config{
		Layout: layout,
		Mapper: mapping.NewDockerRunner(mapping.DockerConfig{
			Binary:       cfg.Mapping.DockerBinary,
			Image:        cfg.Mapping.Image,
			ExtraArgs:    cfg.Mapping.ExtraArgs,
			StorageRoot:  layout.Root,
			ProbeTimeout: cfg.Mapping.ProbeTimeout,
		}, runner, logger),
		Dispatcher:     dispatcher,
		Store:          store,
		Events:         publisher,
		Logger:         logger,
		Timeout:        cfg.Mapping.Timeout,
		SimulatedDelay: cfg.Mapping.SimulatedDelay,
		Volume: mapping.VolumeOptions{
			AssumedHeight: cfg.Mapping.AssumedHeight,
			Simulate:      cfg.Mapping.SimulateVolume,
			SimulatedMin:  cfg.Mapping.VolumeMin,
			SimulatedMax:  cfg.Mapping.VolumeMax,
		},
		Report:        reportMeta,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize manager: %w", err)
	}

	baseURL := strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	assistant := chat.NewAssistant(manager, baseURL+"/report/download", logger)
	surveys := survey.NewService(survey.Config{
		Layout:        layout,
		Ledger:        survey.NewLedger(filepath.Join(cfg.Storage.LogsDir, "survey_requests.xlsx")),
		Dispatcher:    dispatcher,
		Report:        reportMeta,
		PublicBaseURL: baseURL,
		Logger:        logger,
	})

	frames := capture.NewBroadcaster()
	defer frames.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Layout:    layout,
			Mapping:   manager,
			Assistant: assistant,
			Surveys:   surveys,
			Frames:    frames,
			Logger:    logger,
		}),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		// no WriteTimeout: /video streams stay open
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout))
	if cfg.Capture.Enabled {
		tree.AddCaptureService(capture.NewLoop(capture.Config{
			Layout:           layout,
			ShotURL:          cfg.Capture.ShotURL,
			FetchTimeout:     cfg.Capture.FetchTimeout,
			RetryBackoff:     cfg.Capture.RetryBackoff,
			SnapshotInterval: cfg.Capture.SnapshotInterval,
			FPS:              cfg.Capture.VideoFPS,
			MaxVideoBytes:    cfg.Capture.MaxVideoBytes,
			Broadcaster:      frames,
			Logger:           logger,
		}))
	} else {
		logger.Info("capture disabled")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server listening", "addr", cfg.Server.Addr, "storage", layout.Root)
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logger.Error("supervisor stopped", "error", treeErr)
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logger.Warn("services did not stop in time", "count", len(unstopped))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("mapping job did not stop in time", "error", err)
	}
	return nil
}

// newPublisher builds the lifecycle event sinks. A broker that cannot be
// reached is logged and skipped; events are best effort.
func newPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, func()) {
	var sinks events.Multi
	closers := []func(){}

	if cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookTimeout, cfg.WebhookRetries))
	}
	if cfg.AMQP.URL != "" {
		p, err := events.DialAMQP(events.AMQPConfig{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		}, logger)
		if err != nil {
			logger.Warn("event broker unavailable, continuing without it", "error", err)
		} else {
			sinks = append(sinks, p)
			closers = append(closers, func() {
				if err := p.Close(); err != nil {
					logger.Warn("failed to close event broker connection", "error", err)
				}
			})
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return events.Nop{}, closeAll
	}
	return sinks, closeAll
}

func newStore(cfg config.HistoryConfig) (jobs.Store, func(), error) {
	if cfg.Driver == "sqlite" {
		s, err := jobs.NewSQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open run history: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	}
	return jobs.NewInMemoryStore(), func() {}, nil
}
