// Package httpapi exposes the survey service over HTTP: chat and mapping
// triggers, survey requests, stored media, reports and the live camera feed.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paulgrammer/surveyd/internal/capture"
	"github.com/paulgrammer/surveyd/internal/chat"
	"github.com/paulgrammer/surveyd/internal/jobs"
	"github.com/paulgrammer/surveyd/internal/storage"
	"github.com/paulgrammer/surveyd/internal/survey"
)

// Mapping is the job manager as seen by the API.
type Mapping interface {
	Start(req jobs.StartRequest) (jobs.Run, error)
	Status() jobs.Status
	History(limit int) ([]jobs.Run, error)
}

type Assistant interface {
	Handle(req chat.Request) chat.Response
}

type Surveys interface {
	Submit(ctx context.Context, req survey.Request) (survey.Result, error)
}

type Deps struct {
	Layout    storage.Layout
	Mapping   Mapping
	Assistant Assistant
	Surveys   Surveys
	Frames    *capture.Broadcaster
	Logger    *slog.Logger
	Now       func() time.Time
}

type router struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Frames == nil {
		d.Frames = capture.NewBroadcaster()
	}
	r := &router{Deps: d}

	m := http.NewServeMux()
	m.HandleFunc("GET /healthz", r.handleHealth)
	m.Handle("GET /metrics", promhttp.Handler())

	m.HandleFunc("POST /api/chat", r.handleChat)
	m.HandleFunc("POST /api/mapping", r.handleStartMapping)
	m.HandleFunc("GET /api/mapping/status", r.handleMappingStatus)
	m.HandleFunc("GET /api/mapping/runs", r.handleMappingRuns)
	m.HandleFunc("POST /api/requests", r.handleSurveyRequest)

	m.HandleFunc("GET /api/statistics", r.handleStatistics)
	m.HandleFunc("GET /api/surveys", r.handleSurveys)
	m.HandleFunc("GET /api/surveys/{date}", r.handleSurvey)
	m.HandleFunc("GET /api/analytics", r.handleAnalytics)
	m.HandleFunc("GET /media/{date}/{kind}/{filename}", r.handleMedia)

	m.HandleFunc("GET /report.pdf", r.handleReport)
	m.HandleFunc("GET /report/download", r.handleReportDownload)
	m.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(d.Layout.StaticDir))))

	m.HandleFunc("GET /video", r.handleVideo)
	m.HandleFunc("GET /video/ws", r.handleVideoWS)

	return logging(d.Logger, m)
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder keeps the response code for logging. It passes Flush and
// Hijack through so streaming and websocket handlers keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func logging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed.String())
	})
}
