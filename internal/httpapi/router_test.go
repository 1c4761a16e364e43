package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgrammer/surveyd/internal/capture"
	"github.com/paulgrammer/surveyd/internal/chat"
	"github.com/paulgrammer/surveyd/internal/jobs"
	"github.com/paulgrammer/surveyd/internal/storage"
	"github.com/paulgrammer/surveyd/internal/survey"
)

var today = time.Date(2026, 2, 10, 9, 30, 0, 0, time.Local)

type fakeMapping struct {
	mu        sync.Mutex
	startErr  error
	status    jobs.Status
	runs      []jobs.Run
	lastLimit int
	started   []jobs.StartRequest
}

func (f *fakeMapping) Start(req jobs.StartRequest) (jobs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return jobs.Run{}, f.startErr
	}
	f.started = append(f.started, req)
	return jobs.Run{ID: "job-1", DateFolder: req.DateFolder, State: jobs.RunStateRunning}, nil
}

func (f *fakeMapping) Status() jobs.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeMapping) History(limit int) ([]jobs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.runs, nil
}

type fixture struct {
	layout  storage.Layout
	mapping *fakeMapping
	frames  *capture.Broadcaster
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	layout := storage.Layout{Root: filepath.Join(dir, "storage"), StaticDir: filepath.Join(dir, "static")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{layout: layout, mapping: &fakeMapping{}, frames: capture.NewBroadcaster()}
	f.handler = NewRouter(Deps{
		Layout:    layout,
		Mapping:   f.mapping,
		Assistant: chat.NewAssistant(f.mapping, "http://example.com/report/download", logger),
		Surveys:   survey.NewService(survey.Config{Layout: layout, Logger: logger, Now: func() time.Time { return today }}),
		Frames:    f.frames,
		Logger:    logger,
		Now:       func() time.Time { return today },
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestStartMapping(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"accepted", `{"date":"2026-02-10","email":"ops@example.com"}`, nil, http.StatusAccepted},
		{"running", `{"date":"2026-02-10"}`, jobs.ErrJobRunning, http.StatusConflict},
		{"invalid date", `{"date":"10-02-2026"}`, fmt.Errorf("%w: %q", jobs.ErrInvalidDate, "10-02-2026"), http.StatusBadRequest},
		{"bad json", `{"date":`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mapping.startErr = tt.startErr
			rec := f.do(http.MethodPost, "/api/mapping", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/mapping", `{"date":"2026-02-10","email":"ops@example.com"}`)
	body := decode(t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "running", body["status"])
	require.Len(t, f.mapping.started, 1)
	assert.Equal(t, "ops@example.com", f.mapping.started[0].Email)
}

func TestMappingStatusAndRuns(t *testing.T) {
	f := newFixture(t)
	vol := 812.5
	f.mapping.status = jobs.Status{Completed: true, Volume: &vol, DateFolder: "2026-02-10"}
	f.mapping.runs = []jobs.Run{{ID: "a"}, {ID: "b"}}

	rec := f.do(http.MethodGet, "/api/mapping/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)
	assert.Equal(t, true, st["completed"])
	assert.Equal(t, 812.5, st["volume"])

	rec = f.do(http.MethodGet, "/api/mapping/runs?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.mapping.lastLimit)
	assert.Len(t, decode(t, rec)["runs"], 2)

	f.do(http.MethodGet, "/api/mapping/runs", "")
	assert.Equal(t, defaultRunsLimit, f.mapping.lastLimit)

	rec = f.do(http.MethodGet, "/api/mapping/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/chat", `{"message":"status"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chat.ReplyNotStarted, decode(t, rec)["reply"])

	rec = f.do(http.MethodPost, "/api/chat", `{"message":"generate mapping for 2026-02-09","phone":"9876543210"}`)
	body := decode(t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "2026-02-09", body["date"])

	rec = f.do(http.MethodPost, "/api/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSurveyRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/requests", `{"message":"survey pit 3","email":"ops@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "093000_request.txt", body["file"])
	assert.FileExists(t, filepath.Join(f.layout.RequestsDir("2026-02-10"), "093000_request.txt"))

	rec = f.do(http.MethodPost, "/api/requests", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSurveysAndStatistics(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.layout.ImagesDir("2026-02-10"), "a.jpg"), "img")
	writeFile(t, filepath.Join(f.layout.VideosDir("2026-02-10"), "v.avi"), "vid")
	writeFile(t, filepath.Join(f.layout.ImagesDir("2026-02-09"), "b.jpg"), "img")

	rec := f.do(http.MethodGet, "/api/surveys", "")
	assert.Equal(t, []any{"2026-02-10", "2026-02-09"}, decode(t, rec)["surveys"])

	rec = f.do(http.MethodGet, "/api/surveys/2026-02-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode(t, rec)
	assert.Equal(t, []any{"a.jpg"}, s["images"])
	assert.Equal(t, []any{"v.avi"}, s["videos"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/surveys/2025-01-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/surveys/2026-13-45", "").Code)

	rec = f.do(http.MethodGet, "/api/statistics", "")
	stats := decode(t, rec)
	assert.Equal(t, float64(1), stats["images"])
	assert.Equal(t, float64(1), stats["videos"])

	rec = f.do(http.MethodGet, "/api/analytics", "")
	assert.Equal(t, float64(2), decode(t, rec)["total_surveys"])
}

func TestMedia(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.layout.ImagesDir("2026-02-10"), "shot.jpg"), "jpeg-bytes")
	writeFile(t, filepath.Join(f.layout.RequestsDir("2026-02-10"), "r.txt"), "secret")

	rec := f.do(http.MethodGet, "/media/2026-02-10/images/shot.jpg", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())

	for _, target := range []string{
		"/media/2026-02-10/requests/r.txt",
		"/media/2026-02-10/images/missing.jpg",
		"/media/notadate/images/shot.jpg",
		"/media/2026-02-10/thumbs/shot.jpg",
	} {
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, target, "").Code, target)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/report.pdf", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), reportNotReady)

	writeFile(t, f.layout.ReportPath("2026-02-10"), "%PDF-today")
	rec = f.do(http.MethodGet, "/report.pdf", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("content-type"))
	assert.Equal(t, "%PDF-today", rec.Body.String())

	// a completed job's report wins over today's
	writeFile(t, f.layout.ReportPath("2026-02-01"), "%PDF-job")
	f.mapping.status = jobs.Status{Completed: true, ReportPath: f.layout.ReportPath("2026-02-01")}
	rec = f.do(http.MethodGet, "/report/download", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="Mining_Report.pdf"`, rec.Header().Get("content-disposition"))
	assert.Equal(t, "%PDF-job", rec.Body.String())
}

func TestStatic(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.layout.LatestGeoPath(), "latest")
	rec := f.do(http.MethodGet, storage.LatestGeoURL, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "latest", rec.Body.String())
}

func TestVideoWebsocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	f.frames.Broadcast([]byte("frame-1"))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/video/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte("frame-1"), data)

	require.Eventually(t, func() bool { return f.frames.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.frames.Broadcast([]byte("frame-2"))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-2"), data)
}

func TestVideoMJPEG(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	f.frames.Broadcast([]byte("jpeg-frame"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("content-type"))

	tp := textproto.NewReader(bufio.NewReader(resp.Body))
	line, err := tp.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "--frame", line)
	hdr, err := tp.ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", hdr.Get("Content-Type"))
	assert.Equal(t, "10", hdr.Get("Content-Length"))

	buf := make([]byte, 10)
	_, err = io.ReadFull(tp.R, buf)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-frame", string(buf))
}
