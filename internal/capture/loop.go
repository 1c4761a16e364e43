// Package capture polls the survey camera, records the feed to per-day video
// files, keeps periodic stills and relays frames to live viewers.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/paulgrammer/surveyd/internal/storage"
)

const (
	maxFrameBytes = 16 << 20

	// DefaultMaxVideoBytes caps a single video file; the loop starts a new
	// one before crossing it.
	DefaultMaxVideoBytes = 1 << 30
)

var errBadFrame = errors.New("undecodable frame")

type Config struct {
	Layout           storage.Layout
	ShotURL          string
	FetchTimeout     time.Duration
	RetryBackoff     time.Duration
	SnapshotInterval time.Duration
	FPS              int
	MaxVideoBytes    int64
	Client           *http.Client
	Broadcaster      *Broadcaster
	Logger           *slog.Logger
	Now              func() time.Time
}

// Loop is the long-lived capture service. It never gives up on the camera:
// fetch failures are retried after a short backoff until the context ends.
type Loop struct {
	cfg Config

	video        *aviWriter
	videoDate    string
	lastSnapshot time.Time
	snapshots    int
	failing      bool
}

func NewLoop(cfg Config) *Loop {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 2 * time.Second
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 20
	}
	if cfg.MaxVideoBytes <= 0 {
		cfg.MaxVideoBytes = DefaultMaxVideoBytes
	}
	if cfg.MaxVideoBytes > aviMaxBytes {
		cfg.MaxVideoBytes = aviMaxBytes
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewBroadcaster()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{cfg: cfg}
}

// Serve implements suture.Service.
func (l *Loop) Serve(ctx context.Context) error {
	defer l.closeVideo()

	interval := time.Second / time.Duration(l.cfg.FPS)
	l.cfg.Logger.Info("capture loop started", "url", l.cfg.ShotURL, "fps", l.cfg.FPS)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()

		frame, size, err := l.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			FetchErrors.Inc()
			if !l.failing {
				l.cfg.Logger.Warn("camera fetch failed", "error", err)
				l.failing = true
			}
			if err := sleep(ctx, l.cfg.RetryBackoff); err != nil {
				return err
			}
			continue
		}
		if l.failing {
			l.cfg.Logger.Info("camera feed recovered")
			l.failing = false
		}

		if err := l.process(frame, size, l.cfg.Now()); err != nil {
			l.cfg.Logger.Error("failed to record frame", "error", err)
		}

		if err := sleep(ctx, interval-time.Since(started)); err != nil {
			return err
		}
	}
}

func (l *Loop) String() string { return "capture-loop" }

// fetch downloads one frame and checks it is a complete JPEG.
func (l *Loop) fetch(ctx context.Context) ([]byte, image.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.ShotURL, nil)
	if err != nil {
		return nil, image.Config{}, err
	}
	resp, err := l.cfg.Client.Do(req)
	if err != nil {
		return nil, image.Config{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, image.Config{}, fmt.Errorf("camera returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("read frame: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	if format != "jpeg" {
		return nil, image.Config{}, fmt.Errorf("%w: format %s", errBadFrame, format)
	}
	if !bytes.HasSuffix(bytes.TrimRight(data, "\x00\r\n"), []byte{0xFF, 0xD9}) {
		return nil, image.Config{}, fmt.Errorf("%w: truncated", errBadFrame)
	}
	return data, cfg, nil
}

// process appends frame to the current video, relays it and takes a
// snapshot when the interval has elapsed.
func (l *Loop) process(frame []byte, size image.Config, now time.Time) error {
	FramesCaptured.Inc()
	l.cfg.Broadcaster.Broadcast(frame)

	date := storage.DateFolder(now)
	if err := l.cfg.Layout.Ensure(date); err != nil {
		return err
	}

	var errs []error
	if err := l.record(frame, size, date, now); err != nil {
		errs = append(errs, err)
	}
	if now.Sub(l.lastSnapshot) >= l.cfg.SnapshotInterval {
		if err := l.snapshot(frame, date, now); err != nil {
			errs = append(errs, err)
		} else {
			l.lastSnapshot = now
		}
	}
	return errors.Join(errs...)
}

func (l *Loop) record(frame []byte, size image.Config, date string, now time.Time) error {
	if l.video != nil {
		switch {
		case l.videoDate != date, !l.video.Matches(size.Width, size.Height):
			l.closeVideo()
		case !l.video.Fits(len(frame), l.cfg.MaxVideoBytes):
			l.cfg.Logger.Info("video size limit reached", "file", l.video.Path(), "limit", l.cfg.MaxVideoBytes)
			l.closeVideo()
		}
	}
	if l.video == nil {
		v, err := l.openVideo(date, size, now)
		if err != nil {
			return err
		}
		l.video = v
		l.videoDate = date
		VideosOpened.Inc()
		l.cfg.Logger.Info("new video started", "file", filepath.Base(v.Path()), "width", size.Width, "height", size.Height)
	}
	return l.video.WriteFrame(frame)
}

// openVideo creates the next video file of the day. Files opened within the
// same second get a numeric suffix instead of replacing each other.
func (l *Loop) openVideo(date string, size image.Config, now time.Time) (*aviWriter, error) {
	base := now.Format("20060102_150405")
	for i := 1; i < 100; i++ {
		name := base + ".avi"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.avi", base, i)
		}
		v, err := createAVI(filepath.Join(l.cfg.Layout.VideosDir(date), name), size.Width, size.Height, l.cfg.FPS)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open video: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("open video: too many files within second %s", base)
}

func (l *Loop) snapshot(frame []byte, date string, now time.Time) error {
	l.snapshots++
	name := fmt.Sprintf("%s_%03d.jpg", now.Format("20060102_150405"), l.snapshots)
	write := func(w io.Writer) error {
		_, err := w.Write(frame)
		return err
	}
	if err := storage.WriteAtomic(filepath.Join(l.cfg.Layout.ImagesDir(date), name), write); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := storage.WriteAtomic(l.cfg.Layout.LatestGeoPath(), write); err != nil {
		return fmt.Errorf("update latest frame: %w", err)
	}
	Snapshots.Inc()
	return nil
}

func (l *Loop) closeVideo() {
	if l.video == nil {
		return
	}
	path, frames := l.video.Path(), l.video.Frames()
	if err := l.video.Close(); err != nil {
		l.cfg.Logger.Error("failed to finalize video", "file", path, "error", err)
	} else {
		l.cfg.Logger.Info("video finalized", "file", path, "frames", frames)
	}
	l.video = nil
	l.videoDate = ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
