package mapping

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulgrammer/surveyd/internal/executor"
	"github.com/paulgrammer/surveyd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStats(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "odm_report", "stats.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestExtractVolume(t *testing.T) {
	opts := VolumeOptions{AssumedHeight: 5}

	t.Run("measured volume", func(t *testing.T) {
		v, err := ExtractVolume(writeStats(t, `{"volume": 812.4}`), opts)
		require.NoError(t, err)
		assert.Equal(t, Volume{Value: 812.4}, v)
	})

	t.Run("derived from area", func(t *testing.T) {
		v, err := ExtractVolume(writeStats(t, `{"area": 100}`), opts)
		require.NoError(t, err)
		assert.Equal(t, 500.0, v.Value)
		assert.True(t, v.Derived)
	})

	t.Run("derived value is rounded", func(t *testing.T) {
		v, err := ExtractVolume(writeStats(t, `{"area": 33.3333}`), VolumeOptions{AssumedHeight: 3})
		require.NoError(t, err)
		assert.Equal(t, 100.0, v.Value)
	})

	t.Run("neither key", func(t *testing.T) {
		_, err := ExtractVolume(writeStats(t, `{"gsd": 2.1}`), opts)
		assert.ErrorIs(t, err, ErrVolumeUnavailable)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ExtractVolume(writeStats(t, `{`), opts)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrVolumeUnavailable))
	})

	t.Run("missing file without simulation", func(t *testing.T) {
		_, err := ExtractVolume(filepath.Join(t.TempDir(), "stats.json"), opts)
		assert.ErrorIs(t, err, ErrVolumeUnavailable)
	})

	t.Run("missing file with simulation", func(t *testing.T) {
		sim := VolumeOptions{Simulate: true, SimulatedMin: 450, SimulatedMax: 1250, Rand: func() float64 { return 0.5 }}
		v, err := ExtractVolume(filepath.Join(t.TempDir(), "stats.json"), sim)
		require.NoError(t, err)
		assert.Equal(t, Volume{Value: 850, Simulated: true}, v)
	})

	t.Run("simulated values stay in range", func(t *testing.T) {
		sim := VolumeOptions{Simulate: true, SimulatedMin: 450, SimulatedMax: 1250}
		for i := 0; i < 200; i++ {
			v, err := ExtractVolume(filepath.Join(t.TempDir(), "stats.json"), sim)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, v.Value, 450.0)
			assert.LessOrEqual(t, v.Value, 1250.0)
			assert.Equal(t, Round2(v.Value), v.Value)
		}
	})
}

func TestDeriveVolume(t *testing.T) {
	assert.Equal(t, Volume{Value: 500, Derived: true}, DeriveVolume(100, 5))
}

func newLayout(t *testing.T) storage.Layout {
	t.Helper()
	dir := t.TempDir()
	return storage.Layout{Root: filepath.Join(dir, "storage"), StaticDir: filepath.Join(dir, "static")}
}

func put(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func jpegStill(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.String()
}

// previewSize decodes the published preview as PNG and returns its bounds.
func previewSize(t *testing.T, l storage.Layout) image.Point {
	t.Helper()
	f, err := os.Open(l.PreviewPath())
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img.Bounds().Size()
}

func TestPublishPreview(t *testing.T) {
	const date = "2026-02-10"

	t.Run("orthophoto wins", func(t *testing.T) {
		l := newLayout(t)
		put(t, l.OrthophotoPath(date), "ortho")
		put(t, filepath.Join(l.ImagesDir(date), "20260210_100000_001.jpg"), "frame")

		p, err := PublishPreview(l, date)
		require.NoError(t, err)
		assert.Equal(t, SourceOrthophoto, p.Source)
		assert.Equal(t, storage.PreviewURL, p.MapImage)
		assert.Equal(t, "/media/2026-02-10/images/20260210_100000_001.jpg", p.GeoImage)

		got, err := os.ReadFile(l.PreviewPath())
		require.NoError(t, err)
		assert.Equal(t, "ortho", string(got))
	})

	t.Run("first dataset image", func(t *testing.T) {
		l := newLayout(t)
		put(t, filepath.Join(l.ImagesDir(date), "20260210_100500_002.jpg"), jpegStill(t, 40, 30))
		put(t, filepath.Join(l.ImagesDir(date), "20260210_100000_001.jpg"), jpegStill(t, 64, 48))

		p, err := PublishPreview(l, date)
		require.NoError(t, err)
		assert.Equal(t, SourceDataset, p.Source)
		assert.Equal(t, image.Pt(64, 48), previewSize(t, l))
	})

	t.Run("latest frame", func(t *testing.T) {
		l := newLayout(t)
		put(t, l.LatestGeoPath(), jpegStill(t, 32, 24))

		p, err := PublishPreview(l, date)
		require.NoError(t, err)
		assert.Equal(t, SourceLatestFrame, p.Source)
		assert.Equal(t, storage.LatestGeoURL, p.GeoImage)
		assert.Equal(t, image.Pt(32, 24), previewSize(t, l))
	})

	t.Run("undecodable still falls back to placeholder", func(t *testing.T) {
		l := newLayout(t)
		put(t, filepath.Join(l.ImagesDir(date), "20260210_100000_001.jpg"), "not a jpeg")

		p, err := PublishPreview(l, date)
		require.NoError(t, err)
		assert.Equal(t, SourcePlaceholder, p.Source)
		assert.Equal(t, "/media/2026-02-10/images/20260210_100000_001.jpg", p.GeoImage)
		assert.Equal(t, image.Pt(320, 240), previewSize(t, l))
	})

	t.Run("generated placeholder", func(t *testing.T) {
		l := newLayout(t)

		p, err := PublishPreview(l, date)
		require.NoError(t, err)
		assert.Equal(t, SourcePlaceholder, p.Source)
		assert.FileExists(t, l.PlaceholderPath())
		assert.FileExists(t, l.PreviewPath())
	})
}

type fakeExec struct {
	lookErr error
	runErr  error
	stdout  string
	stderr  string
	calls   []executor.Command
	ctxErrs []error
}

func (f *fakeExec) LookPath(name string) (string, error) {
	if f.lookErr != nil {
		return "", f.lookErr
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeExec) Run(ctx context.Context, label string, cmd executor.Command) (*executor.Result, error) {
	f.calls = append(f.calls, cmd)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	res := &executor.Result{Label: label, Stdout: f.stdout, Stderr: f.stderr}
	if f.runErr != nil {
		res.ExitCode = 1
	}
	return res, f.runErr
}

func TestDockerRunner_Available(t *testing.T) {
	t.Run("binary missing", func(t *testing.T) {
		r := NewDockerRunner(DockerConfig{}, &fakeExec{lookErr: errors.New("not found")}, nil)
		a := r.Available(context.Background())
		assert.False(t, a.Available)
		assert.Contains(t, a.Reason, "docker not found")
	})

	t.Run("daemon down", func(t *testing.T) {
		fe := &fakeExec{runErr: errors.New("exit 1"), stderr: "Cannot connect to the Docker daemon\nmore"}
		a := NewDockerRunner(DockerConfig{}, fe, nil).Available(context.Background())
		assert.False(t, a.Available)
		assert.Equal(t, "Cannot connect to the Docker daemon", a.Reason)
	})

	t.Run("daemon up", func(t *testing.T) {
		fe := &fakeExec{stdout: "27.1.1\n"}
		a := NewDockerRunner(DockerConfig{}, fe, nil).Available(context.Background())
		assert.Equal(t, Availability{Available: true, Version: "27.1.1"}, a)
		require.Len(t, fe.calls, 1)
		assert.Equal(t, []string{"info", "--format", "{{.ServerVersion}}"}, fe.calls[0].Args)
	})
}

func TestDockerRunner_Run(t *testing.T) {
	root := t.TempDir()
	fe := &fakeExec{}
	r := NewDockerRunner(DockerConfig{
		StorageRoot: root,
		ExtraArgs:   []string{"--fast-orthophoto"},
	}, fe, nil)

	require.NoError(t, r.Run(context.Background(), "2026-02-10"))
	require.Len(t, fe.calls, 1)
	assert.Equal(t, "docker", fe.calls[0].Name)
	assert.Equal(t, []string{
		"run", "--rm",
		"--name", "surveyd-odm-2026-02-10",
		"-v", root + ":/datasets",
		"opendronemap/odm",
		"--project-path", "/datasets",
		"--fast-orthophoto",
		"2026-02-10",
	}, fe.calls[0].Args)

	fe.runErr = errors.New("exit status 1")
	err := r.Run(context.Background(), "2026-02-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping tool failed")
	assert.Len(t, fe.calls, 2, "a plain tool failure leaves nothing to clean up")
}

func TestDockerRunner_RunRemovesContainerOnCancel(t *testing.T) {
	fe := &fakeExec{runErr: errors.New("signal: killed")}
	r := NewDockerRunner(DockerConfig{StorageRoot: t.TempDir()}, fe, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, "2026-02-10")
	require.Error(t, err)
	require.Len(t, fe.calls, 2)
	assert.Equal(t, "docker", fe.calls[1].Name)
	assert.Equal(t, []string{"rm", "-f", "surveyd-odm-2026-02-10"}, fe.calls[1].Args)
	assert.NoError(t, fe.ctxErrs[1], "cleanup must not reuse the cancelled context")
}
