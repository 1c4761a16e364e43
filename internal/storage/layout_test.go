package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLayout(t *testing.T) Layout {
	t.Helper()
	dir := t.TempDir()
	return Layout{Root: filepath.Join(dir, "storage"), StaticDir: filepath.Join(dir, "static")}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestValidDate(t *testing.T) {
	assert.True(t, ValidDate("2026-02-10"))
	assert.False(t, ValidDate("2026-2-10"))
	assert.False(t, ValidDate("2026-13-01"))
	assert.False(t, ValidDate("../2026-02-10"))
	assert.False(t, ValidDate(""))
}

func TestLayout_Ensure(t *testing.T) {
	l := newLayout(t)
	require.NoError(t, l.Ensure("2026-02-10"))

	for _, dir := range []string{l.ImagesDir("2026-02-10"), l.VideosDir("2026-02-10"), l.RequestsDir("2026-02-10"), l.StaticDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	err := l.Ensure("not-a-date")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestLayout_FirstImage(t *testing.T) {
	l := newLayout(t)
	_, ok := l.FirstImage("2026-02-10")
	assert.False(t, ok)

	writeFile(t, filepath.Join(l.ImagesDir("2026-02-10"), "20260210_101500_002.jpg"), 1)
	writeFile(t, filepath.Join(l.ImagesDir("2026-02-10"), "20260210_101000_001.jpg"), 1)
	writeFile(t, filepath.Join(l.ImagesDir("2026-02-10"), "notes.txt"), 1)

	name, ok := l.FirstImage("2026-02-10")
	require.True(t, ok)
	assert.Equal(t, "20260210_101000_001.jpg", name)
}

func TestLayout_MediaPath(t *testing.T) {
	l := newLayout(t)
	writeFile(t, filepath.Join(l.ImagesDir("2026-02-10"), "a.jpg"), 1)
	writeFile(t, filepath.Join(l.RequestsDir("2026-02-10"), "101500_request.txt"), 1)

	p, err := l.MediaPath("2026-02-10", KindImages, "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.ImagesDir("2026-02-10"), "a.jpg"), p)

	tests := []struct {
		name             string
		date, kind, file string
		want             error
	}{
		{"unknown kind", "2026-02-10", KindRequests, "101500_request.txt", ErrInvalidMedia},
		{"traversal in name", "2026-02-10", KindImages, "../requests/101500_request.txt", ErrInvalidMedia},
		{"traversal in date", "..", KindImages, "a.jpg", ErrInvalidMedia},
		{"dot name", "2026-02-10", KindImages, "..", ErrInvalidMedia},
		{"missing file", "2026-02-10", KindImages, "b.jpg", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.MediaPath(tt.date, tt.kind, tt.file)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCopyFile(t *testing.T) {
	l := newLayout(t)
	src := filepath.Join(l.Root, "src.png")
	require.NoError(t, os.MkdirAll(l.Root, 0o755))
	require.NoError(t, os.WriteFile(src, []byte("first"), 0o644))

	require.NoError(t, CopyFile(src, l.PreviewPath()))
	got, err := os.ReadFile(l.PreviewPath())
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	require.NoError(t, os.WriteFile(src, []byte("second"), 0o644))
	require.NoError(t, CopyFile(src, l.PreviewPath()))
	got, err = os.ReadFile(l.PreviewPath())
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLayout_SurveysAndAnalytics(t *testing.T) {
	l := newLayout(t)

	dates, err := l.ListSurveys()
	require.NoError(t, err)
	assert.Empty(t, dates)

	writeFile(t, filepath.Join(l.ImagesDir("2026-02-10"), "a.jpg"), 1024*1024)
	writeFile(t, filepath.Join(l.VideosDir("2026-02-10"), "v.avi"), 512*1024)
	writeFile(t, filepath.Join(l.ImagesDir("2026-02-11"), "b.png"), 256*1024)
	require.NoError(t, os.MkdirAll(filepath.Join(l.Root, "tmp"), 0o755))

	dates, err = l.ListSurveys()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-11", "2026-02-10"}, dates)

	s, err := l.Survey("2026-02-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, s.Images)
	assert.Equal(t, []string{"v.avi"}, s.Videos)

	_, err = l.Survey("2026-01-01")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := l.Statistics("2026-02-10")
	require.NoError(t, err)
	assert.Equal(t, Statistics{Images: 1, Videos: 1, StorageMB: 1.5}, stats)

	empty, err := l.Statistics("2030-01-01")
	require.NoError(t, err)
	assert.Equal(t, Statistics{}, empty)

	a, err := l.Analytics()
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalSurveys)
	assert.Equal(t, 1.75, a.TotalStorageMB)
	assert.Equal(t, []SurveySize{{Date: "2026-02-11", Size: 0.25}, {Date: "2026-02-10", Size: 1.5}}, a.Surveys)
}
