// Package storage describes the on-disk layout of survey data: one directory
// per calendar day holding captured images, videos, survey requests and, after
// a mapping job, the tool output and the rendered report.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DateLayout is the Go time layout of a date folder name.
const DateLayout = "2006-01-02"

// Media kinds that may be served from a date folder.
const (
	KindImages   = "images"
	KindVideos   = "videos"
	KindRequests = "requests"
)

const (
	reportFile     = "volume_report.pdf"
	previewFile    = "mapping.png"
	latestGeoFile  = "geo_latest.jpg"
	placeholderPNG = "placeholder.png"
)

var (
	ErrInvalidDate  = errors.New("invalid date folder")
	ErrInvalidMedia = errors.New("invalid media path")
	ErrNotFound     = errors.New("not found")

	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	imageExts = []string{".jpg", ".jpeg", ".png"}
	videoExts = []string{".avi", ".mp4", ".mov"}
)

// Layout resolves paths below the storage root and the static directory.
type Layout struct {
	Root      string
	StaticDir string
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD folder name.
func ValidDate(s string) bool {
	if !dateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// DateFolder returns the folder name for t.
func DateFolder(t time.Time) string {
	return t.Format(DateLayout)
}

func (l Layout) DatasetDir(date string) string  { return filepath.Join(l.Root, date) }
func (l Layout) ImagesDir(date string) string   { return filepath.Join(l.Root, date, KindImages) }
func (l Layout) VideosDir(date string) string   { return filepath.Join(l.Root, date, KindVideos) }
func (l Layout) RequestsDir(date string) string { return filepath.Join(l.Root, date, KindRequests) }
func (l Layout) ReportPath(date string) string  { return filepath.Join(l.Root, date, reportFile) }

// StatsPath is where the mapping tool writes its summary.
func (l Layout) StatsPath(date string) string {
	return filepath.Join(l.Root, date, "odm_report", "stats.json")
}

// OrthophotoPath is where the mapping tool writes its orthophoto.
func (l Layout) OrthophotoPath(date string) string {
	return filepath.Join(l.Root, date, "odm_orthophoto", "odm_orthophoto.png")
}

func (l Layout) PreviewPath() string     { return filepath.Join(l.StaticDir, previewFile) }
func (l Layout) LatestGeoPath() string   { return filepath.Join(l.StaticDir, latestGeoFile) }
func (l Layout) PlaceholderPath() string { return filepath.Join(l.StaticDir, placeholderPNG) }

// URL paths under which the artifacts above are served.
const (
	PreviewURL   = "/static/" + previewFile
	LatestGeoURL = "/static/" + latestGeoFile
)

// MediaURL is the served location of a file inside a date folder.
func MediaURL(date, kind, name string) string {
	return fmt.Sprintf("/media/%s/%s/%s", date, kind, name)
}

// Ensure creates the date folder and its fixed subdirectories.
func (l Layout) Ensure(date string) error {
	if !ValidDate(date) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	for _, dir := range []string{l.ImagesDir(date), l.VideosDir(date), l.RequestsDir(date)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return os.MkdirAll(l.StaticDir, 0o755)
}

// FirstImage returns the lexically first captured image of a date folder.
// Capture names images by timestamp, so this is the earliest one.
func (l Layout) FirstImage(date string) (string, bool) {
	images, err := listFiles(l.ImagesDir(date), imageExts)
	if err != nil || len(images) == 0 {
		return "", false
	}
	return images[0], true
}

// MediaPath validates a requested media file and returns its path on disk.
func (l Layout) MediaPath(date, kind, name string) (string, error) {
	if !ValidDate(date) {
		return "", fmt.Errorf("%w: date %q", ErrInvalidMedia, date)
	}
	if kind != KindImages && kind != KindVideos {
		return "", fmt.Errorf("%w: kind %q", ErrInvalidMedia, kind)
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: name %q", ErrInvalidMedia, name)
	}

	p := filepath.Join(l.Root, date, kind, name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

// CopyFile copies src to dst through a temporary file so readers never see
// a partially written destination.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return WriteAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// WriteAtomic writes a file via a sibling temp file and rename.
func WriteAtomic(dst string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func listFiles(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
