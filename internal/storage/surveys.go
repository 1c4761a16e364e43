package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Survey lists the media captured on one day.
type Survey struct {
	Date   string   `json:"date"`
	Images []string `json:"images"`
	Videos []string `json:"videos"`
}

// Statistics summarizes a single date folder.
type Statistics struct {
	Images    int     `json:"images"`
	Videos    int     `json:"videos"`
	StorageMB float64 `json:"storage_mb"`
}

// SurveySize is the disk usage of one date folder.
type SurveySize struct {
	Date string  `json:"date"`
	Size float64 `json:"size"`
}

// Analytics aggregates usage over every date folder.
type Analytics struct {
	TotalSurveys   int          `json:"total_surveys"`
	TotalStorageMB float64      `json:"total_storage"`
	Surveys        []SurveySize `json:"survey_data"`
}

// ListSurveys returns the date folders under the root, newest first.
func (l Layout) ListSurveys() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	dates := []string{}
	for _, e := range entries {
		if e.IsDir() && ValidDate(e.Name()) {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Survey returns the images and videos of a date folder.
func (l Layout) Survey(date string) (Survey, error) {
	if !ValidDate(date) {
		return Survey{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if _, err := os.Stat(l.DatasetDir(date)); err != nil {
		return Survey{}, ErrNotFound
	}
	images, err := listFiles(l.ImagesDir(date), imageExts)
	if err != nil {
		return Survey{}, err
	}
	videos, err := listFiles(l.VideosDir(date), videoExts)
	if err != nil {
		return Survey{}, err
	}
	if images == nil {
		images = []string{}
	}
	if videos == nil {
		videos = []string{}
	}
	return Survey{Date: date, Images: images, Videos: videos}, nil
}

// Statistics counts media and disk usage of a date folder. A missing folder
// yields zeroes.
func (l Layout) Statistics(date string) (Statistics, error) {
	images, err := listFiles(l.ImagesDir(date), imageExts)
	if err != nil {
		return Statistics{}, err
	}
	videos, err := listFiles(l.VideosDir(date), videoExts)
	if err != nil {
		return Statistics{}, err
	}
	size, err := dirSize(l.DatasetDir(date))
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		Images:    len(images),
		Videos:    len(videos),
		StorageMB: toMB(size),
	}, nil
}

// Analytics walks every date folder and reports its size.
func (l Layout) Analytics() (Analytics, error) {
	dates, err := l.ListSurveys()
	if err != nil {
		return Analytics{}, err
	}
	out := Analytics{TotalSurveys: len(dates), Surveys: make([]SurveySize, 0, len(dates))}
	for _, d := range dates {
		size, err := dirSize(l.DatasetDir(d))
		if err != nil {
			return Analytics{}, err
		}
		mb := toMB(size)
		out.TotalStorageMB += mb
		out.Surveys = append(out.Surveys, SurveySize{Date: d, Size: mb})
	}
	out.TotalStorageMB = round2(out.TotalStorageMB)
	return out, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func toMB(n int64) float64 {
	return round2(float64(n) / (1024 * 1024))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
