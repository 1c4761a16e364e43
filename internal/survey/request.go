// Package survey records survey requests and acknowledges them with a
// pending report.
package survey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulgrammer/surveyd/internal/storage"
)

var ErrEmptyMessage = errors.New("message is required")

// Request is a survey request submitted by a user.
type Request struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder writes each request as a flat text file under the date folder
// of its creation day.
type Recorder struct {
	layout storage.Layout
}

func NewRecorder(layout storage.Layout) *Recorder {
	return &Recorder{layout: layout}
}

// Record stores req and returns the file name it was written to.
func (r *Recorder) Record(req Request) (string, error) {
	date := storage.DateFolder(req.CreatedAt)
	if err := r.layout.Ensure(date); err != nil {
		return "", err
	}

	base := req.CreatedAt.Format("150405")
	content := fmt.Sprintf("Email: %s\nPhone: %s\nMessage: %s\n", req.Email, req.Phone, req.Message)

	for i := 1; i < 100; i++ {
		name := base + "_request.txt"
		if i > 1 {
			name = fmt.Sprintf("%s_%d_request.txt", base, i)
		}
		f, err := os.OpenFile(filepath.Join(r.layout.RequestsDir(date), name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create request file: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", fmt.Errorf("write request file: %w", err)
		}
		return name, f.Close()
	}
	return "", fmt.Errorf("too many requests within second %s", base)
}
