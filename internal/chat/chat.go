// Package chat turns free text chat messages into mapping job commands.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/paulgrammer/surveyd/internal/jobs"
	"github.com/paulgrammer/surveyd/internal/storage"
)

type Command int

const (
	CommandNone Command = iota
	CommandEmpty
	CommandStart
	CommandStatus
)

func (c Command) String() string {
	switch c {
	case CommandEmpty:
		return "empty"
	case CommandStart:
		return "start"
	case CommandStatus:
		return "status"
	default:
		return "none"
	}
}

// StartPhrases trigger a mapping job when contained in a message.
var StartPhrases = []string{
	"generate mapping",
	"start mapping",
	"3d mapping",
	"generate volume",
	"calculate volume",
}

var dateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Parse classifies a message. A start phrase wins over "status".
func Parse(msg string) Command {
	m := strings.ToLower(strings.TrimSpace(msg))
	if m == "" {
		return CommandEmpty
	}
	for _, p := range StartPhrases {
		if strings.Contains(m, p) {
			return CommandStart
		}
	}
	if strings.Contains(m, "status") {
		return CommandStatus
	}
	return CommandNone
}

// DetectDate finds the target date folder in a message: "today",
// "yesterday" or an embedded YYYY-MM-DD, in that order.
func DetectDate(msg string, now time.Time) (string, bool) {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "today"):
		return storage.DateFolder(now), true
	case strings.Contains(m, "yesterday"):
		return storage.DateFolder(now.AddDate(0, 0, -1)), true
	}
	if d := dateRe.FindString(m); d != "" {
		return d, true
	}
	return "", false
}

// Jobs is the part of the job manager the assistant drives.
type Jobs interface {
	Start(req jobs.StartRequest) (jobs.Run, error)
	Status() jobs.Status
}

type Request struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

type Response struct {
	Reply    string   `json:"reply"`
	JobID    string   `json:"job_id,omitempty"`
	Date     string   `json:"date,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	MapImage string   `json:"map_image,omitempty"`
	GeoImage string   `json:"geo_image,omitempty"`
}

// Assistant answers chat messages.
type Assistant struct {
	jobs        Jobs
	downloadURL string
	now         func() time.Time
	logger      *slog.Logger
}

func NewAssistant(j Jobs, downloadURL string, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{jobs: j, downloadURL: downloadURL, now: time.Now, logger: logger}
}

// Handle answers one message.
func (a *Assistant) Handle(req Request) Response {
	cmd := Parse(req.Message)
	a.logger.Debug("chat message", "command", cmd.String())

	switch cmd {
	case CommandEmpty:
		return Response{Reply: ReplyEmpty}
	case CommandStart:
		return a.start(req)
	case CommandStatus:
		return a.status()
	default:
		return Response{Reply: ReplyHelp}
	}
}

func (a *Assistant) start(req Request) Response {
	date, ok := DetectDate(req.Message, a.now())
	if !ok {
		if a.jobs.Status().Running {
			return Response{Reply: ReplyAlreadyRunning}
		}
		return Response{Reply: ReplyNeedDate}
	}

	run, err := a.jobs.Start(jobs.StartRequest{
		DateFolder: date,
		Email:      strings.TrimSpace(req.Email),
		Phone:      strings.TrimSpace(req.Phone),
	})
	switch {
	case errors.Is(err, jobs.ErrJobRunning):
		return Response{Reply: ReplyAlreadyRunning}
	case errors.Is(err, jobs.ErrInvalidDate):
		return Response{Reply: fmt.Sprintf("⚠️ %q is not a valid date. %s", date, dateExample)}
	case err != nil:
		a.logger.Error("failed to start mapping from chat", "error", err)
		return Response{Reply: "⚠️ Could not start mapping: " + err.Error()}
	}

	return Response{
		Reply: startedReply(date, run.Email, run.Phone),
		JobID: run.ID,
		Date:  date,
	}
}

func (a *Assistant) status() Response {
	st := a.jobs.Status()
	switch {
	case st.Completed:
		return Response{
			Reply:    a.completedReply(st),
			JobID:    st.JobID,
			Date:     st.DateFolder,
			Volume:   st.Volume,
			MapImage: st.MapImage,
			GeoImage: st.GeoImage,
		}
	case st.Running:
		return Response{Reply: ReplyProcessing, JobID: st.JobID, Date: st.DateFolder}
	case st.Error != "":
		return Response{
			Reply: fmt.Sprintf("❌ Mapping for %s failed: %s\n\nType 'generate mapping' to try again.", st.DateFolder, st.Error),
			JobID: st.JobID,
			Date:  st.DateFolder,
		}
	default:
		return Response{Reply: ReplyNotStarted}
	}
}
