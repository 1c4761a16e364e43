// Package mapping wraps the external photogrammetry tool (OpenDroneMap run
// through Docker) and interprets what it leaves behind in a dataset folder.
package mapping

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulgrammer/surveyd/internal/executor"
)

// Availability is the result of probing for the tool's runtime.
type Availability struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Runner produces mapping outputs for a dataset.
type Runner interface {
	// Available reports whether the tool can be run at all. It never fails;
	// an unreachable runtime is reported through Availability.Reason.
	Available(ctx context.Context) Availability
	// Run processes the dataset stored in the date folder and blocks until
	// the tool exits.
	Run(ctx context.Context, dateFolder string) error
}

// DockerConfig configures the Docker-based ODM runner.
type DockerConfig struct {
	Binary       string
	Image        string
	ExtraArgs    []string
	StorageRoot  string
	ProbeTimeout time.Duration
}

// DockerRunner runs the ODM container over the storage root.
type DockerRunner struct {
	cfg    DockerConfig
	exec   executor.Runner
	logger *slog.Logger
}

func NewDockerRunner(cfg DockerConfig, runner executor.Runner, logger *slog.Logger) *DockerRunner {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Image == "" {
		cfg.Image = "opendronemap/odm"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRunner{cfg: cfg, exec: runner, logger: logger}
}

func (d *DockerRunner) Available(ctx context.Context) Availability {
	if _, err := d.exec.LookPath(d.cfg.Binary); err != nil {
		return Availability{Reason: fmt.Sprintf("%s not found in PATH", d.cfg.Binary)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	res, err := d.exec.Run(ctx, "docker-probe", executor.Command{
		Name: d.cfg.Binary,
		Args: []string{"info", "--format", "{{.ServerVersion}}"},
	})
	if err != nil {
		reason := "docker daemon not reachable"
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			reason = firstLine(res.Stderr)
		}
		return Availability{Reason: reason}
	}
	return Availability{Available: true, Version: strings.TrimSpace(res.Stdout)}
}

// Args returns the docker arguments used for a dataset.
func (d *DockerRunner) Args(dateFolder string) ([]string, error) {
	root, err := filepath.Abs(d.cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	args := []string{
		"run", "--rm",
		"--name", ContainerName(dateFolder),
		"-v", root + ":/datasets",
		d.cfg.Image,
		"--project-path", "/datasets",
	}
	args = append(args, d.cfg.ExtraArgs...)
	return append(args, dateFolder), nil
}

func (d *DockerRunner) Run(ctx context.Context, dateFolder string) error {
	args, err := d.Args(dateFolder)
	if err != nil {
		return err
	}

	d.logger.Info("running mapping tool", "date_folder", dateFolder, "image", d.cfg.Image)

	out := &logWriter{logger: d.logger, dateFolder: dateFolder}
	if _, err := d.exec.Run(ctx, "odm-"+dateFolder, executor.Command{
		Name:   d.cfg.Binary,
		Args:   args,
		Stdout: out,
		Stderr: out,
	}); err != nil {
		if ctx.Err() != nil {
			d.removeContainer(dateFolder)
		}
		return fmt.Errorf("mapping tool failed: %w", err)
	}
	return nil
}

// ContainerName is the name given to the tool's container for a dataset.
// Docker refuses a second container under the same name.
func ContainerName(dateFolder string) string {
	return "surveyd-odm-" + dateFolder
}

// removeContainer stops the container of a cancelled run. Killing the docker
// client does not stop the container itself.
func (d *DockerRunner) removeContainer(dateFolder string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ProbeTimeout)
	defer cancel()

	name := ContainerName(dateFolder)
	if _, err := d.exec.Run(ctx, "odm-cleanup-"+dateFolder, executor.Command{
		Name: d.cfg.Binary,
		Args: []string{"rm", "-f", name},
	}); err != nil {
		d.logger.Error("failed to remove mapping container", "container", name, "error", err)
		return
	}
	d.logger.Warn("mapping container removed after cancellation", "container", name)
}

// logWriter forwards tool output to the debug log.
type logWriter struct {
	logger     *slog.Logger
	dateFolder string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("odm", "date_folder", w.dateFolder, "line", string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
