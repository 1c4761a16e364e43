package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	maxLineSize     = 64 * 1024
	truncatedMarker = "... (truncated)"
)

// Command describes a child process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Stdout and Stderr, when set, receive output lines as they are produced.
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result contains the outcome of a finished command.
type Result struct {
	Label     string
	ExitCode  int
	Stdout    string
	Stderr    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Runner starts child processes and waits for them.
type Runner interface {
	Run(ctx context.Context, label string, cmd Command) (*Result, error)
	LookPath(name string) (string, error)
}

// Config allows customization of execution behavior.
type Config struct {
	MaxOutputSize int // bytes kept per stream, 0 for unlimited
	LogOutput     bool
	Logger        *slog.Logger
	// WaitDelay bounds how long output is still read after the process
	// exits or is killed.
	WaitDelay time.Duration
}

type Option func(*execRunner)

func WithConfig(cfg Config) Option {
	return func(r *execRunner) {
		r.config = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *execRunner) {
		r.config.Logger = logger
	}
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(opts ...Option) Runner {
	r := &execRunner{config: Config{
		MaxOutputSize: 1024 * 1024,
		LogOutput:     true,
		Logger:        slog.Default(),
		WaitDelay:     5 * time.Second,
	}}
	for _, opt := range opts {
		opt(r)
	}
	if r.config.Logger == nil {
		r.config.Logger = slog.Default()
	}
	return r
}

type execRunner struct {
	config Config
}

func (er *execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes cmd and streams its output line by line. Cancelling ctx kills
// the process; the returned error then wraps ctx.Err().
func (er *execRunner) Run(ctx context.Context, label string, c Command) (*Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, errors.New("command must not be empty")
	}
	if err := validateWorkingDir(c.Dir); err != nil {
		return nil, fmt.Errorf("invalid working directory: %w", err)
	}

	result := &Result{Label: label, StartTime: time.Now()}

	stdout := er.newLineCapture(label, "stdout", c.Stdout)
	stderr := er.newLineCapture(label, "stderr", c.Stderr)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// a grandchild holding the pipes open must not keep Wait blocked
	cmd.WaitDelay = er.config.WaitDelay

	er.config.Logger.Debug("starting command", "label", label, "command", c.String(), "dir", c.Dir)

	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("failed to start command: %w", err)
	}

	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		err = fmt.Errorf("command execution failed: %w", err)
	}

	er.logResult(result, err)
	return result, err
}

// lineCapture splits one output stream of a child into lines. It keeps up to
// MaxOutputSize bytes and forwards every line to an optional writer. Lines
// longer than maxLineSize are cut; the process is never blocked on them.
type lineCapture struct {
	er        *execRunner
	label     string
	stream    string
	forward   io.Writer
	buf       strings.Builder
	partial   []byte
	truncated bool
}

func (er *execRunner) newLineCapture(label, stream string, forward io.Writer) *lineCapture {
	return &lineCapture{er: er, label: label, stream: stream, forward: forward}
}

func (c *lineCapture) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			c.appendPartial(p)
			break
		}
		c.appendPartial(p[:i])
		c.emit()
		p = p[i+1:]
	}
	return n, nil
}

func (c *lineCapture) appendPartial(b []byte) {
	room := maxLineSize - len(c.partial)
	if len(b) > room {
		b = b[:room]
		c.truncated = true
	}
	c.partial = append(c.partial, b...)
}

func (c *lineCapture) emit() {
	if c.truncated {
		c.er.config.Logger.Warn("output line truncated", "label", c.label, "stream", c.stream, "kept", len(c.partial))
		c.partial = append(c.partial, truncatedMarker...)
	}
	c.partial = append(c.partial, '\n')

	if limit := c.er.config.MaxOutputSize; limit <= 0 || c.buf.Len() < limit {
		c.buf.Write(c.partial)
	}
	if c.forward != nil {
		_, _ = c.forward.Write(c.partial)
	}
	c.partial = c.partial[:0]
	c.truncated = false
}

// flush emits a final line that had no terminating newline.
func (c *lineCapture) flush() {
	if len(c.partial) > 0 || c.truncated {
		c.emit()
	}
}

func (c *lineCapture) String() string { return c.buf.String() }

func validateWorkingDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return errors.New("working directory path is not a directory")
	}
	return nil
}

func (er *execRunner) logResult(result *Result, err error) {
	level := slog.LevelInfo
	attrs := []any{
		"label", result.Label,
		"exit_code", result.ExitCode,
		"duration", result.Duration.String(),
		"stdout_length", len(result.Stdout),
		"stderr_length", len(result.Stderr),
	}
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, "error", err.Error())
	}
	er.config.Logger.Log(context.Background(), level, "command finished", attrs...)

	if er.config.LogOutput && err != nil && result.Stderr != "" {
		er.config.Logger.Info("command stderr", "label", result.Label, "stderr", truncate(result.Stderr, 1000))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + truncatedMarker
}
