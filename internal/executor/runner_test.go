package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_CapturesOutput(t *testing.T) {
	requireShell(t)

	var streamed bytes.Buffer
	r := NewExecRunner()
	res, err := r.Run(context.Background(), "echo", Command{
		Name:   "sh",
		Args:   []string{"-c", "echo hello; echo oops 1>&2"},
		Stdout: &streamed,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, "hello\n", streamed.String())
}

func TestExecRunner_ExitCode(t *testing.T) {
	requireShell(t)

	res, err := NewExecRunner().Run(context.Background(), "fail", Command{Name: "sh", Args: []string{"-c", "exit 3"}})
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecRunner_Timeout(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewExecRunner().Run(ctx, "sleep", Command{Name: "sh", Args: []string{"-c", "exec sleep 5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecRunner_Validation(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), "empty", Command{})
	assert.EqualError(t, err, "command must not be empty")

	_, err = r.Run(context.Background(), "baddir", Command{Name: "true", Dir: "/definitely/not/here"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid working directory")
}

func TestExecRunner_LongLinesDoNotStall(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var streamed bytes.Buffer
	start := time.Now()
	res, err := NewExecRunner().Run(ctx, "long", Command{
		Name:   "sh",
		Args:   []string{"-c", "head -c 300000 /dev/zero | tr '\\0' x; echo; echo done"},
		Stdout: &streamed,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	lines := strings.Split(strings.TrimSuffix(res.Stdout, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], maxLineSize+len(truncatedMarker))
	assert.True(t, strings.HasSuffix(lines[0], truncatedMarker))
	assert.Equal(t, "done", lines[1])
	assert.Equal(t, res.Stdout, streamed.String())
}

func TestExecRunner_BackgroundChildHoldingPipes(t *testing.T) {
	requireShell(t)

	r := NewExecRunner(WithConfig(Config{WaitDelay: 200 * time.Millisecond}))
	start := time.Now()
	res, err := r.Run(context.Background(), "orphan", Command{
		Name: "sh",
		Args: []string{"-c", "sleep 5 & echo started"},
	})
	assert.Less(t, time.Since(start), 3*time.Second)
	require.NotNil(t, res)
	assert.Equal(t, "started\n", res.Stdout)
	if err != nil {
		assert.ErrorIs(t, err, exec.ErrWaitDelay)
	}
}

func TestLineCapture(t *testing.T) {
	var fwd bytes.Buffer
	c := NewExecRunner(WithConfig(Config{MaxOutputSize: 8})).(*execRunner).newLineCapture("t", "stdout", &fwd)

	_, _ = c.Write([]byte("ab"))
	_, _ = c.Write([]byte("c\nde"))
	_, _ = c.Write([]byte("f\nghi"))
	c.flush()

	assert.Equal(t, "abc\ndef\nghi\n", fwd.String())
	// capture stops once the limit is passed
	assert.Equal(t, "abc\ndef\n", c.String())
}
