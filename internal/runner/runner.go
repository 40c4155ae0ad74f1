// Package runner executes toolchain and emulator subprocesses with timeouts,
// process-group cleanup, and output size limits.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxOutput caps each of stdout and stderr when MaxOutput is zero.
const DefaultMaxOutput = 64 << 10

// waitDelay bounds how long Wait blocks on I/O after the process is killed.
const waitDelay = 2 * time.Second

// Runner executes one command at a time on behalf of a single case.
type Runner struct {
	Dir       string        // working directory for the command
	Timeout   time.Duration // zero means no timeout beyond ctx
	MaxOutput int           // bytes per stream
	Env       []string      // nil inherits the parent environment
}

// Run executes argv. The returned error is non-nil only when the command could
// not be started; non-zero exits, signals, and timeouts are reported in Result.
func (r *Runner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := uuid.New().String()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdout := &limitWriter{limit: maxOutput}
	stderr := &limitWriter{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	runErr := cmd.Wait()
	dur := time.Since(start)

	res := &Result{
		RunID:     runID,
		Argv:      argv,
		Stdout:    stdout.buf.Bytes(),
		Stderr:    stderr.buf.Bytes(),
		Truncated: stdout.dropped || stderr.dropped,
		Duration:  dur,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		slog.Debug("command timed out", "run_id", runID, "argv0", argv[0], "dur", dur)
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Wait failed for a reason other than exit status, e.g. an I/O
			// error after WaitDelay. The process did run, so report it.
			res.ExitCode = -1
			res.Signal = runErr.Error()
			return res, nil
		}
		res.ExitCode = exitErr.ExitCode()
		res.Signal = signalName(exitErr.ProcessState)
	}

	slog.Debug("command finished", "run_id", runID, "argv0", argv[0], "exit", res.ExitCode, "signal", res.Signal, "dur", dur)
	return res, nil
}

// limitWriter keeps up to limit bytes and discards the rest, remembering
// whether anything was dropped.
type limitWriter struct {
	buf     bytes.Buffer
	limit   int
	dropped bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if len(p) > remaining {
		w.dropped = true
		if remaining > 0 {
			w.buf.Write(p[:remaining])
		}
		// Report all bytes as consumed to avoid short write errors.
		return len(p), nil
	}
	return w.buf.Write(p)
}
