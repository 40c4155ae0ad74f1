// Package execute runs a built artifact under the emulator and reports how the
// emulated program ended.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/715d/m6809test/internal/runner"
	"github.com/715d/m6809test/pkg/build"
)

// Source selects where the program's return value is read from.
type Source string

const (
	// SourceExit reads the emulator's process exit status (0..255).
	SourceExit Source = "exit"
	// SourceStdout reads the last integer the emulator prints.
	SourceStdout Source = "stdout"
)

// DefaultTimeout bounds one emulator run when Timeout is zero.
const DefaultTimeout = 10 * time.Second

// lastIntPattern finds integers in emulator output.
var lastIntPattern = regexp.MustCompile(`-?\b\d+\b`)

// Driver runs artifacts under the emulator described by Argv.
type Driver struct {
	// Argv is a template expanded with artifact, entry, work, and Vars.
	Argv []string
	Vars map[string]string

	Timeout   time.Duration
	Result    Source
	TrapCodes []int
	MaxOutput int
	Env       []string
}

// Result describes one emulator run. Exactly one of Completed, TimedOut, and
// Trapped is set.
type Result struct {
	Completed  bool          `json:"completed"`
	ExitCode   int           `json:"exit_code"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Trapped    bool          `json:"trapped,omitempty"`
	TrapReason string        `json:"trap_reason,omitempty"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Summary describes the run in one line.
func (r *Result) Summary() string {
	switch {
	case r.Completed:
		return fmt.Sprintf("exited %d", r.ExitCode)
	case r.TimedOut:
		return fmt.Sprintf("timed out after %s", r.Duration.Round(time.Millisecond))
	default:
		return "trapped: " + r.TrapReason
	}
}

// InvocationError reports an emulator that could not be launched.
type InvocationError struct {
	Argv []string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("emulator could not be invoked: %v", e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// CanRepresent reports an error if no run could ever produce expected under
// the configured result source.
func (d *Driver) CanRepresent(expected int) error {
	switch d.source() {
	case SourceExit:
		if expected < 0 || expected > 255 {
			return fmt.Errorf("EXPECT %d is outside the exit status range 0..255", expected)
		}
		if slices.Contains(d.TrapCodes, expected) {
			return fmt.Errorf("EXPECT %d collides with an emulator trap code", expected)
		}
	case SourceStdout:
		if expected < -32768 || expected > 65535 {
			return fmt.Errorf("EXPECT %d does not fit in 16 bits", expected)
		}
	}
	return nil
}

func (d *Driver) source() Source {
	if d.Result == "" {
		return SourceExit
	}
	return d.Result
}

// Execute runs b's artifact once. The returned error is non-nil only when the
// emulator could not be launched, b is not runnable, or ctx was cancelled.
func (d *Driver) Execute(ctx context.Context, b *build.Result) (*Result, error) {
	if b == nil || !b.Succeeded {
		return nil, errors.New("execute: build did not produce an artifact")
	}

	vars := make(map[string]string, len(d.Vars)+3)
	maps.Copy(vars, d.Vars)
	vars["artifact"] = b.Artifact
	vars["work"] = b.WorkDir
	vars["entry"] = ""
	if b.HasEntry {
		vars["entry"] = fmt.Sprintf("0x%04X", b.Entry)
	}

	argv, err := build.Expand(d.Argv, vars)
	if err != nil {
		return nil, &InvocationError{Argv: d.Argv, Err: err}
	}
	if len(argv) == 0 {
		return nil, &InvocationError{Err: errors.New("empty emulator argv")}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &runner.Runner{Dir: b.WorkDir, Timeout: timeout, MaxOutput: d.MaxOutput, Env: d.Env}

	out, err := r.Run(ctx, argv)
	if err != nil {
		return nil, &InvocationError{Argv: argv, Err: err}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := &Result{
		Stdout:   string(out.Stdout),
		Stderr:   string(out.Stderr),
		Duration: out.Duration,
	}
	d.interpret(out, res)

	slog.Debug("emulator finished", "artifact", b.Artifact, "result", res.Summary(), "dur", out.Duration)
	return res, nil
}

func (d *Driver) interpret(out *runner.Result, res *Result) {
	switch {
	case out.TimedOut:
		res.TimedOut = true
		return
	case out.Signal != "":
		res.Trapped = true
		res.TrapReason = "signal: " + out.Signal
		return
	}

	switch d.source() {
	case SourceStdout:
		if out.ExitCode != 0 {
			res.Trapped = true
			res.TrapReason = fmt.Sprintf("emulator exited %d", out.ExitCode)
			return
		}
		matches := lastIntPattern.FindAllString(string(out.Stdout), -1)
		if len(matches) == 0 {
			res.Trapped = true
			res.TrapReason = "no result on emulator stdout"
			return
		}
		v, err := strconv.Atoi(matches[len(matches)-1])
		if err != nil {
			res.Trapped = true
			res.TrapReason = "unparseable result " + strconv.Quote(matches[len(matches)-1])
			return
		}
		res.Completed = true
		res.ExitCode = v
	default:
		if slices.Contains(d.TrapCodes, out.ExitCode) {
			res.Trapped = true
			res.TrapReason = fmt.Sprintf("trap code %d", out.ExitCode)
			return
		}
		res.Completed = true
		res.ExitCode = out.ExitCode
	}
}
