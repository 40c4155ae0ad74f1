package runner

import (
	"fmt"
	"time"
)

// Result holds the outcome of a command execution.
type Result struct {
	RunID     string        // unique identifier for this invocation
	Argv      []string      // the command as executed
	ExitCode  int           // process exit code; -1 when killed or timed out
	Signal    string        // terminating signal, empty if the process exited
	TimedOut  bool          // killed because the timeout elapsed
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if output exceeded the size cap
	Duration  time.Duration // wall-clock time
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return !r.TimedOut && r.Signal == "" && r.ExitCode == 0
}

// Status describes how the command ended, e.g. "exit 1" or "signal: segmentation fault".
func (r *Result) Status() string {
	switch {
	case r.TimedOut:
		return fmt.Sprintf("timed out after %s", r.Duration.Round(time.Millisecond))
	case r.Signal != "":
		return "signal: " + r.Signal
	default:
		return fmt.Sprintf("exit %d", r.ExitCode)
	}
}
