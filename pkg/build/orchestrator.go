// Package build drives the target toolchain over one test case and reports
// whether it produced a loadable image.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/715d/m6809test/internal/runner"
	"github.com/715d/m6809test/pkg/fixture"
	"github.com/715d/m6809test/pkg/srec"
)

// Format is the artifact format produced by the last stage.
type Format string

const (
	FormatSRec Format = "srec"
	FormatRaw  Format = "raw"
)

// DefaultTimeout bounds the whole pipeline when Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Stage is one toolchain invocation. Argv is a template, see Expand.
type Stage struct {
	Name string   `yaml:"name"`
	Argv []string `yaml:"argv"`
}

// Orchestrator builds cases by running Stages in a private directory per case.
// Its fields must not be modified once Build has been called.
type Orchestrator struct {
	Stages []Stage

	// Vars are available to stage templates. The orchestrator adds src, work,
	// artifact, map, and name for every case.
	Vars map[string]string

	// Artifact and Map are file names relative to the work directory.
	// An empty Map disables symbol lookup.
	Artifact string
	Map      string

	Format      Format
	EntrySymbol string

	Timeout   time.Duration
	MaxOutput int
	Env       []string

	// TempDir is the parent of per-case work directories; empty uses os.TempDir.
	TempDir  string
	KeepWork bool
}

// Build compiles tc. The returned error is non-nil only when the harness
// itself failed: a stage could not be launched, the work directory could not
// be prepared, or ctx was cancelled. A rejected or crashed build is reported
// through Result. The caller must Close the result.
func (o *Orchestrator) Build(ctx context.Context, tc *fixture.TestCase) (_ *Result, err error) {
	start := time.Now()

	workDir, err := os.MkdirTemp(o.TempDir, "m6809test-"+tc.Name()+"-")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	res := &Result{WorkDir: workDir, keepWork: o.KeepWork}
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			_ = res.Close()
		}
	}()

	src := filepath.Join(workDir, filepath.Base(tc.Path))
	if err := os.WriteFile(src, tc.Source, 0o644); err != nil {
		return nil, fmt.Errorf("writing source: %w", err)
	}

	vars := o.vars(tc, workDir, src)

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := &runner.Runner{Dir: workDir, MaxOutput: o.MaxOutput, Env: o.Env}
	for _, stage := range o.Stages {
		argv, err := Expand(stage.Argv, vars)
		if err != nil {
			return nil, &InvocationError{Stage: stage.Name, Argv: stage.Argv, Err: err}
		}
		if len(argv) == 0 {
			return nil, &InvocationError{Stage: stage.Name, Err: errors.New("empty argv")}
		}

		out, err := r.Run(pctx, argv)
		if err != nil {
			return nil, &InvocationError{Stage: stage.Name, Argv: argv, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res.Stages = append(res.Stages, StageDiagnostics{
			Name:      stage.Name,
			RunID:     out.RunID,
			Argv:      argv,
			ExitCode:  out.ExitCode,
			Signal:    out.Signal,
			TimedOut:  out.TimedOut,
			Stdout:    string(out.Stdout),
			Stderr:    string(out.Stderr),
			Truncated: out.Truncated,
			Duration:  out.Duration,
		})

		slog.Debug("stage finished", "case", tc.Path, "stage", stage.Name, "run_id", out.RunID, "status", out.Status(), "dur", out.Duration)

		if failure := stageFailure(out); failure != FailureNone {
			res.Failure = failure
			res.Detail = fmt.Sprintf("%s: %s", stage.Name, out.Status())
			return res, nil
		}
	}

	o.verify(res, vars["artifact"], vars["map"])
	return res, nil
}

func (o *Orchestrator) vars(tc *fixture.TestCase, workDir, src string) map[string]string {
	vars := make(map[string]string, len(o.Vars)+5)
	maps.Copy(vars, o.Vars)

	artifact := o.Artifact
	if artifact == "" {
		artifact = tc.Name() + ".s19"
	}
	vars["src"] = src
	vars["work"] = workDir
	vars["name"] = tc.Name()
	vars["artifact"] = filepath.Join(workDir, artifact)
	vars["map"] = ""
	if o.Map != "" {
		vars["map"] = filepath.Join(workDir, o.Map)
	}
	return vars
}

// stageFailure maps a finished stage to a failure kind.
func stageFailure(out *runner.Result) Failure {
	switch {
	case out.TimedOut:
		return FailureTimeout
	case out.Signal != "":
		return FailureCrashed
	case out.ExitCode != 0:
		if strings.Contains(strings.ToLower(string(out.Stderr)), "internal compiler error") {
			return FailureCrashed
		}
		return FailureRejected
	default:
		return FailureNone
	}
}

// verify checks that the pipeline left a loadable image and finds its entry.
func (o *Orchestrator) verify(res *Result, artifact, mapFile string) {
	fail := func(detail string) {
		res.Failure = FailureNoArtifact
		res.Detail = detail
	}

	fi, err := os.Stat(artifact)
	if err != nil || fi.Size() == 0 {
		fail("artifact " + filepath.Base(artifact) + " missing or empty")
		return
	}

	if o.Format == FormatSRec || o.Format == "" {
		info, err := srec.ScanFile(artifact)
		if err != nil {
			fail("malformed artifact: " + err.Error())
			return
		}
		if info.Empty() {
			fail("no code generated")
			return
		}
		res.Entry, res.HasEntry = info.MinAddr, true

		symbol := o.EntrySymbol
		if symbol == "" {
			symbol = "_main"
		}
		if mapFile != "" {
			if addr, ok, err := srec.FindSymbolFile(mapFile, symbol); err == nil && ok {
				res.Entry = addr
			}
		}
	}

	res.Succeeded = true
	res.Failure = FailureNone
	res.Artifact = artifact
}
