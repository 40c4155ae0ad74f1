// Package main implements the CLI driver for the gcc6809 conformance suite.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/m6809test/internal/config"
	"github.com/715d/m6809test/internal/runner"
	"github.com/715d/m6809test/pkg/conformance"
	"github.com/715d/m6809test/pkg/fixture"
)

// Config holds all command-line options.
type Config struct {
	Dir          string        // fixture directory
	ConfigFile   string        // explicit configuration file
	Workers      int           // concurrent cases, 0 uses the configuration
	Timeout      time.Duration // emulator timeout per case
	BuildTimeout time.Duration // toolchain timeout per case
	Deadline     time.Duration // whole-run deadline
	Filter       string        // substring of fixture names to run
	KeepWork     bool          // keep per-case work directories
	ReportFile   string        // also write the JSON report here
	Verbose      bool
	JSON         bool
	Profile      bool
}

const (
	exitFailures = 1
	exitError    = 2
)

const defaultDir = "tests/cases"

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(&Config{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = teardown()
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(exitCode(err))
	}
}

func newRootCmd(cfg *Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "m6809test [fixture-dir]",
		Short: "Run the gcc6809 conformance suite",
		Long: `m6809test compiles each C fixture with the gcc6809 toolchain, runs it on an
MC6809 emulator, and compares the result with the fixture's EXPECT marker.

Fixtures annotated XFAIL are known compiler defects: they pass while the defect
reproduces and are reported as regressions once it stops reproducing.

Exit status is 0 when no case failed, regressed, or errored, 1 otherwise, and
2 when the suite could not run at all.`,
		Example: `  m6809test                            # Run tests/cases
  m6809test -j 8 ./cases               # Eight cases at a time
  m6809test --run bitfield             # Only fixtures whose name contains "bitfield"
  m6809test --report-file run.json     # Save the report for a later diff
  m6809test diff before.json run.json  # Show verdict changes between runs`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, cfg, args)
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setup(cfg)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return teardown()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("m6809test version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.ConfigFile, "config", "c", "", "Configuration file (default: "+config.FileName+" in the fixture or current directory)")
	flags.IntVarP(&cfg.Workers, "jobs", "j", 0, "Cases to run concurrently (default: configured, else number of CPUs)")
	flags.DurationVar(&cfg.Timeout, "timeout", 0, "Emulator timeout per case (default: configured, else 10s)")
	flags.DurationVar(&cfg.BuildTimeout, "build-timeout", 0, "Toolchain timeout per case (default: configured, else 60s)")
	flags.DurationVar(&cfg.Deadline, "deadline", 0, "Stop scheduling new cases after this long")
	flags.StringVar(&cfg.Filter, "run", "", "Only run fixtures whose name contains this string")
	flags.BoolVar(&cfg.KeepWork, "keep-work", false, "Keep per-case work directories for inspection")
	flags.StringVar(&cfg.ReportFile, "report-file", "", "Also write the JSON report to this file")

	rootCmd.AddCommand(newDiffCmd(cfg))
	return rootCmd
}

func runCommand(cmd *cobra.Command, cfg *Config, args []string) error {
	cfg.Dir = defaultDir
	if len(args) > 0 {
		cfg.Dir = args[0]
	}

	report, err := runSuite(cmd.Context(), cfg)
	if err != nil {
		return errWithCode(err, exitError)
	}

	if err := writeResults(cmd.OutOrStdout(), report, cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	if cfg.ReportFile != "" {
		if err := writeReportFile(cfg.ReportFile, report); err != nil {
			return errWithCode(err, exitError)
		}
	}

	if code := report.ExitCode(); code != 0 {
		return errWithCode(nil, code)
	}
	return nil
}

// runSuite loads the configuration, checks the toolchain, and runs every
// selected fixture. Errors are fatal to the whole run.
func runSuite(ctx context.Context, cfg *Config) (*conformance.Report, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	settings, err := config.Load(cfg.ConfigFile, cfg.Dir, cwd)
	if err != nil {
		return nil, err
	}
	applyFlags(settings, cfg)

	lookup := runner.NewLookup()
	settings.ResolveRoot(lookup)
	if err := settings.Preflight(lookup); err != nil {
		return nil, err
	}
	slog.Info("toolchain ready", "root", settings.Toolchain.Root, "programs", lookup.Len())

	paths, err := fixture.Discover(cfg.Dir, settings.Extensions(), cfg.Filter)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		if cfg.Filter != "" {
			return nil, fmt.Errorf("no fixtures in %s matching %q", cfg.Dir, cfg.Filter)
		}
		return nil, fmt.Errorf("no fixtures in %s", cfg.Dir)
	}

	orch := settings.Orchestrator()
	orch.KeepWork = cfg.KeepWork

	r := &conformance.Runner{
		Builder:  orch,
		Executor: settings.Driver(),
		Workers:  settings.Run.Workers,
		Deadline: settings.Deadline(),
	}

	report := r.Run(ctx, cfg.Dir, paths)
	slog.Info("run completed", "run_id", report.RunID, "dur", report.Duration)
	return report, nil
}

// applyFlags overlays the non-zero command-line settings on the configuration.
func applyFlags(settings *config.Config, cfg *Config) {
	if cfg.Workers > 0 {
		settings.Run.Workers = cfg.Workers
	}
	if cfg.Timeout > 0 {
		settings.Emulator.RawTimeout = cfg.Timeout.String()
	}
	if cfg.BuildTimeout > 0 {
		settings.Toolchain.RawTimeout = cfg.BuildTimeout.String()
	}
	if cfg.Deadline > 0 {
		settings.Run.RawDeadline = cfg.Deadline.String()
	}
}

func writeReportFile(path string, report *conformance.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := report.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func newDiffCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "diff OLD.json NEW.json",
		Short: "Show cases whose verdict changed between two saved reports",
		Long: `diff compares two reports written with --report-file and lists every case
that was added, removed, or changed verdict. It exits 1 when anything changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := conformance.ReadFile(args[0])
			if err != nil {
				return errWithCode(err, exitError)
			}
			after, err := conformance.ReadFile(args[1])
			if err != nil {
				return errWithCode(err, exitError)
			}

			changes := conformance.Diff(before, after)
			if err := writeChanges(cmd.OutOrStdout(), changes, cfg); err != nil {
				return errWithCode(fmt.Errorf("format changes: %w", err), exitError)
			}
			if len(changes) > 0 {
				return errWithCode(nil, exitFailures)
			}
			return nil
		},
	}
}

// newLogger discards everything unless verbose; with --json it logs JSON.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	if !cfg.Verbose {
		return slog.New(slog.DiscardHandler)
	}
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// profiler writes cpu.prof and mem.prof into dir around one suite run.
type profiler struct {
	dir string
	cpu *os.File
}

// active is the profiler started by --profile, stopped after the command.
var active *profiler

func (p *profiler) start() error {
	path := filepath.Join(p.dir, "cpu.prof")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	p.cpu = f
	slog.Debug("profiling suite", "cpu", path)
	return nil
}

func (p *profiler) stop() error {
	if p.cpu == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := p.cpu.Close()
	p.cpu = nil
	if err != nil {
		return fmt.Errorf("closing CPU profile: %w", err)
	}

	path := filepath.Join(p.dir, "mem.prof")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	runtime.GC() // up-to-date heap statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("writing heap profile: %w", err)
	}
	slog.Debug("profiles written", "dir", p.dir)
	return nil
}

func setup(cfg *Config) error {
	slog.SetDefault(newLogger(cfg, os.Stderr))
	if !cfg.Profile || active != nil {
		return nil
	}
	p := &profiler{dir: "."}
	if err := p.start(); err != nil {
		return err
	}
	active = p
	return nil
}

func teardown() error {
	if active == nil {
		return nil
	}
	p := active
	active = nil
	return p.stop()
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }

// exitCode maps an error returned by the command to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cErr *codedError
	if errors.As(err, &cErr) {
		return cErr.code
	}
	return exitError
}
