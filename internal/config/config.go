// Package config loads the optional .m6809test.yaml file and turns it into a
// build orchestrator and an execution driver.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/715d/m6809test/pkg/build"
	"github.com/715d/m6809test/pkg/execute"
	"github.com/715d/m6809test/pkg/fixture"
)

// FileName is the configuration file looked up next to the fixtures.
const FileName = ".m6809test.yaml"

// Default values.
const (
	DefaultCompiler    = "m6809-unknown-none-gcc"
	DefaultEmulator    = "m6809-emu"
	DefaultArtifact    = "test.s19"
	DefaultMap         = "test.map"
	DefaultEntrySymbol = "_main"
	DefaultMaxOutput   = 64 << 10
)

// Environment overrides.
const (
	EnvToolchain = "M6809_TOOLCHAIN"
	EnvEmulator  = "M6809_EMULATOR"
	EnvCFlags    = "M6809_CFLAGS"
	EnvLibc      = "M6809_LIBC"
)

// DefaultVars are the template variables of the gcc6809 pipeline.
var DefaultVars = map[string]string{
	"cflags":    "-I{root}/m6809-unknown-none/include",
	"libc":      "{root}/m6809-unknown-none/lib/libc.a",
	"libgcc":    "{root}/lib/gcc/m6809-unknown-none/4.3.6/libgcc.a",
	"text_addr": "0x2000",
}

// DefaultStages compile to assembly, assemble, and link at .text=0x2000
// against libc and libgcc.
var DefaultStages = []build.Stage{
	{Name: "compile", Argv: []string{"{root}/bin/" + DefaultCompiler, "-Os", "-std=c99", "-S", "{cflags...}", "{src}", "-o", "{work}/test.s"}},
	{Name: "assemble", Argv: []string{"{root}/bin/as6809", "-g", "-o", "{work}/test.s"}},
	{Name: "link", Argv: []string{"{root}/bin/aslink", "-s", "-m", "-w", "-o", "{artifact}", "-b", ".text={text_addr}", "{work}/test.rel", "-l", "{libc}", "-l", "{libgcc}"}},
}

// Config holds the parsed configuration. All fields are optional; zero
// values represent defaults.
type Config struct {
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	Run       RunConfig       `yaml:"run"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`
}

// ToolchainConfig describes the build pipeline.
type ToolchainConfig struct {
	Root        string            `yaml:"root"`    // toolchain prefix, {root} in templates
	RawTimeout  string            `yaml:"timeout"` // whole pipeline, e.g. "60s"
	Artifact    string            `yaml:"artifact"`
	Map         string            `yaml:"map"`
	Format      string            `yaml:"format"` // srec | raw
	EntrySymbol string            `yaml:"entry_symbol"`
	Vars        map[string]string `yaml:"vars"` // merged over DefaultVars
	Stages      []build.Stage     `yaml:"stages"`
}

// EmulatorConfig describes how artifacts are run.
type EmulatorConfig struct {
	Argv       []string `yaml:"argv"`
	RawTimeout string   `yaml:"timeout"`
	Result     string   `yaml:"result"` // exit | stdout
	TrapCodes  []int    `yaml:"trap_codes"`
}

// RunConfig controls scheduling.
type RunConfig struct {
	Workers     int      `yaml:"workers"`  // 0 = NumCPU
	RawDeadline string   `yaml:"deadline"` // 0 = none
	Extensions  []string `yaml:"extensions"`
	MaxOutput   int      `yaml:"max_output"` // bytes per stream
}

// Error is a fatal configuration problem.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads the configuration file at explicit, or else the first FileName
// found in dirs, then applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(explicit string, dirs ...string) (*Config, error) {
	cfg := &Config{}

	path := explicit
	if path == "" {
		for _, dir := range dirs {
			candidate := filepath.Join(dir, FileName)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, &Error{Path: path, Err: err}
		}
		cfg.Path = path
		slog.Debug("loaded config", "path", path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvToolchain); v != "" {
		c.Toolchain.Root = v
	}
	if v := os.Getenv(EnvCFlags); v != "" {
		c.setVar("cflags", v)
	}
	if v := os.Getenv(EnvLibc); v != "" {
		c.setVar("libc", v)
	}
	if v := os.Getenv(EnvEmulator); v != "" {
		if len(c.Emulator.Argv) > 0 {
			c.Emulator.Argv = append([]string{v}, c.Emulator.Argv[1:]...)
		} else {
			c.Emulator.Argv = []string{v, "{artifact}"}
		}
	}
}

func (c *Config) setVar(name, value string) {
	if c.Toolchain.Vars == nil {
		c.Toolchain.Vars = make(map[string]string)
	}
	c.Toolchain.Vars[name] = value
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return &Error{Path: c.Path, Err: fmt.Errorf(format, args...)}
	}

	for _, d := range []struct{ name, raw string }{
		{"toolchain.timeout", c.Toolchain.RawTimeout},
		{"emulator.timeout", c.Emulator.RawTimeout},
		{"run.deadline", c.Run.RawDeadline},
	} {
		if d.raw == "" {
			continue
		}
		if v, err := time.ParseDuration(d.raw); err != nil || v < 0 {
			return fail("%s: invalid duration %q", d.name, d.raw)
		}
	}

	switch build.Format(c.Toolchain.Format) {
	case "", build.FormatSRec, build.FormatRaw:
	default:
		return fail("toolchain.format: unknown format %q", c.Toolchain.Format)
	}
	switch execute.Source(c.Emulator.Result) {
	case "", execute.SourceExit, execute.SourceStdout:
	default:
		return fail("emulator.result: unknown result source %q", c.Emulator.Result)
	}

	for i, s := range c.Toolchain.Stages {
		if s.Name == "" {
			return fail("toolchain.stages[%d]: missing name", i)
		}
		if len(s.Argv) == 0 {
			return fail("toolchain.stages[%d] (%s): empty argv", i, s.Name)
		}
	}
	if c.Run.Workers < 0 {
		return fail("run.workers: must not be negative")
	}
	for _, code := range c.Emulator.TrapCodes {
		if code < 0 || code > 255 {
			return fail("emulator.trap_codes: %d is not an exit status", code)
		}
	}
	return nil
}

// ToolchainTimeout returns the pipeline timeout or the default.
func (c *Config) ToolchainTimeout() time.Duration {
	return parseOr(c.Toolchain.RawTimeout, build.DefaultTimeout)
}

// EmulatorTimeout returns the per-run emulator timeout or the default.
func (c *Config) EmulatorTimeout() time.Duration {
	return parseOr(c.Emulator.RawTimeout, execute.DefaultTimeout)
}

// Deadline returns the run deadline, zero for none.
func (c *Config) Deadline() time.Duration {
	return parseOr(c.Run.RawDeadline, 0)
}

// MaxOutput returns the per-stream capture limit.
func (c *Config) MaxOutput() int {
	if c.Run.MaxOutput > 0 {
		return c.Run.MaxOutput
	}
	return DefaultMaxOutput
}

// Extensions returns the fixture extensions.
func (c *Config) Extensions() []string {
	if len(c.Run.Extensions) > 0 {
		return c.Run.Extensions
	}
	return fixture.DefaultExtensions
}

// Stages returns the configured stages or DefaultStages.
func (c *Config) Stages() []build.Stage {
	if len(c.Toolchain.Stages) > 0 {
		return c.Toolchain.Stages
	}
	return DefaultStages
}

// Vars returns the template variables: DefaultVars overlaid with configured
// ones, plus root.
func (c *Config) Vars() map[string]string {
	vars := maps.Clone(DefaultVars)
	maps.Copy(vars, c.Toolchain.Vars)
	vars["root"] = c.Toolchain.Root
	return vars
}

// EmulatorArgv returns the emulator command template.
func (c *Config) EmulatorArgv() []string {
	if len(c.Emulator.Argv) > 0 {
		return c.Emulator.Argv
	}
	return []string{DefaultEmulator, "{artifact}"}
}

// Orchestrator builds the toolchain driver described by c.
func (c *Config) Orchestrator() *build.Orchestrator {
	artifact := c.Toolchain.Artifact
	if artifact == "" {
		artifact = DefaultArtifact
	}
	mapFile := c.Toolchain.Map
	if mapFile == "" {
		mapFile = DefaultMap
	}
	format := build.Format(c.Toolchain.Format)
	if format == "" {
		format = build.FormatSRec
	}
	symbol := c.Toolchain.EntrySymbol
	if symbol == "" {
		symbol = DefaultEntrySymbol
	}
	return &build.Orchestrator{
		Stages:      c.Stages(),
		Vars:        c.Vars(),
		Artifact:    artifact,
		Map:         mapFile,
		Format:      format,
		EntrySymbol: symbol,
		Timeout:     c.ToolchainTimeout(),
		MaxOutput:   c.MaxOutput(),
	}
}

// Driver builds the emulator driver described by c.
func (c *Config) Driver() *execute.Driver {
	source := execute.Source(c.Emulator.Result)
	if source == "" {
		source = execute.SourceExit
	}
	return &execute.Driver{
		Argv:      c.EmulatorArgv(),
		Vars:      c.Vars(),
		Timeout:   c.EmulatorTimeout(),
		Result:    source,
		TrapCodes: c.Emulator.TrapCodes,
		MaxOutput: c.MaxOutput(),
	}
}

func parseOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
