package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/m6809test/internal/runner"
	"github.com/715d/m6809test/pkg/build"
	"github.com/715d/m6809test/pkg/execute"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvToolchain, EnvEmulator, EnvCFlags, EnvLibc} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	require.Empty(t, cfg.Path)

	require.Equal(t, build.DefaultTimeout, cfg.ToolchainTimeout())
	require.Equal(t, execute.DefaultTimeout, cfg.EmulatorTimeout())
	require.Zero(t, cfg.Deadline())
	require.Equal(t, []string{".c"}, cfg.Extensions())
	require.Equal(t, DefaultStages, cfg.Stages())

	o := cfg.Orchestrator()
	require.Equal(t, "test.s19", o.Artifact)
	require.Equal(t, "test.map", o.Map)
	require.Equal(t, build.FormatSRec, o.Format)
	require.Equal(t, "_main", o.EntrySymbol)
	require.Equal(t, "0x2000", o.Vars["text_addr"])

	d := cfg.Driver()
	require.Equal(t, []string{DefaultEmulator, "{artifact}"}, d.Argv)
	require.Equal(t, execute.SourceExit, d.Result)
}

func TestLoad_SearchOrder(t *testing.T) {
	clearEnv(t)
	fixtures, cwd := t.TempDir(), t.TempDir()
	writeConfig(t, cwd, "run:\n  workers: 2\n")

	cfg, err := Load("", fixtures, cwd)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Run.Workers)
	require.Equal(t, filepath.Join(cwd, FileName), cfg.Path)

	writeConfig(t, fixtures, "run:\n  workers: 3\n")
	cfg, err = Load("", fixtures, cwd)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Run.Workers)

	explicit := filepath.Join(t.TempDir(), "ci.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("run:\n  workers: 4\n"), 0o644))
	cfg, err = Load(explicit, fixtures, cwd)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Run.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_Full(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
toolchain:
  root: /opt/gcc6809
  timeout: 90s
  format: srec
  vars:
    cflags: -I{root}/include -DHOST_TEST
  stages:
    - name: compile
      argv: ["{root}/bin/m6809-unknown-none-gcc", "{cflags...}", "{src}"]
emulator:
  argv: [m6809-run, --entry, "{entry}", "{artifact}"]
  timeout: 2s
  result: stdout
  trap_codes: [254]
run:
  workers: 8
  deadline: 10m
  extensions: [.c, .cc]
  max_output: 1024
`)

	cfg, err := Load("", dir)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.ToolchainTimeout())
	require.Equal(t, 2*time.Second, cfg.EmulatorTimeout())
	require.Equal(t, 10*time.Minute, cfg.Deadline())
	require.Equal(t, 1024, cfg.MaxOutput())
	require.Equal(t, []string{".c", ".cc"}, cfg.Extensions())

	vars := cfg.Vars()
	require.Equal(t, "/opt/gcc6809", vars["root"])
	require.Equal(t, "-I{root}/include -DHOST_TEST", vars["cflags"])
	require.Equal(t, DefaultVars["libc"], vars["libc"], "unset vars keep their defaults")

	o := cfg.Orchestrator()
	require.Len(t, o.Stages, 1)
	require.Equal(t, "compile", o.Stages[0].Name)

	d := cfg.Driver()
	require.Equal(t, execute.SourceStdout, d.Result)
	require.Equal(t, []int{254}, d.TrapCodes)
	require.Equal(t, "m6809-run", d.Argv[0])
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvToolchain, "/nix/store/gcc6809")
	t.Setenv(EnvCFlags, "-I/custom/include")
	t.Setenv(EnvLibc, "/custom/libc.a")
	t.Setenv(EnvEmulator, "/usr/local/bin/usim09")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	vars := cfg.Vars()
	require.Equal(t, "/nix/store/gcc6809", vars["root"])
	require.Equal(t, "-I/custom/include", vars["cflags"])
	require.Equal(t, "/custom/libc.a", vars["libc"])
	require.Equal(t, []string{"/usr/local/bin/usim09", "{artifact}"}, cfg.EmulatorArgv())

	// The emulator override keeps configured arguments.
	dir := t.TempDir()
	writeConfig(t, dir, "emulator:\n  argv: [m6809-emu, -q, \"{artifact}\"]\n")
	cfg, err = Load("", dir)
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/local/bin/usim09", "-q", "{artifact}"}, cfg.EmulatorArgv())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad_yaml", body: "toolchain: [", wantErr: "yaml"},
		{name: "unknown_field", body: "toolchain:\n  compiler: gcc\n", wantErr: "compiler"},
		{name: "bad_timeout", body: "toolchain:\n  timeout: soon\n", wantErr: `toolchain.timeout: invalid duration "soon"`},
		{name: "negative_deadline", body: "run:\n  deadline: -1s\n", wantErr: "run.deadline"},
		{name: "bad_format", body: "toolchain:\n  format: elf\n", wantErr: `unknown format "elf"`},
		{name: "bad_result", body: "emulator:\n  result: x-register\n", wantErr: `unknown result source "x-register"`},
		{name: "stage_without_name", body: "toolchain:\n  stages:\n    - argv: [gcc]\n", wantErr: "missing name"},
		{name: "stage_without_argv", body: "toolchain:\n  stages:\n    - name: compile\n", wantErr: "empty argv"},
		{name: "negative_workers", body: "run:\n  workers: -1\n", wantErr: "run.workers"},
		{name: "trap_code_range", body: "emulator:\n  trap_codes: [300]\n", wantErr: "300 is not an exit status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			path := writeConfig(t, dir, tt.body)

			_, err := Load("", dir)
			var cerr *Error
			require.True(t, errors.As(err, &cerr), "want *Error, got %v", err)
			require.Equal(t, path, cerr.Path)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, FileName), cfg.Path)
}

// fakeToolchain installs executable stubs under root/bin.
func fakeToolchain(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	}
	return root
}

func TestPreflight(t *testing.T) {
	clearEnv(t)
	root := fakeToolchain(t, DefaultCompiler, "as6809", "aslink", "m6809-emu")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	cfg.Toolchain.Root = root
	cfg.Emulator.Argv = []string{filepath.Join(root, "bin", "m6809-emu"), "{artifact}"}
	require.NoError(t, cfg.Preflight(runner.NewLookup()))

	// Missing assembler and emulator are both reported.
	partial := fakeToolchain(t, DefaultCompiler, "aslink")
	cfg.Toolchain.Root = partial
	cfg.Emulator.Argv = []string{"m6809-emu-not-installed", "{artifact}"}
	err = cfg.Preflight(runner.NewLookup())
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	require.ErrorContains(t, err, "stage assemble")
	require.ErrorContains(t, err, "emulator")
	require.NotContains(t, err.Error(), "stage compile")
}

func TestPreflight_UnknownRoot(t *testing.T) {
	clearEnv(t)
	t.Setenv("PATH", t.TempDir())

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	lookup := runner.NewLookup()
	cfg.ResolveRoot(lookup)
	require.Empty(t, cfg.Toolchain.Root)

	err = cfg.Preflight(lookup)
	require.ErrorContains(t, err, "toolchain root unknown")
}

func TestResolveRoot(t *testing.T) {
	clearEnv(t)
	root := fakeToolchain(t, DefaultCompiler)
	t.Setenv("PATH", filepath.Join(root, "bin"))

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	cfg.ResolveRoot(runner.NewLookup())

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	require.Equal(t, want, cfg.Toolchain.Root)

	cfg.Toolchain.Root = "/configured"
	cfg.ResolveRoot(runner.NewLookup())
	require.Equal(t, "/configured", cfg.Toolchain.Root)
}
