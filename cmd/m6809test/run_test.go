//go:build unix

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/m6809test/pkg/classify"
	"github.com/715d/m6809test/pkg/conformance"
)

func toolchainDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "testdata", "toolchain"))
	require.NoError(t, err)
	return dir
}

// writeSuite creates a fixture directory wired to the fake toolchain.
func writeSuite(t *testing.T, fixtures map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `toolchain:
  timeout: 5s
  vars:
    toolchain: ` + toolchainDir(t) + `
  stages:
    - name: compile
      argv: [sh, "{toolchain}/fakecc.sh", "{src}", "{work}/test.s"]
    - name: link
      argv: [sh, "{toolchain}/fakeld.sh", "{work}/test.s", "{artifact}", "{map}"]
emulator:
  argv: [sh, "{toolchain}/fakeemu.sh", "{artifact}", "{entry}"]
  timeout: 5s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".m6809test.yaml"), []byte(cfg), 0o644))
	for name, src := range fixtures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&Config{})
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), exitCode(err)
}

func TestRun_EndToEnd(t *testing.T) {
	dir := writeSuite(t, map[string]string{
		"sum.c":   "// EXPECT: 3\nint main(void) { return 1 + 2; }\n",
		"wrong.c": "// EXPECT: 5\n// FAKE: exit 4\nint main(void) { return 5; }\n",
		"known.c": "// EXPECT: 9\n// XFAIL: ICE in reload\n// FAKE: ice\nint main(void) { return 9; }\n",
	})
	reportFile := filepath.Join(t.TempDir(), "run.json")

	out, code := runCLI(t, dir, "-j", "2", "--report-file", reportFile)
	require.Equal(t, exitFailures, code, out)
	require.Contains(t, out, "PASS       sum.c\n")
	require.Contains(t, out, "XFAIL      known.c: build crashed")
	require.Contains(t, out, "Needs attention:\n  FAIL       wrong.c: expected 5, got 4\n")
	require.Contains(t, out, "3 cases in ")

	report, err := conformance.ReadFile(reportFile)
	require.NoError(t, err)
	require.Len(t, report.Cases, 3)
	require.Equal(t, 1, report.Counts[classify.Pass])
	require.Equal(t, 1, report.Counts[classify.Fail])
	require.Equal(t, 1, report.Counts[classify.ExpectedFailure])

	// Filtering down to the passing case succeeds.
	out, code = runCLI(t, dir, "--run", "sum")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "1 case in ")
}

func TestRun_JSON(t *testing.T) {
	dir := writeSuite(t, map[string]string{
		"sum.c": "// EXPECT: 3\nint main(void) { return 3; }\n",
	})

	out, code := runCLI(t, dir, "--json")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, `"verdict": "pass"`)
	require.Contains(t, out, `"run_id": "`)
}

func TestRun_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		args func(dir string) []string
	}{
		{
			name: "missing_dir",
			args: func(dir string) []string { return []string{filepath.Join(dir, "nope")} },
		},
		{
			name: "no_matching_fixtures",
			args: func(dir string) []string { return []string{dir, "--run", "nothing"} },
		},
		{
			name: "missing_emulator",
			args: func(dir string) []string {
				cfg := filepath.Join(dir, "broken.yaml")
				require.NoError(t, os.WriteFile(cfg, []byte("emulator:\n  argv: [m6809-emu-not-installed, \"{artifact}\"]\n"), 0o644))
				return []string{dir, "--config", cfg}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSuite(t, map[string]string{"sum.c": "// EXPECT: 3\n"})
			out, code := runCLI(t, tt.args(dir)...)
			require.Equal(t, exitError, code)
			require.Empty(t, out, "fatal errors print no report")
		})
	}
}

func TestDiffCommand(t *testing.T) {
	dir := writeSuite(t, map[string]string{
		"known.c": "// EXPECT: 9\n// XFAIL: ICE in reload\n// FAKE: ice\n",
	})
	before := filepath.Join(t.TempDir(), "before.json")
	after := filepath.Join(t.TempDir(), "after.json")

	_, code := runCLI(t, dir, "--report-file", before)
	require.Equal(t, 0, code)

	out, code := runCLI(t, "diff", before, before)
	require.Equal(t, 0, code)
	require.Equal(t, "no verdict changes\n", out)

	// The defect is fixed: the case now builds and returns 9.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "known.c"), []byte("// EXPECT: 9\n// XFAIL: ICE in reload\n"), 0o644))
	_, code = runCLI(t, dir, "--report-file", after)
	require.Equal(t, exitFailures, code)

	out, code = runCLI(t, "diff", before, after)
	require.Equal(t, exitFailures, code)
	require.Equal(t, "known.c: xfail -> regression\n1 case changed\n", out)
}
