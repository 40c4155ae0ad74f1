// Package harness runs end-to-end scenarios against a scripted stand-in for
// the gcc6809 toolchain and emulator.
package harness

// defaultConfig drives the fake toolchain in testdata/toolchain. A scenario
// replaces it by shipping its own .m6809test.yaml.
const defaultConfig = `toolchain:
  timeout: 2s
  stages:
    - name: compile
      argv: [sh, "{toolchain}/fakecc.sh", "{src}", "{work}/test.s"]
    - name: link
      argv: [sh, "{toolchain}/fakeld.sh", "{work}/test.s", "{artifact}", "{map}"]
emulator:
  argv: [sh, "{toolchain}/fakeemu.sh", "{artifact}", "{entry}"]
  timeout: 2s
run:
  workers: 4
`

// Expectation is the expected.yaml of a scenario.
type Expectation struct {
	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`

	// ExitCode is the report's expected exit code.
	ExitCode int `yaml:"exit_code"`

	// Cases maps fixture paths to expected verdicts. Every fixture in the
	// scenario must be listed.
	Cases map[string]string `yaml:"cases"`

	// Reasons maps fixture paths to a substring of the expected reason.
	Reasons map[string]string `yaml:"reasons,omitempty"`

	// Skip disables the scenario.
	Skip   bool   `yaml:"skip,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}
