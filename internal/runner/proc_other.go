//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalName(ps *os.ProcessState) string {
	if ps == nil || ps.ExitCode() != -1 {
		return ""
	}
	return ps.String()
}
