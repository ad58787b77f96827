//go:build !unix

package process

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

func exitCode(err *exec.ExitError) int {
	return err.ExitCode()
}
