//go:build windows

package process

import "os/exec"

// Prepare is a no-op on Windows
func Prepare(_ *exec.Cmd) {}

// Kill force-terminates the child
func Kill(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
