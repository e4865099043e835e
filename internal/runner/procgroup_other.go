//go:build !unix

package runner

import "os/exec"

// killProcessGroup is a no-op where process groups are unavailable; the
// direct child is killed and WaitDelay releases the output pipes.
func killProcessGroup(*exec.Cmd) {}
