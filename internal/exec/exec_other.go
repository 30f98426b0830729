//go:build !unix

package exec

import (
	"os"
	osexec "os/exec"
)

func setProcessGroup(cmd *osexec.Cmd) {}

// terminateGroup has no graceful variant here; the process is killed.
func terminateGroup(p *os.Process) error {
	return killGroup(p)
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
