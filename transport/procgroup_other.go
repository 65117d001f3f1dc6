//go:build !linux

package transport

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own group. Pdeathsig is Linux only.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}
