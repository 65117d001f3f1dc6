//go:build linux

package transport

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own group and asks the kernel to
// SIGTERM it if this process dies first.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}
