//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// posixGroup implements Group with POSIX process groups: the child is made
// its own group leader via setpgid and signals are delivered to -pgid.
type posixGroup struct{}

func newGroup() Group { return posixGroup{} }

func (posixGroup) Setup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func (posixGroup) Terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

func (posixGroup) SignalGroup(pid int, kill bool) error {
	sig := unix.SIGTERM
	if kill {
		sig = unix.SIGKILL
	}
	return unix.Kill(-pid, sig)
}

// terminationSignal extracts the signal number when the process was killed
// by a signal rather than exiting.
func terminationSignal(state *os.ProcessState) (int, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return 0, false
	}
	if ws.Signaled() {
		return int(ws.Signal()), true
	}
	return 0, false
}
