//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// windowsGroup approximates process-group semantics with a dedicated
// console process group plus taskkill tree termination.
type windowsGroup struct{}

func newGroup() Group { return windowsGroup{} }

func (windowsGroup) Setup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

func (windowsGroup) Terminate(p *os.Process) error {
	// Windows has no graceful per-process signal usable across consoles;
	// Kill is the closest equivalent.
	return p.Kill()
}

func (windowsGroup) SignalGroup(pid int, kill bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if kill {
		args = append(args, "/F")
	}
	out, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill tree termination for pid %d failed: %v (%s)", pid, err, out)
	}
	return nil
}

func terminationSignal(*os.ProcessState) (int, bool) {
	return 0, false
}
