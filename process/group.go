package process

import (
	"os"
	"os/exec"
)

// Group abstracts OS process-group (or equivalent isolation unit)
// management so that termination can target a whole descendant tree.
// Platform implementations are selected at build time.
type Group interface {
	// Setup arranges for the child started by cmd to become the leader of
	// a fresh process group.
	Setup(cmd *exec.Cmd)

	// Terminate gracefully signals the individual process.
	Terminate(p *os.Process) error

	// SignalGroup signals the whole group rooted at pid; kill selects the
	// forceful variant.
	SignalGroup(pid int, kill bool) error
}
