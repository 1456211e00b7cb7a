package e2e

import (
	"os/exec"
	"strings"
)

// Command wraps exec.Cmd.
type Command struct {
	*exec.Cmd
}

func NewCommand(name string, args ...string) *Command {
	return &Command{Cmd: exec.Command(name, args...)}
}

// RunCommand runs a command and returns its combined output.
func RunCommand(name string, args ...string) (string, error) {
	output, err := NewCommand(name, args...).CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// CommandExists checks if a command exists in PATH.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
