package fixers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// allowedCommands is the strict allowlist of network-management commands
// the reconnect fixer may run, keyed by command with permitted first
// arguments.
var allowedCommands = map[string][]string{
	"nmcli": {"connection", "device", "-t"},
	"netsh": {"wlan"},
}

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, cmd string, args ...string) (string, error)
}

// AllowlistRunner runs commands from the allowlist only.
type AllowlistRunner struct{}

// NewAllowlistRunner creates the default command runner.
func NewAllowlistRunner() *AllowlistRunner {
	return &AllowlistRunner{}
}

func isAllowed(cmd string, args []string) bool {
	allowedFirst, ok := allowedCommands[cmd]
	if !ok || len(args) == 0 {
		return false
	}
	for _, a := range allowedFirst {
		if args[0] == a {
			return true
		}
	}
	return false
}

// Run executes a command if it is in the allowlist.
func (r *AllowlistRunner) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	if !isAllowed(cmd, args) {
		return "", fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	if err := execCmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String(), fmt.Errorf("%s %s: %s", cmd, args[0], msg)
	}
	return stdout.String(), nil
}
