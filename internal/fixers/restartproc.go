package fixers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// activityProbe is how long the fixer watches a running process for CPU
// movement before declaring it hung.
const activityProbe = 500 * time.Millisecond

// RestartProc ensures a named process is running and responsive. A
// missing process is started from its configured command; a running
// process with CPU activity is left alone (no-op success), so repeated
// invocation never makes things worse; a running process with no CPU
// movement across a short probe is killed and started fresh.
type RestartProc struct {
	// startCommands maps a process name to the argv used to start it.
	startCommands map[string][]string

	cpuSecs   func(ctx context.Context, name string) (float64, bool, error)
	kill      func(ctx context.Context, name string) error
	start     func(ctx context.Context, argv []string) error
	probeWait time.Duration
}

// NewRestartProc creates the process-restart fixer.
func NewRestartProc(startCommands map[string][]string) *RestartProc {
	r := &RestartProc{
		startCommands: startCommands,
		probeWait:     activityProbe,
	}
	r.cpuSecs = sumCPUSecs
	r.kill = killByName
	r.start = startDetached
	return r
}

func (r *RestartProc) Name() string {
	return "restartproc"
}

func (r *RestartProc) Apply(ctx context.Context, target string) error {
	argv, ok := r.startCommands[target]
	if !ok || len(argv) == 0 {
		return fmt.Errorf("no start command configured for %q", target)
	}

	before, running, err := r.cpuSecs(ctx, target)
	if err != nil {
		return fmt.Errorf("inspect %q: %w", target, err)
	}

	if !running {
		return r.start(ctx, argv)
	}

	// Watch for CPU movement before deciding the process is hung.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.probeWait):
	}

	after, running, err := r.cpuSecs(ctx, target)
	if err != nil {
		return fmt.Errorf("inspect %q: %w", target, err)
	}
	if !running {
		return r.start(ctx, argv)
	}
	if after > before {
		// Alive and doing work.
		return nil
	}

	if err := r.kill(ctx, target); err != nil {
		return fmt.Errorf("kill %q: %w", target, err)
	}
	return r.start(ctx, argv)
}

// sumCPUSecs returns the summed CPU seconds of all processes matching
// name, and whether any were found.
func sumCPUSecs(ctx context.Context, name string) (float64, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, err
	}

	var total float64
	found := false
	for _, pr := range procs {
		n, err := pr.NameWithContext(ctx)
		if err != nil || !strings.EqualFold(n, name) {
			continue
		}
		found = true
		if times, err := pr.TimesWithContext(ctx); err == nil {
			total += times.User + times.System
		}
	}
	return total, found, nil
}

func killByName(ctx context.Context, name string) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return err
	}
	for _, pr := range procs {
		n, err := pr.NameWithContext(ctx)
		if err != nil || !strings.EqualFold(n, name) {
			continue
		}
		if err := pr.KillWithContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

func startDetached(ctx context.Context, argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	// Detach: the restarted process must outlive the fix attempt.
	go cmd.Wait()
	return nil
}
