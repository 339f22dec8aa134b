package fixers

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Reconnect re-associates the machine with its last known network
// profile. Already being connected is a no-op success, so invoking it
// twice in a row is safe.
type Reconnect struct {
	runner CommandRunner
	goos   string
	// probe reports whether the network is currently reachable; when it
	// is, Apply does nothing.
	probe func(ctx context.Context) bool
}

// NewReconnect creates the reconnect fixer. probe may be nil, in which
// case Apply always attempts the reconnect sequence.
func NewReconnect(runner CommandRunner, probe func(ctx context.Context) bool) *Reconnect {
	return &Reconnect{
		runner: runner,
		goos:   runtime.GOOS,
		probe:  probe,
	}
}

func (r *Reconnect) Name() string {
	return "reconnect"
}

func (r *Reconnect) Apply(ctx context.Context, target string) error {
	if r.probe != nil && r.probe(ctx) {
		return nil
	}

	switch r.goos {
	case "windows":
		return r.applyWindows(ctx)
	default:
		return r.applyNmcli(ctx)
	}
}

// applyNmcli reconnects via NetworkManager: pick the first saved
// connection profile and bring it up.
func (r *Reconnect) applyNmcli(ctx context.Context) error {
	out, err := r.runner.Run(ctx, "nmcli", "-t", "-f", "NAME", "connection", "show")
	if err != nil {
		return fmt.Errorf("list connection profiles: %w", err)
	}

	profile := firstLine(out)
	if profile == "" {
		return fmt.Errorf("no saved connection profiles")
	}

	if _, err := r.runner.Run(ctx, "nmcli", "connection", "up", profile); err != nil {
		return fmt.Errorf("bring up %q: %w", profile, err)
	}
	return nil
}

// applyWindows reconnects via netsh: disconnect, then connect to the
// first saved wlan profile.
func (r *Reconnect) applyWindows(ctx context.Context) error {
	out, err := r.runner.Run(ctx, "netsh", "wlan", "show", "profiles")
	if err != nil {
		return fmt.Errorf("list wlan profiles: %w", err)
	}

	profile := parseNetshProfile(out)
	if profile == "" {
		return fmt.Errorf("no saved wlan profiles")
	}

	if _, err := r.runner.Run(ctx, "netsh", "wlan", "disconnect"); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}

	if _, err := r.runner.Run(ctx, "netsh", "wlan", "connect", "name="+profile); err != nil {
		return fmt.Errorf("connect to %q: %w", profile, err)
	}
	return nil
}

func firstLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// parseNetshProfile extracts the first profile name from
// `netsh wlan show profiles` output.
func parseNetshProfile(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Profile") {
			continue
		}
		if _, name, ok := strings.Cut(line, ":"); ok {
			if name = strings.TrimSpace(name); name != "" {
				return name
			}
		}
	}
	return ""
}
