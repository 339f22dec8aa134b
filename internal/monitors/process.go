package monitors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/fentz26/murmur/internal/models"
)

// Process watches a set of named processes for absence and for the
// frozen heuristic: a process whose accumulated CPU time does not move
// between two consecutive samples is reported as proc_frozen.
type Process struct {
	interval time.Duration
	names    []string

	// prevCPU maps a watched name to the summed CPU seconds seen on
	// the previous sample. Only touched from the sampling loop.
	prevCPU map[string]float64

	list func(ctx context.Context) ([]procInfo, error)
}

type procInfo struct {
	pid     int32
	name    string
	cpuSecs float64
}

// NewProcess creates the named-process liveness probe.
func NewProcess(interval time.Duration, names []string) *Process {
	p := &Process{
		interval: interval,
		names:    names,
		prevCPU:  make(map[string]float64),
	}
	p.list = listProcesses
	return p
}

func (p *Process) Name() string {
	return "process"
}

func (p *Process) Interval() time.Duration {
	return p.interval
}

func (p *Process) Sample(ctx context.Context) []models.Observation {
	procs, err := p.list(ctx)
	if err != nil {
		return []models.Observation{probeError(p.Name(), "", err)}
	}

	now := time.Now().UTC()
	var out []models.Observation
	for _, name := range p.names {
		var found bool
		var cpuSecs float64
		var pid int32
		for _, pr := range procs {
			if strings.EqualFold(pr.name, name) {
				found = true
				pid = pr.pid
				cpuSecs += pr.cpuSecs
			}
		}

		if !found {
			delete(p.prevCPU, name)
			out = append(out, models.Observation{
				Source:    p.Name(),
				Kind:      models.KindProcMissing,
				Target:    name,
				Timestamp: now,
			})
			continue
		}

		kind := models.KindProcRunning
		detail := ""
		if prev, ok := p.prevCPU[name]; ok && cpuSecs == prev {
			kind = models.KindProcFrozen
			detail = fmt.Sprintf("pid %d: no cpu activity since last sample", pid)
		}
		p.prevCPU[name] = cpuSecs

		out = append(out, models.Observation{
			Source:    p.Name(),
			Kind:      kind,
			Target:    name,
			Value:     fmt.Sprintf("%d", pid),
			Detail:    detail,
			Timestamp: now,
		})
	}
	return out
}

func listProcesses(ctx context.Context) ([]procInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]procInfo, 0, len(procs))
	for _, pr := range procs {
		name, err := pr.NameWithContext(ctx)
		if err != nil {
			// Process exited between listing and inspection.
			continue
		}
		info := procInfo{pid: pr.Pid, name: name}
		if times, err := pr.TimesWithContext(ctx); err == nil {
			info.cpuSecs = times.User + times.System
		}
		out = append(out, info)
	}
	return out, nil
}
