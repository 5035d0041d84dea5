package proctable

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// Native scans the process table in-process with gopsutil, avoiding a
// fork per query.
type Native struct {
	logger *slog.Logger
}

// NewNative creates a gopsutil-backed Table.
func NewNative() *Native {
	return &Native{logger: slog.With("component", "proctable")}
}

func (n *Native) Find(ctx context.Context, pattern string) ([]int, error) {
	procs, err := n.matching(ctx, pattern)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, int(p.Pid))
	}
	return pids, nil
}

func (n *Native) Kill(ctx context.Context, pattern string) (int, error) {
	procs, err := n.matching(ctx, pattern)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, p := range procs {
		if err := p.TerminateWithContext(ctx); err != nil {
			// Exited between the scan and the signal, or not ours to signal.
			n.logger.Debug("terminate failed", "pid", p.Pid, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

func (n *Native) matching(ctx context.Context, pattern string) ([]*process.Process, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := int32(os.Getpid())
	var matched []*process.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// Kernel threads and processes that exited mid-scan.
			continue
		}
		if re.MatchString(cmdline) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}
