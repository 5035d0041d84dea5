package proctable

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/benaskins/loopmic/internal/sysexec"
)

// Pgrep shells out to pgrep and pkill.
type Pgrep struct {
	runner sysexec.Runner
}

// NewPgrep creates a Table backed by the pgrep/pkill binaries.
func NewPgrep(runner sysexec.Runner) *Pgrep {
	return &Pgrep{runner: runner}
}

func (p *Pgrep) Find(ctx context.Context, pattern string) ([]int, error) {
	if _, err := compile(pattern); err != nil {
		return nil, err
	}

	out, err := p.runner.Run(ctx, "pgrep", "-f", pattern)
	if err != nil {
		// pgrep exits 1 when nothing matched.
		if sysexec.ExitCode(err) == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep: %w", err)
	}
	return parsePIDs(string(out))
}

func (p *Pgrep) Kill(ctx context.Context, pattern string) (int, error) {
	pids, err := p.Find(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(pids) == 0 {
		return 0, nil
	}

	if _, err := p.runner.Run(ctx, "pkill", "-f", pattern); err != nil {
		if sysexec.ExitCode(err) == 1 {
			return 0, nil
		}
		return 0, fmt.Errorf("pkill: %w", err)
	}
	return len(pids), nil
}

func parsePIDs(out string) ([]int, error) {
	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("parsing pgrep output %q: %w", field, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
