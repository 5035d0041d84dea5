// Package proctable queries and signals OS processes by command-line
// pattern, with the semantics of pgrep -f and pkill -f: the pattern is a
// regular expression matched against the full command line, and the
// calling process never matches itself.
//
// Matching by pattern is inherently loose. Any process whose command line
// happens to contain the pattern matches, including unrelated programs
// that mention the same URL or device string.
package proctable

import (
	"context"
	"fmt"
	"regexp"
)

// Table is the OS process-table capability the supervisor depends on.
type Table interface {
	// Find returns the PIDs of processes whose command line matches pattern.
	Find(ctx context.Context, pattern string) ([]int, error)

	// Kill sends SIGTERM to every matching process and returns how many
	// were signalled.
	Kill(ctx context.Context, pattern string) (int, error)
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid process pattern %q: %w", pattern, err)
	}
	return re, nil
}
