// Package logbuf keeps the most recent diagnostic lines of the relay.
package logbuf

import "sync"

// DefaultSize is the number of lines kept when New is given n <= 0.
const DefaultSize = 50

// Ring is a fixed-size, thread-safe history of lines. Once full, each new
// line evicts the oldest.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	count int
}

// New creates a ring holding the last n lines.
func New(n int) *Ring {
	if n <= 0 {
		n = DefaultSize
	}
	return &Ring{lines: make([]string, n)}
}

// Add records a line.
func (r *Ring) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Last returns up to n of the most recent lines, oldest first.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return []string{}
	}

	out := make([]string, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := range out {
		out[i] = r.lines[(start+i)%len(r.lines)]
	}
	return out
}

// Len returns the number of lines currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset discards all lines.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.lines {
		r.lines[i] = ""
	}
	r.next = 0
	r.count = 0
}
