// Package driver launches and stops the relay subprocess and exposes its
// diagnostic stream.
package driver

import "time"

// State represents the lifecycle state of one launched process.
type State string

const (
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped" // exited after we asked it to
	StateFailed   State = "failed"  // exited on its own
)

// ProcessInfo holds runtime information about a launched process.
type ProcessInfo struct {
	PID       int
	State     State
	StartedAt time.Time
	ExitCode  int
	Error     string
}

// Config describes the process to launch.
type Config struct {
	Binary string
	Args   []string
	Env    []string // appended to the inherited environment
}
