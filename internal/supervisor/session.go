package supervisor

import (
	"time"

	"github.com/benaskins/loopmic/internal/logbuf"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// recentOutputLines is how many diagnostic lines a Snapshot carries.
const recentOutputLines = 10

// session is the state of the one stream a Supervisor manages. All fields
// are guarded by Supervisor.mu.
type session struct {
	sourceURL       string
	deviceID        string
	run             *run // nil when no process has been launched since the last stop
	believedRunning bool
	lastOutputLine  string
	lastActivity    time.Time
	restartCount    int
	lastRestart     time.Time
	runID           string
	observedPID     int
	approximate     bool
	budgetExhausted bool
	state           State
	history         *logbuf.Ring
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	SourceURL       string
	DeviceID        string
	PID             int  // tracked relay PID, 0 when there is no handle
	ProcessAlive    bool // the tracked handle exists and has not exited
	BelievedRunning bool
	LastOutputLine  string
	LastActivity    time.Time
	RestartCount    int
	LastRestart     time.Time
	RunID           string
	ObservedPID     int  // PID found by the last OS query, 0 if none
	Approximate     bool // BelievedRunning came from an OS query, not the handle
	BudgetExhausted bool
	State           State
	RecentOutput    []string
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		SourceURL:       s.sourceURL,
		DeviceID:        s.deviceID,
		BelievedRunning: s.believedRunning,
		LastOutputLine:  s.lastOutputLine,
		LastActivity:    s.lastActivity,
		RestartCount:    s.restartCount,
		LastRestart:     s.lastRestart,
		RunID:           s.runID,
		ObservedPID:     s.observedPID,
		Approximate:     s.approximate,
		BudgetExhausted: s.budgetExhausted,
		State:           s.state,
		RecentOutput:    s.history.Last(recentOutputLines),
	}
	if s.run != nil {
		snap.PID = s.run.proc.PID()
		snap.ProcessAlive = !s.run.proc.Exited()
	}
	return snap
}
