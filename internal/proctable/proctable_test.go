package proctable

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/loopmic/internal/sysexec"
)

func startMarked(t *testing.T, marker string) *exec.Cmd {
	t.Helper()
	script := fmt.Sprintf(`trap "exit 0" TERM; while :; do sleep 0.1; done # %s`, marker)
	cmd := exec.Command("sh", "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start marked process: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	return cmd
}

func TestNativeFindAndKill(t *testing.T) {
	marker := fmt.Sprintf("loopmic-proctable-%d", time.Now().UnixNano())
	cmd := startMarked(t, marker)

	table := NewNative()
	ctx := context.Background()

	pids, err := table.Find(ctx, "sleep.*"+marker)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(pids) != 1 || pids[0] != cmd.Process.Pid {
		t.Fatalf("expected [%d], got %v", cmd.Process.Pid, pids)
	}

	killed, err := table.Kill(ctx, marker)
	if err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	if killed != 1 {
		t.Errorf("expected 1 process signalled, got %d", killed)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("marked process did not exit after SIGTERM")
	}
}

func TestNativeFindNoMatch(t *testing.T) {
	pids, err := NewNative().Find(context.Background(), "loopmic-nothing-runs-with-this-name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("expected no matches, got %v", pids)
	}
}

func TestNativeInvalidPattern(t *testing.T) {
	if _, err := NewNative().Find(context.Background(), "ffmpeg.*(["); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

// A relay pattern built from a source URL also matches unrelated programs
// whose command line mentions the same URL. This is accepted behavior.
func TestPatternMatchesUnrelatedCommandLine(t *testing.T) {
	re, err := compile("ffmpeg.*rtsp://cam/stream")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		cmdline string
		want    bool
	}{
		{"ffmpeg -i rtsp://cam/stream -f alsa -y hw:4,0,0", true},
		{"tail -f /var/log/ffmpeg-rtsp://cam/stream.log", true},
		{"vlc rtsp://cam/stream", false},
	}
	for _, tt := range tests {
		if got := re.MatchString(tt.cmdline); got != tt.want {
			t.Errorf("match(%q) = %v, want %v", tt.cmdline, got, tt.want)
		}
	}
}

type fakeRunner struct {
	calls [][]string
	out   map[string]string
	codes map[string]int
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if code, ok := f.codes[name]; ok && code != 0 {
		return nil, &sysexec.ExitError{Command: name, ExitCode: code}
	}
	return []byte(f.out[name]), nil
}

func TestPgrepFind(t *testing.T) {
	r := &fakeRunner{out: map[string]string{"pgrep": "123\n456\n"}}
	pids, err := NewPgrep(r).Find(context.Background(), "ffmpeg.*rtsp://cam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pids) != 2 || pids[0] != 123 || pids[1] != 456 {
		t.Errorf("expected [123 456], got %v", pids)
	}
	if got := strings.Join(r.calls[0], " "); got != "pgrep -f ffmpeg.*rtsp://cam" {
		t.Errorf("unexpected invocation %q", got)
	}
}

func TestPgrepNoMatchIsNotAnError(t *testing.T) {
	r := &fakeRunner{codes: map[string]int{"pgrep": 1}}
	pids, err := NewPgrep(r).Find(context.Background(), "ffmpeg")
	if err != nil {
		t.Fatalf("exit 1 should mean no match, got %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("expected no pids, got %v", pids)
	}
}

func TestPgrepFailure(t *testing.T) {
	r := &fakeRunner{codes: map[string]int{"pgrep": 2}}
	if _, err := NewPgrep(r).Find(context.Background(), "ffmpeg"); err == nil {
		t.Error("expected error for pgrep syntax failure")
	}
}

func TestPgrepKill(t *testing.T) {
	r := &fakeRunner{out: map[string]string{"pgrep": "77\n"}}
	killed, err := NewPgrep(r).Kill(context.Background(), "ffmpeg.*hw:4,0,0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if killed != 1 {
		t.Errorf("expected 1 killed, got %d", killed)
	}
	if len(r.calls) != 2 || r.calls[1][0] != "pkill" {
		t.Errorf("expected pgrep then pkill, got %v", r.calls)
	}
}
