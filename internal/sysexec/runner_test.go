package sysexec

import (
	"context"
	"strings"
	"testing"
)

func TestExecRunnerStdout(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "echo", "card 0: PCH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "card 0: PCH" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestExecRunnerExitError(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo no soundcards >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
	if !strings.Contains(err.Error(), "no soundcards") {
		t.Errorf("expected stderr in error, got %q", err.Error())
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "loopmic-definitely-not-installed")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if code := ExitCode(err); code != -1 {
		t.Errorf("expected -1 for a command that never ran, got %d", code)
	}
}
