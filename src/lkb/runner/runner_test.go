package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_UsesExplicitDir(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	before, _ := os.Getwd()

	res, err := New().Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "pwd"}, Dir: dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}

	after, _ := os.Getwd()
	if before != after {
		t.Errorf("process working directory changed from %q to %q", before, after)
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireShell(t)
	res, err := New().Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for non-zero exit", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stderr != "boom" {
		t.Errorf("Stderr = %q, want boom", res.Stderr)
	}
	if res.Success() {
		t.Error("Success() should be false")
	}
}

func TestExecRunner_StreamsAndEnv(t *testing.T) {
	requireShell(t)
	var stream bytes.Buffer
	res, err := New(WithoutCapture()).Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo $LKB_TEST_VALUE"},
		Env:    map[string]string{"LKB_TEST_VALUE": "hello"},
		Stdout: &stream,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(stream.String()) != "hello" {
		t.Errorf("streamed = %q, want hello", stream.String())
	}
	if res.Stdout != "" {
		t.Errorf("captured stdout = %q, want empty without capture", res.Stdout)
	}
}

func TestExecRunner_MissingProgram(t *testing.T) {
	_, err := New().Run(context.Background(), Command{Name: "lkb-definitely-missing-program"})
	if err == nil {
		t.Fatal("expected error for missing program")
	}
}

func TestExecRunner_EmptyCommand(t *testing.T) {
	if _, err := New().Run(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestFake_RecordsAndDispatches(t *testing.T) {
	f := NewFake().ExitWith("make", 2, "")
	res, err := f.Run(context.Background(), Command{Name: "make", Args: []string{"-j4"}, Dir: "/src"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
	if !f.Called("make -j4") {
		t.Error("expected make -j4 to be recorded")
	}
	if calls := f.Calls(); len(calls) != 1 || calls[0].Dir != "/src" {
		t.Errorf("unexpected calls %+v", calls)
	}
}
