package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testexec/jobworker/internal/job"
)

func TestWorkitStartsSubprocessAndReportsExit(t *testing.T) {
	dir := t.TempDir()
	e := New("/bin/true", dir, nil)

	h, err := e.Workit(context.Background(), job.EngineRequest{ID: 1})
	if err != nil {
		t.Fatalf("Workit: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("PID() = %d, want positive", h.PID())
	}

	select {
	case res := <-h.Wait():
		if res.ExitStatus == nil || *res.ExitStatus != 0 {
			t.Fatalf("ExitResult = %+v, want ExitStatus 0", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subprocess exit")
	}

	if h.IsRunning() {
		t.Fatal("IsRunning() = true after exit")
	}
}

func TestWorkitMissingBinaryReturnsError(t *testing.T) {
	dir := t.TempDir()
	e := New(filepath.Join(dir, "does-not-exist"), dir, nil)

	if _, err := e.Workit(context.Background(), job.EngineRequest{ID: 1}); err == nil {
		t.Fatal("Workit with missing binary: want error, got nil")
	}
}

func TestWorkitWritesAutoinstLog(t *testing.T) {
	dir := t.TempDir()
	e := New("/bin/echo", dir, nil)

	h, err := e.Workit(context.Background(), job.EngineRequest{ID: 1})
	if err != nil {
		t.Fatalf("Workit: %v", err)
	}
	<-h.Wait()

	if _, err := os.Stat(filepath.Join(dir, "autoinst-log.txt")); err != nil {
		t.Fatalf("autoinst-log.txt: %v", err)
	}
}

func TestStopSendsSignalToRunningProcess(t *testing.T) {
	dir := t.TempDir()
	e := New("/bin/sleep", dir, nil)
	e.Args = []string{"30"}

	h, err := e.Workit(context.Background(), job.EngineRequest{ID: 1})
	if err != nil {
		t.Fatalf("Workit: %v", err)
	}
	if !h.IsRunning() {
		t.Fatal("IsRunning() = false immediately after start")
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case res := <-h.Wait():
		if res.Signal == nil {
			t.Fatalf("ExitResult = %+v, want a Signal", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subprocess to stop")
	}
}
