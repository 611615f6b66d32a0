// Package runner adapts the worker's Engine/Handle interfaces onto a real
// isotovideo subprocess: spawning it, tracking whether it is still alive,
// and forwarding its exit status back to the owning Job.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/testexec/jobworker/internal/job"
)

// Engine spawns isotovideo as a child process for each job it is asked to
// Workit. One Engine is shared across the worker instance's lifetime;
// each Workit call owns its own subprocess.
type Engine struct {
	// Command is the isotovideo binary path, e.g. "/usr/bin/isotovideo".
	Command string
	// Args are passed to Command verbatim; isotovideo itself takes none,
	// but tests use this to exercise the subprocess lifecycle without it.
	Args []string
	// WorkDir is the pool directory the subprocess is run from; its
	// stdout/stderr are appended to autoinst-log.txt there.
	WorkDir string
	Logger  *log.Logger
}

// New constructs an Engine. logger may be nil.
func New(command, workDir string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{Command: command, WorkDir: workDir, Logger: logger}
}

// Workit starts isotovideo with the job's settings passed as CASEDIR-style
// environment variables derived from req.Info. A non-nil error here means
// no subprocess was started, which the Job surfaces as a setup error.
func (e *Engine) Workit(ctx context.Context, req job.EngineRequest) (job.Handle, error) {
	logPath := e.WorkDir + string(os.PathSeparator) + "autoinst-log.txt"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runner: open %s: %w", logPath, err)
	}

	cmd := exec.Command(e.Command, e.Args...)
	cmd.Dir = e.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), infoToEnv(req.Info)...)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("runner: start isotovideo: %w", err)
	}

	h := &handle{cmd: cmd, logFile: logFile, running: true, waitCh: make(chan job.ExitResult, 1)}
	go h.wait(e.Logger, req.ID)
	return h, nil
}

func infoToEnv(info map[string]any) []string {
	env := make([]string, 0, len(info))
	for k, v := range info {
		env = append(env, fmt.Sprintf("%s=%v", k, v))
	}
	return env
}

// handle wraps a running isotovideo subprocess.
type handle struct {
	cmd     *exec.Cmd
	logFile *os.File

	mu      sync.Mutex
	running bool

	waitCh chan job.ExitResult
}

func (h *handle) PID() int { return h.cmd.Process.Pid }

func (h *handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Stop sends SIGTERM; the caller is expected to rely on Wait() for actual
// termination rather than assume this call is synchronous.
func (h *handle) Stop() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *handle) Wait() <-chan job.ExitResult { return h.waitCh }

func (h *handle) wait(logger *log.Logger, jobID int64) {
	err := h.cmd.Wait()
	h.logFile.Close()

	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	res := job.ExitResult{}
	if err == nil {
		status := 0
		res.ExitStatus = &status
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				sig := ws.Signal().String()
				res.Signal = &sig
			} else {
				status := ws.ExitStatus()
				res.ExitStatus = &status
			}
		} else {
			status := exitErr.ExitCode()
			res.ExitStatus = &status
		}
	} else {
		logger.Errorf("isotovideo for job %d: %s", jobID, err)
		status := -1
		res.ExitStatus = &status
	}

	h.waitCh <- res
	close(h.waitCh)
}
