package job

import (
	"context"

	"github.com/testexec/jobworker/internal/pool"
)

// Status is one of the seven legal states a Job passes through. Only the
// Job's own methods and event handlers (Accept, Start, Stop, the
// WebSocket-close, engine-result and engine-exit handlers) change it.
type Status string

const (
	StatusNew       Status = "new"
	StatusAccepting Status = "accepting"
	StatusAccepted  Status = "accepted"
	StatusSetup     Status = "setup"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
)

// TestModule mirrors one entry of testresults/test_order.json. It is an
// alias of pool.TestModule so that *pool.Directory satisfies Pool below
// without an adapter.
type TestModule = pool.TestModule

// UploadProgress tracks the outstanding-artifact counters reported to
// the liveviewhandler while livelog is active.
type UploadProgress struct {
	OutstandingFiles        int
	OutstandingImages       int
	UploadUpTo              string
	UploadUpToCurrentModule string
}

// EngineRequest is the information the engine adapter needs to start the
// test-runner subprocess for a job.
type EngineRequest struct {
	ID   int64
	Info map[string]any
}

// ExitResult describes how the test-runner subprocess terminated.
type ExitResult struct {
	ExitStatus *int
	Signal     *string
}

// Handle is a running test-runner subprocess, as returned by Engine.Workit.
type Handle interface {
	PID() int
	IsRunning() bool
	Stop() error
	// Wait returns a channel that receives exactly one ExitResult when
	// the subprocess exits, then is closed.
	Wait() <-chan ExitResult
}

// Engine starts the test-runner subprocess for a job. On failure it
// returns a non-nil error and no Handle; no subprocess was started. On
// success it returns a running Handle.
type Engine interface {
	Workit(ctx context.Context, req EngineRequest) (Handle, error)
}

// Pool is the subset of the pool directory the job lifecycle depends on.
type Pool interface {
	Prepare() error
	ReadTestOrder() ([]TestModule, error)
	WorkerLogPath() string
	AutoinstLogPath() string
}

// Client is the worker's outbound channel to the web UI.
type Client interface {
	// Send enqueues a REST call; callback fires once it completes, in
	// FIFO order relative to other Send calls on the same Client.
	Send(ctx context.Context, method, path string, body any, callback func(error))
	// SendStatus pushes a single JSON frame over the status WebSocket.
	SendStatus(payload any) error
	// Finish is closed when the status WebSocket's control connection closes.
	Finish() <-chan struct{}
}
