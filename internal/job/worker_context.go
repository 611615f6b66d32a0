package job

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/testexec/jobworker/internal/logging"
)

// WorkerContext is the parent container for a single worker instance: its
// instance number, its collaborators (client, engine, pool directory,
// logger), and the most recently created job, if any. It allows at most
// one active job per worker instance at a time.
type WorkerContext struct {
	Instance int
	Client   Client
	Engine   Engine
	Pool     Pool
	Logger   *log.Logger

	mu         sync.Mutex
	currentJob *Job
}

// NewWorkerContext constructs a WorkerContext. Logger may be nil, in
// which case the charmbracelet default logger is used.
func NewWorkerContext(instance int, client Client, engine Engine, pool Pool, logger *log.Logger) *WorkerContext {
	if logger == nil {
		logger = log.Default()
	}
	return &WorkerContext{
		Instance: instance,
		Client:   client,
		Engine:   engine,
		Pool:     pool,
		Logger:   logger,
	}
}

// CreateJob creates a new Job bound to this context's collaborators. It
// fails if a job that has not yet stopped exists on this instance
// (running more than one job per worker instance is a non-goal; there is
// no queueing).
func (w *WorkerContext) CreateJob(id *int64, info map[string]any) (*Job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentJob != nil && w.currentJob.Status() != StatusStopped {
		return nil, fmt.Errorf("worker instance %d already has an active job", w.Instance)
	}

	jobLogger := w.Logger
	if id != nil {
		jobLogger = logging.ForJob(w.Logger, *id)
	}

	j := New(Config{
		ID:       id,
		Info:     info,
		Client:   w.Client,
		Engine:   w.Engine,
		Pool:     w.Pool,
		Logger:   jobLogger,
		WorkerID: fmt.Sprintf("%d", w.Instance),
	})
	w.currentJob = j
	return j, nil
}

// CurrentJob returns the job currently owned by this worker instance, or
// nil if none has been created yet.
func (w *WorkerContext) CurrentJob() *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentJob
}
