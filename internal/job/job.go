// Package job implements the worker's per-job state machine: the single
// hard part of the system. A Job owns its status, timers, event
// subscribers, livelog counter, upload bookkeeping and setup error, and
// coordinates the WebSocket control channel, the REST status/upload
// channel, the test-runner subprocess and the pool directory.
//
// All mutation happens on a single goroutine per Job — the "actor" — so
// the many asynchronous event sources described by the spec (WebSocket
// close, subprocess exit, REST callback, livelog request) never race
// each other. External callers see a synchronous-looking API; under the
// hood every call is a closure posted to the actor's mailbox.
package job

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/testexec/jobworker/internal/eventbus"
)

// EventStatusChanged is emitted after Job.status has been updated, so
// subscribers observe the new value. Its data is map[string]any{"status": Status}.
const EventStatusChanged = "status_changed"

// EventUploadingResultsConcluded is emitted once outstanding artifact
// uploads drain to zero.
const EventUploadingResultsConcluded = "uploading_results_concluded"

// Job is the central entity of the worker: the per-job state machine.
type Job struct {
	id   *int64
	info map[string]any

	status     Status
	setupError *string

	isUploadingResults      bool
	uploadsOutstanding      int
	livelogViewers          int
	developerSessionRunning bool
	uploadProgress          UploadProgress

	testOrder  []TestModule
	exitStatus *int
	exitSignal *string

	client Client
	engine Engine
	pool   Pool
	bus    *eventbus.Bus
	logger *log.Logger

	workerID string
	hostname string

	handle Handle

	livelogTicker *time.Ticker
	livelogDone   chan struct{}

	actions chan func()
	stopCh  chan struct{}
}

// Config bundles the collaborators a Job needs.
type Config struct {
	ID       *int64
	Info     map[string]any
	Client   Client
	Engine   Engine
	Pool     Pool
	Logger   *log.Logger
	WorkerID string
}

// New constructs a Job in status "new" and starts its actor goroutine.
// Info must include "URL" before Start is called against a real engine
// adapter; it is otherwise opaque to the Job.
func New(cfg Config) *Job {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	hostname, _ := os.Hostname()

	j := &Job{
		id:       cfg.ID,
		info:     cfg.Info,
		status:   StatusNew,
		client:   cfg.Client,
		engine:   cfg.Engine,
		pool:     cfg.Pool,
		bus:      eventbus.New(),
		logger:   logger,
		workerID: cfg.WorkerID,
		hostname: hostname,
		actions:  make(chan func(), 64),
		stopCh:   make(chan struct{}),
	}

	// Wire the success path described in spec.md §4.3: once uploads
	// drain, the job itself stops cleanly.
	j.bus.On(EventUploadingResultsConcluded, func(any) { j.Stop("done") })

	go j.run()
	go j.watchFinish()

	return j
}

// Subscribe registers handler for name (status_changed,
// uploading_results_concluded) and returns a token for Unsubscribe.
// Registration itself is funneled through the actor so it never races
// Emit, which only ever runs on the actor goroutine.
func (j *Job) Subscribe(name string, handler eventbus.Handler) eventbus.Token {
	result := make(chan eventbus.Token, 1)
	j.postAsync(func() { result <- j.bus.On(name, handler) })
	select {
	case tok := <-result:
		return tok
	case <-j.stopCh:
		return ""
	}
}

// Unsubscribe removes a subscription registered with Subscribe.
func (j *Job) Unsubscribe(name string, tok eventbus.Token) {
	j.postAsync(func() { j.bus.Unsubscribe(name, tok) })
}

// Status returns the job's current status. Safe to call from any
// goroutine; reflects the most recently committed transition.
func (j *Job) Status() Status {
	result := make(chan Status, 1)
	j.postAsync(func() { result <- j.status })
	select {
	case s := <-result:
		return s
	case <-j.stopCh:
		return j.statusUnsafe()
	}
}

// statusUnsafe is used only after the actor has shut down, when no
// further mutation can occur.
func (j *Job) statusUnsafe() Status { return j.status }

// SetupError returns the recorded setup failure message, if any.
func (j *Job) SetupError() *string {
	return j.snapshotString(func() *string { return j.setupError })
}

// IsUploadingResults reports whether an artifact upload is in flight.
func (j *Job) IsUploadingResults() bool {
	return j.snapshotBool(func() bool { return j.isUploadingResults })
}

// LivelogViewers returns the current livelog reference count.
func (j *Job) LivelogViewers() int {
	return j.snapshotInt(func() int { return j.livelogViewers })
}

// DeveloperSessionRunning reports the developer-session flag.
func (j *Job) DeveloperSessionRunning() bool {
	return j.snapshotBool(func() bool { return j.developerSessionRunning })
}

// SetDeveloperSessionRunning records whether an interactive debugging
// session is attached.
func (j *Job) SetDeveloperSessionRunning(running bool) {
	j.postAsync(func() { j.developerSessionRunning = running })
}

func (j *Job) snapshotBool(read func() bool) bool {
	result := make(chan bool, 1)
	j.postAsync(func() { result <- read() })
	select {
	case v := <-result:
		return v
	case <-j.stopCh:
		return read()
	}
}

func (j *Job) snapshotInt(read func() int) int {
	result := make(chan int, 1)
	j.postAsync(func() { result <- read() })
	select {
	case v := <-result:
		return v
	case <-j.stopCh:
		return read()
	}
}

func (j *Job) snapshotString(read func() *string) *string {
	result := make(chan *string, 1)
	j.postAsync(func() { result <- read() })
	select {
	case v := <-result:
		return v
	case <-j.stopCh:
		return read()
	}
}

func (j *Job) run() {
	for {
		select {
		case fn := <-j.actions:
			fn()
		case <-j.stopCh:
			return
		}
	}
}

// callSync posts fn to the actor and blocks for its result. Only safe to
// call from outside the actor goroutine (i.e. from ordinary callers, not
// from within another action closure).
func (j *Job) callSync(fn func() error) error {
	result := make(chan error, 1)
	select {
	case j.actions <- func() { result <- fn() }:
	case <-j.stopCh:
		return fmt.Errorf("job: actor has stopped")
	}
	select {
	case err := <-result:
		return err
	case <-j.stopCh:
		return fmt.Errorf("job: actor stopped before completing %T", fn)
	}
}

// postAsync posts fn to the actor without waiting. Safe to call both
// from outside the actor and reentrantly from within an action closure,
// as long as the mailbox has spare buffer capacity (it does: actions
// chain one at a time, so at most one extra closure is ever in flight
// per external event source).
func (j *Job) postAsync(fn func()) {
	select {
	case j.actions <- fn:
	case <-j.stopCh:
	}
}

func (j *Job) setStatus(s Status) {
	j.status = s
	j.bus.Emit(EventStatusChanged, map[string]any{"status": s})
}

func (j *Job) jobID() int64 {
	if j.id == nil {
		return 0
	}
	return *j.id
}

// watchFinish forwards the Client's websocket-closed signal onto the
// actor's mailbox exactly once.
func (j *Job) watchFinish() {
	select {
	case <-j.client.Finish():
		j.postAsync(j.handleWSFinish)
	case <-j.stopCh:
	}
}

// handleWSFinish implements spec.md §4.3's two WebSocket-close rules:
// fatal (abandon) while accepting, otherwise ignored.
func (j *Job) handleWSFinish() {
	if j.status == StatusAccepting {
		j.setStatus(StatusStopped)
		close(j.stopCh)
	}
	// accepted or later: non-fatal, status unchanged.
}

// Accept is only valid from status "new". It transitions to "accepting",
// pushes the {jobid, type: "accepted"} frame on the status WebSocket, and
// on a successful send transitions to "accepted". The WebSocket push and
// the follow-up transition happen asynchronously (spec.md §4.3), so
// Accept itself only reports the immediate InvalidStateError case.
func (j *Job) Accept() error {
	return j.callSync(func() error {
		if j.status != StatusNew {
			return &InvalidStateError{Op: "accept", Current: j.status, Reason: "attempt to accept job which is not new"}
		}
		j.setStatus(StatusAccepting)

		payload := map[string]any{"jobid": j.jobID(), "type": "accepted"}
		go func() {
			err := j.client.SendStatus(payload)
			j.postAsync(func() { j.onAcceptAck(err) })
		}()
		return nil
	})
}

func (j *Job) onAcceptAck(err error) {
	if j.status != StatusAccepting {
		// Already moved on (e.g. abandoned by a WebSocket close); ignore.
		return
	}
	if err != nil {
		// TransportError pushing the ack: remain in accepting. The web
		// UI never saw the acknowledgement, so no further progress is
		// made; a fresh Accept is not supported (single-use job).
		return
	}
	j.setStatus(StatusAccepted)
}

// Start requires status "accepted" and a non-nil ID. It starts the
// test-runner subprocess via Engine.Workit. On failure it records
// SetupError and begins the stop sequence; on success it transitions to
// "running".
func (j *Job) Start() error {
	return j.callSync(func() error {
		if j.id == nil {
			return &MissingIDError{}
		}
		if j.status != StatusAccepted {
			return &InvalidStateError{Op: "start", Current: j.status, Reason: "attempt to start job which is not accepted"}
		}

		j.setStatus(StatusSetup)

		if err := j.pool.Prepare(); err != nil {
			j.recordSetupErrorAndStop(err.Error())
			return nil
		}

		req := EngineRequest{ID: *j.id, Info: j.info}
		go func() {
			handle, err := j.engine.Workit(context.Background(), req)
			j.postAsync(func() { j.onEngineResult(handle, err) })
		}()
		return nil
	})
}

func (j *Job) onEngineResult(handle Handle, err error) {
	if j.status != StatusSetup {
		return
	}
	if err != nil {
		j.logger.Infof("Unable to setup job %d: %s", j.jobID(), err)
		j.recordSetupErrorAndStop(err.Error())
		return
	}

	j.handle = handle
	j.setStatus(StatusRunning)
	j.logger.Info("isotovideo has been started")
	j.sendRunningFrame()
	go j.watchEngineExit(handle)
}

func (j *Job) recordSetupErrorAndStop(message string) {
	j.setupError = &message
	j.doStop("setup-error")
}

func (j *Job) watchEngineExit(handle Handle) {
	select {
	case res, ok := <-handle.Wait():
		if !ok {
			return
		}
		j.postAsync(func() { j.onEngineExit(res) })
	case <-j.stopCh:
	}
}

func (j *Job) onEngineExit(res ExitResult) {
	if j.status != StatusRunning {
		return
	}
	j.exitStatus = res.ExitStatus
	j.exitSignal = res.Signal
	j.doStop("died")
}

// sendRunningFrame POSTs the running status frame described in spec.md
// §6.1: {cmd_srv_url, test_execution_paused:0, worker_hostname, worker_id},
// plus the livelog fields when livelog is active.
func (j *Job) sendRunningFrame() {
	statusBody := map[string]any{
		"cmd_srv_url":           j.cmdSrvURL(),
		"test_execution_paused": 0,
		"worker_hostname":       j.hostname,
		"worker_id":             j.workerID,
	}
	if j.livelogViewers > 0 {
		statusBody["log"] = map[string]any{}
		statusBody["serial_log"] = map[string]any{}
		statusBody["serial_terminal"] = map[string]any{}
	}
	body := map[string]any{"status": statusBody}
	path := fmt.Sprintf("jobs/%d/status", j.jobID())
	j.client.Send(context.Background(), http.MethodPost, path, body, func(error) {})
}

func (j *Job) cmdSrvURL() string {
	if url, ok := j.info["URL"].(string); ok {
		return url
	}
	return ""
}

func (j *Job) backend() string {
	if backend, ok := j.info["backend"].(string); ok && backend != "" {
		return backend
	}
	return "qemu"
}
