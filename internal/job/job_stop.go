package job

import (
	"context"
	"fmt"
	"net/http"
)

// Stop transitions any non-terminal status to "stopping" and runs the
// fixed shutdown sequence described in spec.md §4.3: an upload-marker
// status frame, a terminal status frame, then set_done. It is idempotent:
// calling it while already stopping or stopped is a no-op. Stop does not
// block for the shutdown sequence to complete; subscribe to
// EventStatusChanged to observe "stopped".
func (j *Job) Stop(reason string) {
	j.postAsync(func() { j.doStop(reason) })
}

func (j *Job) doStop(reason string) {
	if j.status == StatusStopping || j.status == StatusStopped {
		return
	}

	if j.handle != nil && j.handle.IsRunning() {
		_ = j.handle.Stop()
	}
	j.stopLivelogTicker()

	j.setStatus(StatusStopping)
	j.beginStopSequence()
}

func (j *Job) beginStopSequence() {
	if j.livelogViewers > 0 {
		j.postUploadProgress(j.postUploadMarker)
		return
	}
	j.postUploadMarker()
}

// postUploadProgress POSTs the liveviewhandler upload_progress snapshot.
// Per spec.md §9's resolved open question, this is observed to happen
// before the upload-marker status frame when livelog is active.
func (j *Job) postUploadProgress(next func()) {
	path := fmt.Sprintf("liveviewhandler/api/v1/jobs/%d/upload_progress", j.jobID())
	body := map[string]any{
		"outstanding_files":           j.uploadProgress.OutstandingFiles,
		"outstanding_images":          j.uploadProgress.OutstandingImages,
		"upload_up_to":                j.uploadProgress.UploadUpTo,
		"upload_up_to_current_module": j.uploadProgress.UploadUpToCurrentModule,
	}
	j.client.Send(context.Background(), http.MethodPost, path, body, func(error) {
		j.postAsync(next)
	})
}

// postUploadMarker POSTs the {uploading:1, worker_id} frame on entering "stopping".
func (j *Job) postUploadMarker() {
	path := fmt.Sprintf("jobs/%d/status", j.jobID())
	body := map[string]any{"status": map[string]any{
		"uploading": 1,
		"worker_id": j.workerID,
	}}
	j.client.Send(context.Background(), http.MethodPost, path, body, func(error) {
		j.postAsync(j.postTerminalStatus)
	})
}

// postTerminalStatus POSTs the final status snapshot, including the
// result gathered from setup_error / engine exit and the test order read
// from the pool directory.
func (j *Job) postTerminalStatus() {
	testOrder, _ := j.pool.ReadTestOrder()
	j.testOrder = testOrder

	path := fmt.Sprintf("jobs/%d/status", j.jobID())
	body := map[string]any{"status": map[string]any{
		"backend":               j.backend(),
		"cmd_srv_url":           j.cmdSrvURL(),
		"result":                j.buildResult(),
		"test_execution_paused": 0,
		"test_order":            testOrderPayload(testOrder),
		"worker_hostname":       j.hostname,
		"worker_id":             j.workerID,
	}}
	j.client.Send(context.Background(), http.MethodPost, path, body, func(error) {
		j.postAsync(j.postSetDone)
	})
}

// postSetDone POSTs the final set_done call, the last message for any
// job that reaches "stopped" (spec.md's invariant 5).
func (j *Job) postSetDone() {
	path := fmt.Sprintf("jobs/%d/set_done", j.jobID())
	j.client.Send(context.Background(), http.MethodPost, path, nil, func(error) {
		j.postAsync(j.finishStop)
	})
}

func (j *Job) finishStop() {
	j.setStatus(StatusStopped)
	close(j.stopCh)
}

func (j *Job) buildResult() map[string]any {
	switch {
	case j.setupError != nil:
		return map[string]any{"setup_error": *j.setupError}
	case j.exitStatus != nil:
		return map[string]any{"exit_status": *j.exitStatus}
	case j.exitSignal != nil:
		return map[string]any{"signal": *j.exitSignal}
	default:
		return map[string]any{}
	}
}

func testOrderPayload(modules []TestModule) []map[string]any {
	payload := make([]map[string]any, 0, len(modules))
	for _, m := range modules {
		payload = append(payload, map[string]any{
			"name":     m.Name,
			"category": m.Category,
			"flags":    m.Flags,
		})
	}
	return payload
}
