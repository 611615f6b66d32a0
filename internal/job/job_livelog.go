package job

import "time"

// livelogInterval is how often an enriched status frame is pushed while
// livelog is active.
const livelogInterval = 10 * time.Second

// StartLivelog increments the livelog viewer count. Only valid while
// status is "setup" or "running". On a 0→1 transition it logs
// "Starting livelog" and begins periodic enriched status frames.
func (j *Job) StartLivelog() error {
	return j.callSync(func() error {
		if !j.livelogAllowed() {
			return &InvalidStateError{Op: "start_livelog", Current: j.status, Reason: "livelog only valid during setup or running"}
		}
		j.livelogViewers++
		if j.livelogViewers == 1 {
			j.logger.Info("Starting livelog")
			j.startLivelogTicker()
		}
		return nil
	})
}

// StopLivelog decrements the livelog viewer count. Only valid while
// status is "setup" or "running". Decrementing below zero is a
// programmer error, reported as InvalidStateError. On a 1→0 transition
// it logs "Stopping livelog" and drops the enriched fields.
func (j *Job) StopLivelog() error {
	return j.callSync(func() error {
		if !j.livelogAllowed() {
			return &InvalidStateError{Op: "stop_livelog", Current: j.status, Reason: "livelog only valid during setup or running"}
		}
		if j.livelogViewers == 0 {
			return &InvalidStateError{Op: "stop_livelog", Current: j.status, Reason: "livelog_viewers is already zero"}
		}
		j.livelogViewers--
		if j.livelogViewers == 0 {
			j.logger.Info("Stopping livelog")
			j.stopLivelogTicker()
		}
		return nil
	})
}

func (j *Job) livelogAllowed() bool {
	return j.status == StatusSetup || j.status == StatusRunning
}

func (j *Job) startLivelogTicker() {
	if j.livelogTicker != nil {
		return
	}
	j.livelogTicker = time.NewTicker(livelogInterval)
	j.livelogDone = make(chan struct{})

	ticker := j.livelogTicker
	done := j.livelogDone
	go func() {
		for {
			select {
			case <-ticker.C:
				j.postAsync(j.sendRunningFrame)
			case <-done:
				return
			case <-j.stopCh:
				return
			}
		}
	}()
}

func (j *Job) stopLivelogTicker() {
	if j.livelogTicker == nil {
		return
	}
	j.livelogTicker.Stop()
	close(j.livelogDone)
	j.livelogTicker = nil
	j.livelogDone = nil
}
