package job

// BeginUpload records that one more artifact upload is in flight,
// setting IsUploadingResults true (spec.md invariant 2).
func (j *Job) BeginUpload() {
	j.postAsync(func() {
		j.uploadsOutstanding++
		j.isUploadingResults = true
		j.uploadProgress.OutstandingFiles = j.uploadsOutstanding
	})
}

// NotifyUploadsDrained signals that outstanding artifact uploads have
// reached zero, regardless of how many BeginUpload/FinishUpload pairs
// preceded it. It exists for callers (and tests) that observe upload
// completion through a channel other than this bookkeeping pair — the
// real artifact-upload transport is an external collaborator outside
// this module's scope.
func (j *Job) NotifyUploadsDrained() {
	j.postAsync(func() {
		j.uploadsOutstanding = 0
		j.isUploadingResults = false
		j.bus.Emit(EventUploadingResultsConcluded, nil)
	})
}

// FinishUpload records that one artifact upload completed. Once the
// outstanding count reaches zero, IsUploadingResults becomes false and
// EventUploadingResultsConcluded fires — which the job itself has
// subscribed to in order to call Stop("done") on the success path
// (spec.md §4.3).
func (j *Job) FinishUpload() {
	j.postAsync(func() {
		if j.uploadsOutstanding > 0 {
			j.uploadsOutstanding--
		}
		j.uploadProgress.OutstandingFiles = j.uploadsOutstanding
		if j.uploadsOutstanding == 0 && j.isUploadingResults {
			j.isUploadingResults = false
			j.bus.Emit(EventUploadingResultsConcluded, nil)
		}
	})
}
