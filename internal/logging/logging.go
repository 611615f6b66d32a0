// Package logging wires up the worker's charmbracelet/log logger and
// provides per-job sub-loggers, so every line a Job emits is tagged with
// the instance and job it came from.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// New builds the root logger for a worker instance. debug raises the
// level to include Debug-severity lines.
func New(instance int, debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
	logger = logger.With("instance", instance)
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// ForJob returns a sub-logger tagged with the job's ID, so its lines are
// distinguishable in a worker instance that runs jobs one after another.
func ForJob(base *log.Logger, jobID int64) *log.Logger {
	return base.With("job", jobID)
}
