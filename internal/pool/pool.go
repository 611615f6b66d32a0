// Package pool manages the per-worker-instance scratch directory: logs
// (autoinst-log.txt, worker-log.txt) and the testresults/ tree populated
// by the test-runner subprocess.
package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	autoinstLogName  = "autoinst-log.txt"
	workerLogName    = "worker-log.txt"
	testResultsDir   = "testresults"
	testOrderJSONRel = "test_order.json"
)

// TestModule mirrors a single entry of testresults/test_order.json.
type TestModule struct {
	Name     string          `json:"name"`
	Category string          `json:"category,omitempty"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

// Directory is a scoped working directory for a single worker instance.
type Directory struct {
	// Root is the pool directory's filesystem root.
	Root string
}

// New returns a Directory rooted at root. The directory is not created or
// touched until Prepare is called.
func New(root string) *Directory {
	return &Directory{Root: root}
}

// AutoinstLogPath returns the path of the runner's own log file.
func (d *Directory) AutoinstLogPath() string {
	return filepath.Join(d.Root, autoinstLogName)
}

// WorkerLogPath returns the path of this worker's log file for the job.
func (d *Directory) WorkerLogPath() string {
	return filepath.Join(d.Root, workerLogName)
}

// TestResultsDir returns the directory the runner populates with results.
func (d *Directory) TestResultsDir() string {
	return filepath.Join(d.Root, testResultsDir)
}

// Prepare removes stale artifacts from a previous run and creates a fresh
// worker-log.txt. testresults/ is left untouched so the runner can
// populate it. Guarantees: after Prepare returns nil, autoinst-log.txt
// does not exist and worker-log.txt exists.
func (d *Directory) Prepare() error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("pool: create root %s: %w", d.Root, err)
	}

	if err := os.Remove(d.AutoinstLogPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pool: remove stale %s: %w", autoinstLogName, err)
	}

	f, err := os.Create(d.WorkerLogPath())
	if err != nil {
		return fmt.Errorf("pool: create %s: %w", workerLogName, err)
	}
	return f.Close()
}

// ReadTestOrder decodes testresults/test_order.json. It returns a nil
// slice (marshaled as [] on the wire) when the file is absent, per the
// job's stop-time contract.
func (d *Directory) ReadTestOrder() ([]TestModule, error) {
	path := filepath.Join(d.TestResultsDir(), testOrderJSONRel)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pool: read %s: %w", path, err)
	}

	var modules []TestModule
	if err := json.Unmarshal(raw, &modules); err != nil {
		return nil, fmt.Errorf("pool: decode %s: %w", path, err)
	}
	return modules, nil
}
