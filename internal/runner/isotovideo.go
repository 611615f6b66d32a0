package runner

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
)

// Snapshot is the isotovideo process's own idea of test progress, as
// reported by its status endpoint.
type Snapshot struct {
	CurrentModule string `json:"current_module"`
	Running       string `json:"running"`
}

// IsotovideoClient polls the isotovideo subprocess's status endpoint,
// which is separate from the web UI REST channel driven by wsclient.Client.
type IsotovideoClient struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *log.Logger
}

// NewIsotovideoClient constructs a client for the subprocess's localhost
// status endpoint, e.g. http://127.0.0.1:20013.
func NewIsotovideoClient(baseURL string, logger *log.Logger) *IsotovideoClient {
	if logger == nil {
		logger = log.Default()
	}
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.Logger = nil

	return &IsotovideoClient{baseURL: baseURL, http: httpClient, logger: logger}
}

// Status fetches the current snapshot and invokes callback with it.
// A connection refused (the common case while isotovideo is still
// booting) is reported as an empty Snapshot, not an error, matching
// spec.md §4.2's "runner has nothing new yet" behavior.
func (c *IsotovideoClient) Status(ctx context.Context, callback func(Snapshot)) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/isotovideo/status", nil)
	if err != nil {
		c.logger.Errorf("runner: build status request: %s", err)
		callback(Snapshot{})
		return
	}

	resp, err := c.http.Do(req)
	if err != nil {
		callback(Snapshot{})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		callback(Snapshot{})
		return
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		c.logger.Errorf("runner: decode status response: %s", err)
		callback(Snapshot{})
		return
	}
	callback(snap)
}
