// Package wsclient is the worker's outbound channel to the web UI: a
// FIFO REST queue for status/upload calls and a duplex status WebSocket
// for the lightweight "accepted" acknowledgement.
//
// Grounded on the teacher's internal/api package: client.go's bearer-auth
// REST client and worker_ws.go's gorilla/websocket dial/read-loop pattern.
package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
)

// TransportError wraps a failed REST or WebSocket send. Retrying a
// TransportError, if at all, is the Client's business, never the Job's.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wsclient: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Callback is invoked once a Send completes, on the Client's own FIFO
// dispatch goroutine. Callers that mutate job state from inside a
// Callback are responsible for re-synchronizing onto their own
// serialized execution context (the job actor posts a closure back onto
// its mailbox; it never mutates state directly from here).
//
// Declared as an alias, not a defined type: job.Client's interface
// spells this parameter as the literal func(error), and Go's interface
// satisfaction requires identical method signatures, not merely
// identical underlying types.
type Callback = func(error)

type sendRequest struct {
	ctx      context.Context
	method   string
	path     string
	body     any
	callback Callback
}

// Client is the worker's outbound channel to the web UI.
type Client struct {
	baseURL  string
	apiToken string
	http     *retryablehttp.Client
	logger   *log.Logger

	queue chan sendRequest

	wsMu       sync.Mutex
	ws         *websocket.Conn
	finish     chan struct{}
	finishOnce sync.Once
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the default (discard) logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithWebSocket attaches the duplex status WebSocket connection used by
// SendStatus and Finish. Starts a background reader that closes Finish
// once the connection reports a read error or clean close.
func WithWebSocket(conn *websocket.Conn) Option {
	return func(c *Client) {
		c.ws = conn
		go c.watchConnection()
	}
}

// New creates a Client against baseURL, authenticating REST calls with
// apiToken. The REST dispatch goroutine is started immediately and
// drains Send calls strictly in submission order.
func New(baseURL, apiToken string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	c := &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		http:     retryClient,
		logger:   log.New(io.Discard),
		queue:    make(chan sendRequest, 64),
		finish:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.dispatchLoop()
	return c
}

// Send enqueues a REST call. Two Send calls against the same Client
// preserve submission order; callback fires on the Client's dispatch
// goroutine once the call (including retries) completes or fails.
func (c *Client) Send(ctx context.Context, method, path string, body any, callback Callback) {
	c.queue <- sendRequest{ctx: ctx, method: method, path: path, body: body, callback: callback}
}

func (c *Client) dispatchLoop() {
	for req := range c.queue {
		err := c.doRequest(req.ctx, req.method, req.path, req.body)
		if req.callback != nil {
			req.callback(err)
		}
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: "marshal " + path, Err: err}
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader([]byte("null"))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return &TransportError{Op: "build " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "send " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &TransportError{Op: path, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return nil
}

// SendStatus writes a single JSON frame to the status WebSocket. Used
// exactly once per job, for the {jobid, type: "accepted"} acknowledgement.
func (c *Client) SendStatus(payload any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil {
		return &TransportError{Op: "send_status", Err: fmt.Errorf("no websocket connection")}
	}
	if err := c.ws.WriteJSON(payload); err != nil {
		return &TransportError{Op: "send_status", Err: err}
	}
	return nil
}

// Register re-handshakes with the web UI. Not used by the core job
// lifecycle; provided for parity with a worker restarting after a fatal
// disconnect.
func (c *Client) Register(ctx context.Context) error {
	done := make(chan error, 1)
	c.Send(ctx, http.MethodPost, "workers", nil, func(err error) { done <- err })
	return <-done
}

// Finish returns a channel that is closed when the status WebSocket
// reports the control connection has closed.
func (c *Client) Finish() <-chan struct{} {
	return c.finish
}

func (c *Client) watchConnection() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.closeFinish()
			return
		}
	}
}

func (c *Client) closeFinish() {
	c.finishOnce.Do(func() { close(c.finish) })
}

// Close tears down the status WebSocket, if any, which in turn causes
// Finish to close.
func (c *Client) Close() error {
	c.wsMu.Lock()
	conn := c.ws
	c.wsMu.Unlock()
	if conn == nil {
		c.closeFinish()
		return nil
	}
	err := conn.Close()
	c.closeFinish()
	return err
}
