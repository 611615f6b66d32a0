package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/testexec/jobworker/internal/config"
	"github.com/testexec/jobworker/internal/job"
	"github.com/testexec/jobworker/internal/logging"
	"github.com/testexec/jobworker/internal/pool"
	"github.com/testexec/jobworker/internal/runner"
	"github.com/testexec/jobworker/internal/wsclient"
)

var (
	version = "dev"

	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "jobworker",
	Short: "Runs a single openQA-style worker instance",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the web UI and run jobs as they are assigned",
	RunE:  runWorker,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "/etc/jobworker/workers.yaml", "path to the worker's settings file")
	runCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runWorker(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(settings.Instance, debug || settings.Debug)
	logger.Infof("jobworker %s starting for instance %d", version, settings.Instance)

	conn, err := dialControlChannel(settings)
	if err != nil {
		return fmt.Errorf("jobworker: dial control channel: %w", err)
	}

	client := wsclient.New(settings.WebUIHost, settings.APIKey,
		wsclient.WithLogger(logger),
		wsclient.WithWebSocket(conn))
	defer client.Close()

	poolDir := pool.New(fmt.Sprintf("%s/%d", settings.PoolBaseDir, settings.Instance))
	if err := poolDir.Prepare(); err != nil {
		return fmt.Errorf("jobworker: prepare pool directory: %w", err)
	}

	engine := runner.New(settings.IsotovideoCommand, poolDir.Root, logger)
	wctx := job.NewWorkerContext(settings.Instance, client, engine, poolDir, logger)

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		<-groupCtx.Done()
		if current := wctx.CurrentJob(); current != nil {
			current.Stop("worker shutdown")
		}
		return nil
	})
	group.Go(func() error {
		return controlLoop(groupCtx, conn, wctx, logger)
	})

	return group.Wait()
}

func dialControlChannel(settings *config.Settings) (*websocket.Conn, error) {
	u, err := url.Parse(settings.WebUIHost)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = fmt.Sprintf("/api/v1/ws/%d", settings.Instance)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+settings.APIKey)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	return conn, err
}

// grabJob is the control-channel message the web UI sends to assign a job
// to this worker instance.
type grabJob struct {
	Type string         `json:"type"`
	JobID int64         `json:"jobid"`
	Info  map[string]any `json:"settings"`
}

// controlLoop reads control-channel messages until ctx is cancelled or
// the connection closes, creating and running at most one job at a time.
func controlLoop(ctx context.Context, conn *websocket.Conn, wctx *job.WorkerContext, logger interface {
	Infof(string, ...any)
	Errorf(string, ...any)
}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("jobworker: control channel closed: %w", err)
		}

		var msg grabJob
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("jobworker: malformed control message: %s", err)
			continue
		}
		if msg.Type != "grab_job" {
			continue
		}

		j, err := wctx.CreateJob(&msg.JobID, msg.Info)
		if err != nil {
			logger.Errorf("jobworker: %s", err)
			continue
		}
		if err := j.Accept(); err != nil {
			logger.Errorf("jobworker: accept job %d: %s", msg.JobID, err)
			continue
		}
		if err := j.Start(); err != nil {
			logger.Errorf("jobworker: start job %d: %s", msg.JobID, err)
		}
	}
}
