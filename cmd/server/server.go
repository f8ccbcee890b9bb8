// Package server implements the command that runs the HTTP API and the build watcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cooodecat/otto-handler/api"
	"github.com/cooodecat/otto-handler/app"
	"github.com/cooodecat/otto-handler/cmd/utils"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/logging"
)

const shutdownTimeout = 30 * time.Second

// Watcher is the part of the build watcher the server resumes work on
type Watcher interface {
	Watch(executionID, buildID string) bool
}

// UnfinishedLister lists executions that were in flight when the process stopped
type UnfinishedLister interface {
	ListUnfinished() ([]*domain.Execution, error)
}

// NewCmdServer creates the command that serves the HTTP API
func NewCmdServer() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Otto API server",
		Long: `Serves the HTTP API, ingests cloud events and follows started builds
until they finish. Builds left unfinished by a previous run are watched again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	return utils.RequireServices(cmd)
}

func runServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.GetConfig()
	srv := api.New(api.Config{Listen: cfg.HTTPAddr()}, api.Deps{
		Provisioner: app.GetProvisionService(),
		Builds:      app.GetBuildTrigger(),
		Watcher:     app.GetBuildWatcher(),
		Events:      app.GetEventDispatcher(),
		Deployments: app.GetDeployMachine(),
		Executions:  app.GetExecutionRepository(),
		Records:     app.GetDeploymentRepository(),
	}, logging.WithComponent("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		resumed, err := ResumeWatches(app.GetExecutionRepository(), app.GetBuildWatcher())
		if err != nil {
			return fmt.Errorf("failed to resume build watches: %w", err)
		}
		if resumed > 0 {
			slog.Info("Resumed build watches", "layer", "server", "count", resumed)
		}
		return nil
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("Shutdown incomplete", "layer", "server", "error", shutdownErr)
	}

	slog.Info("Server stopped", "layer", "server")
	return err
}

// ResumeWatches starts watching every unfinished execution that has a build id
func ResumeWatches(executions UnfinishedLister, w Watcher) (int, error) {
	unfinished, err := executions.ListUnfinished()
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, e := range unfinished {
		if e.ExternalBuildID == "" {
			continue
		}
		if w.Watch(e.ID, e.ExternalBuildID) {
			resumed++
		}
	}
	return resumed, nil
}
