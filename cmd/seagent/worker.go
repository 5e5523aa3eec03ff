package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run onboarding stages as Temporal activities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, runWorker)
	},
}

func runWorker(ctx context.Context, a *app) error {
	tc := a.cfg.Temporal
	if !tc.Enabled {
		return fmt.Errorf("%w: temporal.enabled is false", config.ErrConfigIncomplete)
	}
	c, err := workflows.Dial(tc, a.logger.Named("temporal"))
	if err != nil {
		return err
	}
	defer c.Close()

	deps := a.stack.Deps()
	w := workflows.NewWorker(c, tc.TaskQueue, &workflows.Activities{
		Assistants: a.stack.Service,
		Deps: onboard.Deps{
			Accessor: deps.Accessor,
			Store:    deps.Store,
			Gateway:  deps.Gateway,
			Scrubber: deps.Scrubber,
			Index:    deps.Index,
		},
		Logger: a.logger.Named("workflows"),
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	a.logger.Info(ctx, "worker started",
		zap.String("host_port", tc.HostPort),
		zap.String("task_queue", tc.TaskQueue))

	<-ctx.Done()
	a.logger.Info(context.Background(), "shutting down worker")
	w.Stop()
	return nil
}
