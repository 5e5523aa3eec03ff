package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
)

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig, logger *logging.Logger) (client.Client, error) {
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	}
	if logger != nil {
		opts.Logger = NewTemporalLogger(logger.Underlying())
	}
	c, err := client.Dial(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewWorker registers OnboardWorkflow and acts on a worker for taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(OnboardWorkflow)
	w.RegisterActivity(acts)
	return w
}

// StartOnboard starts OnboardWorkflow for req and waits for its result.
// A running onboarding of the same repository scope is joined rather than
// duplicated.
func StartOnboard(ctx context.Context, c client.Client, taskQueue string, req OnboardRequest) (*OnboardResult, error) {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.WorkflowID(),
		TaskQueue: taskQueue,
	}, OnboardWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("starting onboarding workflow: %w", err)
	}
	var result OnboardResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// temporalLogger adapts zap to the Temporal SDK logger interface.
type temporalLogger struct {
	sugar *zap.SugaredLogger
}

// NewTemporalLogger routes Temporal SDK logs through l.
func NewTemporalLogger(l *zap.Logger) tlog.Logger {
	return &temporalLogger{sugar: l.Named("temporal").Sugar()}
}

func (t *temporalLogger) Debug(msg string, keyvals ...interface{}) { t.sugar.Debugw(msg, keyvals...) }
func (t *temporalLogger) Info(msg string, keyvals ...interface{})  { t.sugar.Infow(msg, keyvals...) }
func (t *temporalLogger) Warn(msg string, keyvals ...interface{})  { t.sugar.Warnw(msg, keyvals...) }
func (t *temporalLogger) Error(msg string, keyvals ...interface{}) { t.sugar.Errorw(msg, keyvals...) }
