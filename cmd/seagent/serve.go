package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/seagent/internal/http"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve assistants, threads and runs over HTTP, with Prometheus metrics on
/metrics. With webhook.enabled, GitHub issues that mention the agent are
answered from /webhook. Active runs are interrupted on shutdown and resume
on the next start.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, runServe)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default server.port)")
}

func runServe(ctx context.Context, a *app) error {
	port := a.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	srv, err := httpapi.NewServer(a.stack.Service, a.logger.Named("http"), &httpapi.Config{Host: serveHost, Port: port})
	if err != nil {
		return err
	}
	if a.cfg.Webhook.Enabled {
		gh, ok := a.stack.Accessor.GitHub()
		if !ok {
			return errors.New("webhook: no github accessor registered")
		}
		if err := srv.EnableWebhook(a.cfg.Webhook, gh); err != nil {
			return err
		}
		a.logger.Info(ctx, "github webhook enabled", zap.Int("repos", len(a.cfg.Webhook.Repos)))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		a.logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
		return err
	}
	return nil
}
