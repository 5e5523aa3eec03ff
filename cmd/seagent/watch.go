package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

var watchOpts struct {
	repo        repoFlags
	assistant   string
	model       string
	thread      string
	debounce    time.Duration
	skipInitial bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a local repository's summaries current",
	Long: `Onboard a file:// repository, then watch it and run an incremental update
for each settled batch of changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runWatch(ctx, a, cmd.ErrOrStderr())
		})
	},
}

func init() {
	f := watchCmd.Flags()
	watchOpts.repo.register(watchCmd)
	f.StringVar(&watchOpts.assistant, "assistant", "onboarder", "assistant id")
	f.StringVar(&watchOpts.model, "model", "", "code summary model (provider/model)")
	f.StringVar(&watchOpts.thread, "thread", "", "thread id (default derived from the repository)")
	f.DurationVar(&watchOpts.debounce, "debounce", repository.DefaultDebounce, "quiet period before changes are applied")
	f.BoolVar(&watchOpts.skipInitial, "skip-initial", false, "skip the initial full onboarding")
	_ = watchCmd.MarkFlagRequired("repo")
}

func runWatch(ctx context.Context, a *app, progress io.Writer) error {
	repo := watchOpts.repo.descriptor()
	if err := repo.Validate(); err != nil {
		return err
	}
	if !strings.HasPrefix(repo.URL, "file://") {
		return fmt.Errorf("%w: watch requires a file:// repository", runtime.ErrInvalidInput)
	}
	threadID, err := threadFor(watchOpts.thread, repo)
	if err != nil {
		return err
	}
	if err := ensureAssistant(ctx, a.stack.Service, watchOpts.assistant, config.GraphOnboard, map[string]any{
		"code_summary_model": watchOpts.model,
	}); err != nil {
		return err
	}

	rc := a.cfg.Repository
	w, err := repository.NewWatcher(*repo, repository.NewFilter(rc.MaxFileSize, rc.IgnoreFiles, rc.Exclude), watchOpts.debounce, a.logger.Named("watch"))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if !watchOpts.skipInitial {
		ev := repository.Event{Type: repository.EventOnboard}
		if err := applyEvent(ctx, a, progress, threadID, repo, ev); err != nil {
			return err
		}
	}

	a.logger.Info(ctx, "watching repository", zap.String("repo", repo.URL), zap.String("thread_id", threadID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			// One failed update leaves the committed state untouched; the next
			// batch is still applied.
			if err := applyEvent(ctx, a, progress, threadID, repo, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn(ctx, "update failed", zap.Error(err),
					zap.Strings("modified", ev.Modified),
					zap.Strings("deleted", ev.Deleted))
			}
		}
	}
}

func applyEvent(ctx context.Context, a *app, progress io.Writer, threadID string, repo *repository.Descriptor, ev repository.Event) error {
	fmt.Fprintf(progress, "%s: %d modified, %d deleted\n", ev.Type, len(ev.Modified), len(ev.Deleted))
	run, err := execute(ctx, a, progress, threadID, watchOpts.assistant, runtime.Input{Repo: repo, Event: &ev})
	if err != nil {
		return err
	}
	if r := run.Output.Onboarding; r != nil {
		a.logger.Info(ctx, "repository updated",
			zap.String("run_id", run.ID),
			zap.Int("files_summarized", len(r.FilesSummarized)),
			zap.Int("packages_summarized", len(r.PackagesSummarized)))
	}
	return nil
}
