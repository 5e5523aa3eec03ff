package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
	"github.com/fyrsmithlabs/seagent/internal/workflows"
)

// repoFlags are shared by commands that take a repository.
type repoFlags struct {
	url       string
	branch    string
	srcFolder string
}

func (f *repoFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "repo", "", "repository URL (https://github.com/..., file://...)")
	cmd.Flags().StringVar(&f.branch, "branch", "", "branch to read (default main)")
	cmd.Flags().StringVar(&f.srcFolder, "src-folder", "", "restrict to a subdirectory")
}

func (f *repoFlags) descriptor() *repository.Descriptor {
	if f.url == "" {
		return nil
	}
	d := repository.Descriptor{URL: f.url, Branch: f.branch, SrcFolder: f.srcFolder}.Normalize()
	return &d
}

// threadFor returns the thread a command runs on: the explicit one, or one
// per repository scope.
func threadFor(explicit string, repo *repository.Descriptor) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if repo == nil {
		return "", fmt.Errorf("--thread or --repo is required")
	}
	return repo.Key(), nil
}

var onboardOpts struct {
	repo      repoFlags
	assistant string
	model     string
	thread    string
	update    bool
	modified  []string
	deleted   []string
	temporal  bool
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Summarize a repository into file and package summaries",
	Long: `Run onboarding once and print the report. With --temporal the stages run
as activities on a seagent worker instead of in this process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runOnboard(ctx, a, cmd.OutOrStdout(), cmd.ErrOrStderr())
		})
	},
}

func init() {
	f := onboardCmd.Flags()
	onboardOpts.repo.register(onboardCmd)
	f.StringVar(&onboardOpts.assistant, "assistant", "onboarder", "assistant id")
	f.StringVar(&onboardOpts.model, "model", "", "code summary model (provider/model)")
	f.StringVar(&onboardOpts.thread, "thread", "", "thread id (default derived from the repository)")
	f.BoolVar(&onboardOpts.update, "update", false, "run an incremental update instead of a full onboarding")
	f.StringSliceVar(&onboardOpts.modified, "modified", nil, "modified paths for --update")
	f.StringSliceVar(&onboardOpts.deleted, "deleted", nil, "deleted paths for --update")
	f.BoolVar(&onboardOpts.temporal, "temporal", false, "run through the Temporal worker")
	_ = onboardCmd.MarkFlagRequired("repo")
}

func onboardEvent() *repository.Event {
	if !onboardOpts.update {
		return &repository.Event{Type: repository.EventOnboard}
	}
	return &repository.Event{
		Type:     repository.EventUpdate,
		Modified: onboardOpts.modified,
		Deleted:  onboardOpts.deleted,
	}
}

func runOnboard(ctx context.Context, a *app, stdout, stderr io.Writer) error {
	repo := onboardOpts.repo.descriptor()
	if err := repo.Validate(); err != nil {
		return err
	}
	if err := ensureAssistant(ctx, a.stack.Service, onboardOpts.assistant, config.GraphOnboard, map[string]any{
		"code_summary_model": onboardOpts.model,
	}); err != nil {
		return err
	}

	if onboardOpts.temporal {
		return runOnboardTemporal(ctx, a, stdout, *repo)
	}

	threadID, err := threadFor(onboardOpts.thread, repo)
	if err != nil {
		return err
	}
	run, err := execute(ctx, a, stderr, threadID, onboardOpts.assistant, runtime.Input{Repo: repo, Event: onboardEvent()})
	if err != nil {
		return err
	}
	return printJSON(stdout, run.Output.Onboarding)
}

func runOnboardTemporal(ctx context.Context, a *app, stdout io.Writer, repo repository.Descriptor) error {
	if !a.cfg.Temporal.Enabled {
		return fmt.Errorf("%w: temporal.enabled is false", config.ErrConfigIncomplete)
	}
	c, err := workflows.Dial(a.cfg.Temporal, a.logger.Named("temporal"))
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := workflows.StartOnboard(ctx, c, a.cfg.Temporal.TaskQueue, workflows.OnboardRequest{
		AssistantID: onboardOpts.assistant,
		Repo:        repo,
		Event:       *onboardEvent(),
	})
	if err != nil {
		return err
	}
	if err := printJSON(stdout, result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("onboarding finished with %d stage errors", len(result.Errors))
	}
	return nil
}

var resolveOpts struct {
	repo              repoFlags
	assistant         string
	localizationModel string
	suggestModel      string
	thread            string
	asJSON            bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [issue text]",
	Short: "Localize an issue and suggest a change",
	Long: `Localize the packages and files involved in an issue on an onboarded
repository and print a suggested change. The issue is read from the
arguments, or from stdin when none are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := issueText(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runResolve(ctx, a, cmd.OutOrStdout(), cmd.ErrOrStderr(), issue)
		})
	},
}

func init() {
	f := resolveCmd.Flags()
	resolveOpts.repo.register(resolveCmd)
	f.StringVar(&resolveOpts.assistant, "assistant", "resolver", "assistant id")
	f.StringVar(&resolveOpts.localizationModel, "localization-model", "", "localization model (provider/model)")
	f.StringVar(&resolveOpts.suggestModel, "suggest-model", "", "code suggestions model (default the localization model)")
	f.StringVar(&resolveOpts.thread, "thread", "", "thread id (default derived from the repository)")
	f.BoolVar(&resolveOpts.asJSON, "json", false, "print the full resolution as JSON")
}

func issueText(args []string, stdin io.Reader) (string, error) {
	text := strings.Join(args, " ")
	if text == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading issue from stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("issue text is required")
	}
	return text, nil
}

func runResolve(ctx context.Context, a *app, stdout, stderr io.Writer, issue string) error {
	repo := resolveOpts.repo.descriptor()
	threadID, err := threadFor(resolveOpts.thread, repo)
	if err != nil {
		return err
	}
	suggest := resolveOpts.suggestModel
	if suggest == "" {
		suggest = resolveOpts.localizationModel
	}
	if err := ensureAssistant(ctx, a.stack.Service, resolveOpts.assistant, config.GraphResolve, map[string]any{
		"localization_model":     resolveOpts.localizationModel,
		"code_suggestions_model": suggest,
	}); err != nil {
		return err
	}

	run, err := execute(ctx, a, stderr, threadID, resolveOpts.assistant, runtime.Input{
		Repo:     repo,
		Messages: []resolve.Message{{Role: "user", Content: issue}},
	})
	if err != nil {
		return err
	}
	res := run.Output.Resolution
	if resolveOpts.asJSON || res == nil {
		return printJSON(stdout, res)
	}
	return printResolution(stdout, res)
}

func printResolution(w io.Writer, res *resolve.Resolution) error {
	var b strings.Builder
	b.WriteString("Packages:\n")
	for _, p := range res.Packages {
		fmt.Fprintf(&b, "  %s: %s\n", p.Name, p.Rationale)
	}
	b.WriteString("Files:\n")
	for _, f := range res.Files {
		fmt.Fprintf(&b, "  %s: %s\n", f.Name, f.Rationale)
	}
	if s := res.Suggestion; s != nil {
		fmt.Fprintf(&b, "\n%s\n", s.Text)
		for _, d := range s.Diffs {
			fmt.Fprintf(&b, "\n--- %s\n%s\n", d.FilePath, d.Diff)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ensureAssistant creates or overwrites an assistant. Empty config values
// are left out; with none left an existing assistant is reused as is.
func ensureAssistant(ctx context.Context, svc *runtime.Service, id, graphID string, cfg map[string]any) error {
	for k, v := range cfg {
		if s, ok := v.(string); ok && s == "" {
			delete(cfg, k)
		}
	}
	if len(cfg) == 0 {
		existing, err := svc.GetAssistant(ctx, id)
		if err == nil {
			if existing.GraphID != graphID {
				return fmt.Errorf("%w: assistant %q runs graph %q", runtime.ErrInvalidInput, id, existing.GraphID)
			}
			return nil
		}
		if !errors.Is(err, runtime.ErrNotFound) {
			return err
		}
	}
	_, err := svc.CreateAssistant(ctx, runtime.AssistantSpec{ID: id, GraphID: graphID, Config: cfg}, runtime.IfExistsOverwrite)
	return err
}

// execute runs an assistant on a thread in values mode, reporting stage
// progress to progress, and returns the finished run. A failed or cancelled
// run is an error.
func execute(ctx context.Context, a *app, progress io.Writer, threadID, assistantID string, in runtime.Input) (*runtime.Run, error) {
	svc := a.stack.Service
	if _, err := svc.CreateThread(ctx, threadID, nil, runtime.IfExistsDoNothing); err != nil {
		return nil, err
	}
	handle, err := svc.CreateRun(ctx, threadID, assistantID, in, runtime.StreamValues)
	if err != nil {
		return nil, err
	}
	a.logger.Debug(ctx, "run started", zap.String("thread_id", threadID), zap.String("assistant_id", assistantID))

	stream := handle.Stream()
	for {
		snap, ok, err := stream.Next(ctx)
		if err != nil || !ok {
			break
		}
		if snap.Stage != "" {
			fmt.Fprintf(progress, "%s: %s\n", snap.Status, snap.Stage)
		}
		if snap.Final() {
			break
		}
	}

	run, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return finished(run)
}

func finished(run *runtime.Run) (*runtime.Run, error) {
	switch {
	case run.Status == runtime.RunSucceeded && run.Output != nil:
		return run, nil
	case run.Error != nil:
		return nil, fmt.Errorf("run %s %s at %s: %s: %s", run.ID, run.Status, run.Error.Stage, run.Error.Kind, run.Error.Message)
	default:
		return nil, fmt.Errorf("run %s ended %s", run.ID, run.Status)
	}
}

