package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
)

const tracerName = "github.com/fyrsmithlabs/seagent/internal/runtime"

// Options configures a Service. Repository and Graphs are required.
type Options struct {
	Repository Repository
	Graphs     GraphFactory
	Publisher  Publisher
	Logger     *logging.Logger
	Config     config.RuntimeConfig

	NewID func() string
	Now   func() time.Time
}

// Service manages assistants, threads and runs. At most one run per thread
// is non-terminal; a second CreateRun is rejected with ErrThreadBusy.
type Service struct {
	repo      Repository
	graphs    GraphFactory
	publisher Publisher
	logger    *logging.Logger
	cfg       config.RuntimeConfig
	newID     func() string
	now       func() time.Time

	mu       sync.Mutex
	active   map[string]*execution // by thread id
	deleting map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

// execution is the in-process side of a run between start and finish.
type execution struct {
	run    Run
	graph  Graph
	cancel context.CancelCauseFunc
	done   chan struct{}
	subs   []*Stream
	cap    int

	// final is written once before done is closed.
	final Run
}

// NewService creates a Service and marks runs left unfinished by a previous
// process as interrupted so they can be resumed.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Repository == nil || opts.Graphs == nil {
		return nil, errors.New("runtime: repository and graph factory are required")
	}
	s := &Service{
		repo:      opts.Repository,
		graphs:    opts.Graphs,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		cfg:       opts.Config,
		newID:     opts.NewID,
		now:       opts.Now,
		active:    make(map[string]*execution),
		deleting:  make(map[string]bool),
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.recover(ctx); err != nil {
		return nil, fmt.Errorf("runtime: recover runs: %w", err)
	}
	return s, nil
}

func (s *Service) recover(ctx context.Context) error {
	runs, err := s.repo.ListUnfinished(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Status == RunInterrupted {
			continue
		}
		r.Status = RunInterrupted
		r.UpdatedAt = s.now()
		if err := s.repo.PutRun(ctx, r); err != nil {
			return err
		}
		s.logger.Warn(ctx, "run interrupted by restart",
			zap.String("thread_id", r.ThreadID),
			zap.String("run_id", r.ID),
			zap.String("last_completed_stage", string(r.LastCompletedStage)))
	}
	return nil
}

// --- assistants ---

// CreateAssistant decodes and validates spec.Config for spec.GraphID and
// stores the assistant according to policy.
func (s *Service) CreateAssistant(ctx context.Context, spec AssistantSpec, policy IfExists) (*Assistant, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: if_exists %q", ErrInvalidInput, policy)
	}
	cfg, err := config.DecodeAssistantConfig(spec.GraphID, spec.Config)
	if err != nil {
		return nil, err
	}
	if spec.ID == "" {
		spec.ID = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a := Assistant{
		ID:        spec.ID,
		GraphID:   spec.GraphID,
		Config:    cfg,
		Version:   1,
		Metadata:  spec.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
		raw:       spec.Config,
	}

	existing, err := s.repo.GetAssistant(ctx, spec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		switch policy {
		case IfExistsDoNothing:
			return existing, nil
		case IfExistsOverwrite:
			a.Version = existing.Version + 1
			a.CreatedAt = existing.CreatedAt
		default:
			return nil, fmt.Errorf("%w: assistant %q", ErrAlreadyExists, spec.ID)
		}
	}

	if err := s.repo.PutAssistant(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "assistant stored",
		zap.String("assistant_id", a.ID),
		zap.String("graph_id", a.GraphID),
		zap.Int("version", a.Version))
	return &a, nil
}

// GetAssistant returns the assistant stored under id.
func (s *Service) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	return s.repo.GetAssistant(ctx, id)
}

// DeleteAssistant removes the assistant. Runs already started keep their
// graph.
func (s *Service) DeleteAssistant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.DeleteAssistant(ctx, id)
}

// --- threads ---

// CreateThread creates a thread. An empty id is generated.
func (s *Service) CreateThread(ctx context.Context, id string, metadata map[string]any, policy IfExists) (*Thread, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: if_exists %q", ErrInvalidInput, policy)
	}
	if id == "" {
		id = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t := Thread{ID: id, Metadata: metadata, Status: ThreadIdle, CreatedAt: now, UpdatedAt: now}

	existing, err := s.repo.GetThread(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		switch policy {
		case IfExistsDoNothing:
			return existing, nil
		case IfExistsOverwrite:
			busy, err := s.busyLocked(ctx, id)
			if err != nil {
				return nil, err
			}
			if busy {
				return nil, fmt.Errorf("%w: thread %q", ErrThreadBusy, id)
			}
			t.CreatedAt = existing.CreatedAt
		default:
			return nil, fmt.Errorf("%w: thread %q", ErrAlreadyExists, id)
		}
	}

	if err := s.repo.PutThread(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetThread returns the thread stored under id.
func (s *Service) GetThread(ctx context.Context, id string) (*Thread, error) {
	return s.repo.GetThread(ctx, id)
}

// GetState returns the committed state of a thread.
func (s *Service) GetState(ctx context.Context, id string) (*State, error) {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	return &t.State, nil
}

// DeleteThread cancels and awaits the thread's active run, then removes the
// thread with its run history.
func (s *Service) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, err := s.repo.GetThread(ctx, id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.deleting[id] = true
	e := s.active[id]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	if e != nil {
		e.cancel(errCancelled)
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.DeleteThread(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "thread deleted", zap.String("thread_id", id))
	return nil
}

// busyLocked reports whether thread id has a non-terminal run. s.mu must be
// held.
func (s *Service) busyLocked(ctx context.Context, id string) (bool, error) {
	if s.active[id] != nil || s.deleting[id] {
		return true, nil
	}
	runs, err := s.repo.ListRuns(ctx, id)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(runs, func(r Run) bool { return !r.Status.Terminal() }), nil
}

// --- runs ---

// RunHandle observes a run started by CreateRun or ResumeRun.
type RunHandle struct {
	// Run is the run as created.
	Run Run

	exec   *execution
	stream *Stream
}

// Stream returns the snapshot stream of a values-mode run, or nil.
func (h *RunHandle) Stream() *Stream {
	return h.stream
}

// Done is closed once the run reaches a final status.
func (h *RunHandle) Done() <-chan struct{} {
	return h.exec.done
}

// Wait blocks until the run reaches a final status and returns it.
func (h *RunHandle) Wait(ctx context.Context) (*Run, error) {
	select {
	case <-h.exec.done:
		final := h.exec.final
		return &final, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateRun creates a pending run of the assistant's graph on the thread
// and starts it.
func (s *Service) CreateRun(ctx context.Context, threadID, assistantID string, in Input, mode StreamMode) (*RunHandle, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: stream_mode %q", ErrInvalidInput, mode)
	}
	if mode == "" {
		mode = StreamWait
	}
	assistant, err := s.repo.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	graph, err := s.graphs(ctx, *assistant)
	if err != nil {
		return nil, fmt.Errorf("building graph %s: %w", assistant.GraphID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	busy, err := s.busyLocked(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if busy {
		RejectedRuns.Inc()
		return nil, fmt.Errorf("%w: thread %q", ErrThreadBusy, threadID)
	}
	in, err = graph.Prepare(thread.State, in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	run := Run{
		ID:          s.newID(),
		ThreadID:    threadID,
		AssistantID: assistantID,
		GraphID:     assistant.GraphID,
		Status:      RunPending,
		StreamMode:  mode,
		Input:       in,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.PutRun(ctx, run); err != nil {
		return nil, err
	}
	return s.startLocked(ctx, *thread, run, graph)
}

// ResumeRun continues an interrupted run from its checkpoint. Completed
// stages are not executed again.
func (s *Service) ResumeRun(ctx context.Context, threadID, runID string, mode StreamMode) (*RunHandle, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: stream_mode %q", ErrInvalidInput, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	run, err := s.repo.GetRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunInterrupted {
		return nil, fmt.Errorf("%w: run %s is %s, not interrupted", ErrInvalidTransition, runID, run.Status)
	}
	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	assistant, err := s.repo.GetAssistant(ctx, run.AssistantID)
	if err != nil {
		return nil, err
	}
	graph, err := s.graphs(ctx, *assistant)
	if err != nil {
		return nil, fmt.Errorf("building graph %s: %w", assistant.GraphID, err)
	}

	if err := transition(run, RunPending); err != nil {
		return nil, err
	}
	if mode != "" {
		run.StreamMode = mode
	}
	run.Error = nil
	run.UpdatedAt = s.now()
	if err := s.repo.PutRun(ctx, *run); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "resuming run",
		zap.String("thread_id", threadID),
		zap.String("run_id", runID),
		zap.String("last_completed_stage", string(run.LastCompletedStage)))
	return s.startLocked(ctx, *thread, *run, graph)
}

// startLocked registers the execution and launches it. s.mu must be held.
func (s *Service) startLocked(ctx context.Context, thread Thread, run Run, graph Graph) (*RunHandle, error) {
	thread.Status = ThreadBusy
	thread.UpdatedAt = s.now()
	if err := s.repo.PutThread(ctx, thread); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if d := time.Duration(s.cfg.RunTimeout); d > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(runCtx, d)
		inner := cancel
		cancel = func(cause error) {
			inner(cause)
			stop()
		}
	}

	capacity := len(graph.Stages()) + 2
	if s.cfg.StreamBuffer > capacity {
		capacity = s.cfg.StreamBuffer
	}
	e := &execution{
		run:    run,
		graph:  graph,
		cancel: cancel,
		done:   make(chan struct{}),
		cap:    capacity,
	}
	h := &RunHandle{Run: run, exec: e}
	if run.StreamMode == StreamValues {
		h.stream = newStream(run.ID, capacity)
		e.subs = append(e.subs, h.stream)
	}
	s.active[run.ThreadID] = e

	s.wg.Add(1)
	ActiveRuns.Inc()
	go func() {
		defer s.wg.Done()
		defer ActiveRuns.Dec()
		s.execute(runCtx, e, thread.State)
		cancel(nil)
	}()
	return h, nil
}

// Wait blocks until the run reaches a final status. Runs that are not
// executing in this process are returned as stored.
func (s *Service) Wait(ctx context.Context, threadID, runID string) (*Run, error) {
	s.mu.Lock()
	e := s.active[threadID]
	s.mu.Unlock()
	if e != nil && e.run.ID == runID {
		return (&RunHandle{exec: e}).Wait(ctx)
	}
	return s.repo.GetRun(ctx, threadID, runID)
}

// Subscribe returns a stream of the run's future snapshots. The run must be
// executing.
func (s *Service) Subscribe(_ context.Context, threadID, runID string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active[threadID]
	if e == nil || e.run.ID != runID {
		return nil, fmt.Errorf("%w: run %s is not executing", ErrInvalidTransition, runID)
	}
	st := newStream(runID, e.cap)
	e.subs = append(e.subs, st)
	return st, nil
}

// GetRun returns one run of a thread.
func (s *Service) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	return s.repo.GetRun(ctx, threadID, runID)
}

// ListRuns returns the thread's runs, most recent last.
func (s *Service) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	if _, err := s.repo.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.repo.ListRuns(ctx, threadID)
}

// CancelRun moves a non-terminal run to cancelled. An executing run is
// stopped at its next cancellation point and awaited; the returned run is
// its final record.
func (s *Service) CancelRun(ctx context.Context, threadID, runID string) (*Run, error) {
	s.mu.Lock()
	run, err := s.repo.GetRun(ctx, threadID, runID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if run.Status.Terminal() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, runID, run.Status)
	}

	e := s.active[threadID]
	if e != nil && e.run.ID == runID {
		s.mu.Unlock()
		e.cancel(errCancelled)
		return (&RunHandle{exec: e}).Wait(ctx)
	}
	defer s.mu.Unlock()

	// Interrupted, or pending with no execution in this process.
	if err := transition(run, RunCancelled); err != nil {
		return nil, err
	}
	run.UpdatedAt = s.now()
	if err := s.repo.PutRun(ctx, *run); err != nil {
		return nil, err
	}
	if err := s.idleLocked(ctx, threadID, nil); err != nil {
		return nil, err
	}
	s.emitEvent(ctx, EventCancelled, *run)
	RunsTotal.WithLabelValues(run.GraphID, string(run.Status)).Inc()
	return run, nil
}

// DeleteRun removes a run in a terminal status.
func (s *Service) DeleteRun(ctx context.Context, threadID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.repo.GetRun(ctx, threadID, runID)
	if err != nil {
		return err
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s; cancel it first", ErrInvalidTransition, runID, run.Status)
	}
	return s.repo.DeleteRun(ctx, threadID, runID)
}

// Close stops accepting runs, interrupts every executing run and waits for
// them to record their checkpoints.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.active {
		e.cancel(errInterrupted)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- execution ---

func (s *Service) execute(ctx context.Context, e *execution, committed State) {
	run := &e.run
	ctx = logging.WithRun(ctx, logging.RunFields{
		ThreadID:    run.ThreadID,
		RunID:       run.ID,
		AssistantID: run.AssistantID,
		GraphID:     run.GraphID,
	})
	ctx = logging.WithLogger(ctx, s.logger)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "run."+run.GraphID)
	span.SetAttributes(
		attribute.String("thread_id", run.ThreadID),
		attribute.String("run_id", run.ID),
	)
	defer span.End()

	started := s.now()
	var (
		output *State
		runErr error
	)
	defer func() {
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
		}
		s.finish(ctx, e, output, runErr)
		RunDuration.WithLabelValues(run.GraphID).Observe(s.now().Sub(started).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		runErr = err
		return
	}
	if err := transition(run, RunRunning); err != nil {
		runErr = err
		return
	}
	s.persist(ctx, run)
	s.emitEvent(ctx, EventStarted, *run)
	s.logger.Info(ctx, "run started", zap.String("stream_mode", string(run.StreamMode)))
	s.emit(e, Snapshot{Status: run.Status, Values: committed})

	state, err := e.graph.Execute(ctx, Execution{
		State:      committed,
		Input:      run.Input,
		Checkpoint: run.Checkpoint,
		Progress: func(ctx context.Context, u StageUpdate) {
			s.progress(ctx, e, u)
		},
	})
	if err != nil {
		runErr = err
		return
	}
	output = &state
}

// progress records a stage result on the run.
func (s *Service) progress(ctx context.Context, e *execution, u StageUpdate) {
	run := &e.run
	if u.Result.Status != orchestrator.StatusSkipped {
		StageDuration.WithLabelValues(run.GraphID, string(u.Result.Stage), string(u.Result.Status)).
			Observe(u.Result.Duration.Seconds())
	}
	if u.Result.Status != orchestrator.StatusCompleted || u.Checkpoint == nil {
		return
	}

	run.Checkpoint = u.Checkpoint
	run.LastCompletedStage = u.Result.Stage
	if run.StreamMode == StreamValues && run.Status == RunRunning {
		_ = transition(run, RunStreaming)
	}
	s.persist(ctx, run)
	s.emitEvent(ctx, EventStage, *run)
	s.emit(e, Snapshot{Status: run.Status, Stage: u.Result.Stage, Values: u.Preview})
}

// finish settles the run's final status, commits on success and releases
// the thread.
func (s *Service) finish(ctx context.Context, e *execution, output *State, runErr error) {
	run := &e.run
	var next RunStatus
	switch {
	case runErr == nil && output != nil:
		next = RunSucceeded
	case errors.Is(context.Cause(ctx), errInterrupted):
		next = RunInterrupted
	case errors.Is(context.Cause(ctx), errCancelled):
		next = RunCancelled
	default:
		next = RunFailed
	}

	if err := transition(run, next); err != nil {
		s.logger.Error(ctx, "unexpected run transition", zap.Error(err))
		run.Status = next
	}
	run.UpdatedAt = s.now()
	switch next {
	case RunSucceeded:
		run.Output = output
	case RunFailed:
		stage, _ := orchestrator.FailedStage(runErr)
		run.Error = &RunError{Kind: KindOf(runErr), Stage: stage, Message: runErr.Error()}
	case RunCancelled:
		run.Error = &RunError{Kind: KindCancelled, Message: errCancelled.Error()}
	}

	// The commit must survive the run context being cancelled.
	bg := context.WithoutCancel(ctx)

	s.mu.Lock()
	s.persist(bg, run)
	if next.Terminal() {
		if err := s.idleLocked(bg, run.ThreadID, run.Output); err != nil {
			s.logger.Error(ctx, "releasing thread failed", zap.Error(err))
		}
	}
	delete(s.active, run.ThreadID)
	subs := e.subs
	e.subs = nil
	s.mu.Unlock()

	snap := Snapshot{RunID: run.ID, ThreadID: run.ThreadID, Status: run.Status, Error: run.Error, At: s.now()}
	if run.Output != nil {
		snap.Values = *run.Output
	}
	for _, st := range subs {
		if !st.offer(snap) {
			s.logger.Warn(ctx, "final snapshot dropped", zap.String("run_id", run.ID))
		}
		close(st.ch)
	}

	s.emitEvent(bg, terminalEvent(next), *run)
	RunsTotal.WithLabelValues(run.GraphID, string(next)).Inc()

	fields := []zap.Field{
		zap.String("status", string(next)),
		zap.String("last_completed_stage", string(run.LastCompletedStage)),
	}
	if run.Error != nil {
		fields = append(fields, zap.String("error_kind", string(run.Error.Kind)),
			zap.String("failed_stage", string(run.Error.Stage)), zap.Error(runErr))
	}
	if next == RunFailed {
		s.logger.Warn(ctx, "run finished", fields...)
	} else {
		s.logger.Info(ctx, "run finished", fields...)
	}

	e.final = *run
	close(e.done)
}

// idleLocked marks the thread idle, committing output when set. s.mu must
// be held.
func (s *Service) idleLocked(ctx context.Context, threadID string, output *State) error {
	t, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	t.Status = ThreadIdle
	if output != nil {
		t.State = *output
	}
	t.UpdatedAt = s.now()
	return s.repo.PutThread(ctx, *t)
}

func (s *Service) persist(ctx context.Context, run *Run) {
	run.UpdatedAt = s.now()
	if err := s.repo.PutRun(ctx, *run); err != nil {
		s.logger.Error(ctx, "persisting run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// emit offers snap to every subscriber of e.
func (s *Service) emit(e *execution, snap Snapshot) {
	snap.RunID = e.run.ID
	snap.ThreadID = e.run.ThreadID
	snap.At = s.now()

	s.mu.Lock()
	subs := slices.Clone(e.subs)
	s.mu.Unlock()
	for _, st := range subs {
		if !st.offer(snap) {
			s.logger.Warn(context.Background(), "snapshot dropped",
				zap.String("run_id", e.run.ID), zap.String("stage", string(snap.Stage)))
		}
	}
}

func (s *Service) emitEvent(ctx context.Context, typ EventType, run Run) {
	if err := s.publisher.Publish(ctx, Event{Type: typ, Run: run, Timestamp: s.now()}); err != nil {
		s.logger.Warn(ctx, "publishing run event failed",
			zap.String("event", string(typ)), zap.Error(err))
	}
}
