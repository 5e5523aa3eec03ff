// Package logging is the structured logger used across seagent.
//
// It wraps zap with context-aware methods so every entry carries the
// run correlation fields set by the runtime:
//
//	ctx = logging.WithRun(ctx, logging.RunFields{ThreadID: "t1", RunID: "r1"})
//	ctx = logging.WithStage(ctx, "summarize_files")
//	logger.Info(ctx, "stage completed", zap.Int("files", 12))
//
// produces
//
//	{"level":"info","msg":"stage completed","thread_id":"t1","run_id":"r1","stage":"summarize_files","files":12}
//
// Output goes to stdout through a redacting encoder and, when an OTEL log
// provider is supplied, to the otelzap bridge as well. Levels below error
// are sampled; errors never are.
package logging
