// Package orchestrator runs typed, strictly ordered stages over a shared
// working state.
//
// # Overview
//
// A Pipeline is a fixed sequence of Handlers. Each handler owns one Stage and
// mutates the pipeline's working state S in place:
//
//	discover → summarize_files → group_packages → summarize_packages
//	localize_packages → localize_files → suggest
//
// Stages never run out of order and never run twice within one Run. A stage
// named in RunOptions.Completed is skipped, which is how an interrupted run
// resumes from its checkpoint.
//
// # Gates
//
// Gates are preconditions checked before a stage executes. A failing gate
// stops the pipeline the same way a failing stage does.
//
// # Errors
//
// Any failure, including cancellation observed at a stage boundary, is
// returned as a *StageError naming the stage. StageError unwraps, so callers
// match the cause with errors.Is.
package orchestrator
