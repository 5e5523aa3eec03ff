// Package mcp exposes the run runtime as MCP tools over stdio.
//
// Tools cover assistants (assistant_create, assistant_get, assistant_delete),
// threads (thread_create, thread_state, thread_delete) and runs (run_create,
// run_list, run_cancel, run_delete). run_create always waits for the run to
// finish. Text content is scrubbed for secrets when a scrubber is configured.
package mcp
