// Package workflows runs onboarding as a Temporal workflow.
//
// OnboardWorkflow executes the onboarding stages in order, one activity per
// stage. The working onboard.State travels between activities through the
// workflow history, so a worker crash resumes at the first unfinished stage
// instead of starting over. Activities resolve the assistant by ID on the
// worker; credentials never enter the history.
//
// A worker process registers everything with NewWorker; callers start and
// await a run with StartOnboard.
package workflows
