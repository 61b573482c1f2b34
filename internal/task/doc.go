// Package task runs the background jobs of the manga pipeline: generating
// a task's panels, regenerating a single panel, and maintenance sweeps.
//
// Jobs are built from their type and JSON payload by a Dispatcher, so the
// same job can run from the in-process TaskRunner (local mode) or from a
// queue consumer in a separate worker process (distributed mode). Either way
// delivery is at least once: every job is written to tolerate re-execution.
package task
