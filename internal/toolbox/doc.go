// Package toolbox executes the model's tool calls.
//
// Client talks to the external tool-execution service over HTTP.
// Dispatcher routes tool-use requests by name, enforces the session's
// target scope, scrubs secrets from outputs, and emits tool lifecycle
// events. Tool failures are returned as errors; callers fold them into
// result text so a broken tool never aborts a run.
package toolbox
