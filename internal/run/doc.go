// Package run implements the autonomous execution orchestrator.
//
// A run drives one session from start to a terminal reason through
// repeated steps. Each step is one propose/approve/execute cycle: a
// tool-free model turn commits to a single action, the approval gate
// accepts or rejects it, and a bounded tool loop carries it out.
// Playbook runs layer a phase iterator on top, giving each phase its
// own goal and step budget.
//
// Concurrency discipline: each run executes as one goroutine with no
// internal parallelism. External control calls (stop, resolve, inject)
// touch only the cross-context fields of the per-run runtime, guarded
// by its mutex. The conversation buffer and step bookkeeping inside a
// step are private to the run goroutine. Stops are cooperative: the
// active flag is re-checked at every suspension point and in-flight
// model or tool calls are allowed to finish.
package run
