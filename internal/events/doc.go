// Package events provides the event model and fan-out for pentestd.
//
// Every state change in a run (run started, step proposed, step decided,
// tool executed, run ended) is published as an Event. The in-process Bus
// delivers events to SSE subscribers; an optional NATS publisher mirrors
// them to external consumers.
//
// Delivery is non-blocking: a subscriber that falls behind its buffer
// loses events rather than stalling the run that published them.
package events
