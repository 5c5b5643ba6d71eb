// Package secrets detects and redacts credential material from text.
//
// Tool output frequently contains harvested credentials (key material,
// tokens, Authorization headers). The Scrubber replaces matches with
// typed placeholders before the output is fed back to the model or
// written to logs and events.
package secrets
