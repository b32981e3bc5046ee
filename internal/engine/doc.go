// Package engine runs the single-writer ingestion loop.
//
// Stores, indices and the registry are not safe for concurrent mutation.
// The engine makes the single writer explicit:
//
//   - Enqueue is safe from any goroutine: websocket readers, fetch
//     completions, the CLI.
//   - Run is the only goroutine that calls Registry.Apply. Envelopes are
//     applied in receipt order, one at a time, each stamped with a seq
//     from the engine's logical Clock.
//
// Error policy: stale events, listener failures and other recoverable
// problems are logged and processing continues. A configuration error
// stops the loop and is returned from Run as a *RuntimeError.
//
// When a Recorder is configured, every envelope is recorded before it is
// applied, so a journal replays deferred and failed envelopes exactly as
// they were received.
package engine
