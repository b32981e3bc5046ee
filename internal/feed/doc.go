// Package feed connects the engine to the server.
//
// Client keeps a websocket subscription open and enqueues every envelope
// it receives; HTTPFetcher requests missing records over HTTP on behalf
// of stores with a fetch policy. Neither touches stores directly: all
// events re-enter through the engine queue.
package feed

import "github.com/roach88/livestore/internal/event"

// Enqueuer accepts envelopes for processing. *engine.Engine implements
// it. Enqueue reports false once the consumer has stopped.
type Enqueuer interface {
	Enqueue(envs ...event.Envelope) bool
}
