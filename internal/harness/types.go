package harness

import "github.com/roach88/livestore/internal/value"

// TraceEntry is one processed envelope.
type TraceEntry struct {
	Seq      int64  `json:"seq"`
	Envelope string `json:"envelope"`       // e.g. "create Group#1"
	Error    string `json:"error,omitempty"` // Apply error, if any
	Code     string `json:"code,omitempty"`  // configuration error code, if any
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists the envelopes the engine processed, in seq order.
	Trace []TraceEntry `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Fatal is the configuration error that stopped the engine, if any.
	Fatal string `json:"fatal,omitempty"`

	// Resyncs lists the resync requests issued by resets.
	Resyncs [][]string `json:"resyncs,omitempty"`

	// Snapshot and Digest capture the final records.
	Snapshot value.Object `json:"snapshot"`
	Digest   string       `json:"digest"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
