// Package value provides the payload types carried by store records.
//
// Every field of a record holds a Value. The set of Value implementations
// is closed: Null, String, Int, Bool, Array and Object. Floats are rejected
// at every decoding boundary so that folding a sequence of payloads and
// hashing the result is deterministic.
//
// This package imports nothing internal. Records, events, the journal and
// the harness all build on it.
package value
