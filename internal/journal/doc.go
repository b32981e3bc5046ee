// Package journal provides an optional SQLite log of the envelopes an
// engine applied, grouped into sessions.
//
// The journal is a diagnostic collaborator, not a persistence layer: the
// stores are always rebuilt from a fresh snapshot. It answers "what did
// this client receive, in which order", and Replay feeds a session back
// through a registry to reproduce the resulting state.
//
// # Layout
//
//   - sessions: one row per engine run (UUIDv7 id, first seq, note)
//   - events: one row per envelope, keyed by (session_id, seq)
//
// # Determinism
//
//   - Ordering uses the engine's logical seq, never wall time
//   - Payloads are stored as canonical JSON, so equal payloads are
//     byte-identical and journals diff cleanly
//   - Every query orders by seq ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package journal
