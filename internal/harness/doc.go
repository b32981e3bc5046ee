// Package harness runs event scenarios against a registry and checks the
// resulting stores, indexes and readiness.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: late_parent
//	description: "A member arriving before its group is indexed once the group exists"
//	schema: ../schemas/groups   # CUE directory; omit for the built-in catalog
//	orphans: backfill           # registry default for indexes
//	events:
//	  - {store: GroupMember, type: create, data: {id: 10, groupId: 1, userId: 7}}
//	  - {store: Group, type: create, data: {id: 1, name: X}}
//	  - {store: Nope, type: create, data: {id: 1}, expect_error: UNKNOWN_STORE}
//	assertions:
//	  - {type: record, store: Group, id: 1, expect: {name: X}}
//	  - {type: members, index: members, parent: 1, ids: [10]}
//
// # Assertion Types
//
//   - record: the record exists and its fields include expect
//   - absent: no record with the id
//   - count: the store holds exactly count records
//   - members: the index lists exactly ids under parent, in id order
//   - lookup: the index resolves (parent, key) to id
//   - orphans: the index holds exactly ids as orphans
//   - ready: the store's readiness equals ready
//   - deferred: the store has exactly count deferred envelopes
//   - resync: a resync was requested for exactly stores
//
// # Deterministic Testing
//
// Events go through a real engine with a fresh logical clock, so seqs
// start at 1 and the trace, snapshot and digest are identical across
// runs. Golden snapshots are canonical JSON under testdata/golden.
package harness
