// Package harness replays session request scenarios against a provider and
// records a deterministic trace of every step.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: lock_contention
//	description: "Second node sees the lock held by the first"
//	application_id: shop
//	flow:
//	  - op: create
//	    node: web1
//	    session: s1
//	    items:
//	      - { key: user, value: alice }
//	  - op: acquire
//	    node: web1
//	    session: s1
//	    expect: { outcome: acquired, keys: [user] }
//	  - op: advance
//	    duration: 3s
//	  - op: acquire
//	    node: web2
//	    session: s1
//	    expect: { outcome: locked, lock_age: 3s }
//	assertions:
//	  - type: final_state
//	    session: s1
//	    expect: { exists: true, locked: true }
//
// # Operations
//
//   - create: write a new session with items (unlocked)
//   - acquire: exclusive read; the node keeps the working copy and lock id
//   - set, remove, clear: mutate the node's working copy
//   - write: write the working copy and release the lock
//   - release: release without writing, optionally with an explicit lock_id
//   - get: plain read
//   - delete: remove the session
//   - advance: move the clock forward by duration
//   - purge: delete expired sessions
//
// # Assertion Types
//
//   - trace_contains: a step with op (and optional session, outcome) ran
//   - trace_order: ops ran in the given order
//   - trace_count: op (with optional outcome) ran exactly count times
//   - final_state: the stored session matches exists, locked, keys and values
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory store with a deterministic
// clock, a private lock token clock starting at zero, and node identities
// derived from node names, so traces are stable for golden comparison.
package harness
