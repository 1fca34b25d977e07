// Package session defines the stored session record and the exclusive-lock
// protocol that runs against it.
//
// A Record combines an encoded attribute envelope with an optional lock. The lock
// fields are all present or all absent; the Lock pointer enforces this by construction.
//
// The protocol operations (Acquire, Release, Write) are Mutators: pure functions
// of the current record that a store runs inside its per-key atomic section.
// A store guarantees each Mutator sees a consistent snapshot, runs exactly once,
// and that its result replaces the entry atomically.
//
// # Lock tokens
//
// Tokens come from a process-wide monotonic counter (NextToken). Tokens minted by
// different nodes are not comparable, which is fine: a release only ever compares
// the presented (owner, token) pair against the pair stored by the same lock's acquire.
package session
