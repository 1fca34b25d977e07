// Package store runs session records behind the store primitive: Get, Put,
// Remove, and Invoke, which executes a session.Mutator exactly once against
// one key under that key's mutual exclusion.
//
// # Backends
//
//   - SQLite: durable single-file store. Invoke is a BEGIN IMMEDIATE
//     transaction around read, mutate and write.
//   - Pebble: embedded LSM store. Invoke holds a per-key striped mutex
//     around Get and Set.
//   - Memory: concurrent map. Invoke runs inside MapOf.Compute.
//
// # Expiry
//
// Put sets expiry to now+ttl (zero ttl never expires). Invoke keeps an
// existing record's expiry. Expired records read as absent everywhere and are
// deleted by PurgeExpired.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
