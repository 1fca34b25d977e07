// Package attrs provides the per-session attribute collection with dirty tracking.
//
// A Collection is built either empty (a session that has never been stored) or from
// the entries of a decoded full snapshot. Request logic reads and mutates it through
// Get/Set/Remove/Clear; the envelope package then serializes only what changed.
//
// Invariants:
//   - Insertion order is the encode order.
//   - Every key in the index refers to the live entry at that position.
//   - Removed keys only ever name entries that existed in the original snapshot.
//
// A Collection is owned by a single request and is not safe for concurrent use.
package attrs
