package session

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Lock identifies the holder of an exclusive session lock.
type Lock struct {
	// Owner is the node that acquired the lock.
	Owner uuid.UUID

	// Token is the fencing token minted for this acquire.
	Token int64

	// Since is the acquiring caller's clock at acquire time.
	Since time.Time
}

// Record is the unit stored per session key.
type Record struct {
	// Attributes is an encoded attribute envelope. Stored records always hold
	// a full envelope; a diff is only ever in flight toward the store.
	Attributes []byte

	// StaticObjects is an opaque blob owned by the host application.
	StaticObjects []byte

	// Timeout is the session timeout in minutes. Zero disables expiry.
	Timeout int

	// Lock is nil when the record is unlocked.
	Lock *Lock
}

// Locked reports whether the record holds a lock.
func (r *Record) Locked() bool {
	return r.Lock != nil
}

// TTL returns the store time-to-live derived from Timeout.
func (r *Record) TTL() time.Duration {
	if r.Timeout <= 0 {
		return 0
	}
	return time.Duration(r.Timeout) * time.Minute
}

// Clone returns a deep copy of r. Clone of nil is nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		Attributes:    bytes.Clone(r.Attributes),
		StaticObjects: bytes.Clone(r.StaticObjects),
		Timeout:       r.Timeout,
	}
	if r.Lock != nil {
		l := *r.Lock
		out.Lock = &l
	}
	return out
}

// Unlocked returns a copy of r without lock information.
func (r *Record) Unlocked() *Record {
	out := r.Clone()
	out.Lock = nil
	return out
}

// WithLock returns a copy of r holding l.
func (r *Record) WithLock(l Lock) *Record {
	out := r.Clone()
	out.Lock = &l
	return out
}
