package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sessionstate/internal/envelope"
)

// Mutator computes the next state of one store entry inside the store's atomic
// section. current is nil when the entry is absent and is owned by the mutator.
//
// Returning write=false leaves the entry untouched. Returning write=true with a
// nil next removes the entry. A non-nil error aborts without mutation.
type Mutator func(current *Record) (next *Record, write bool, err error)

// Invoker runs a Mutator atomically against one key.
type Invoker interface {
	Invoke(ctx context.Context, key string, m Mutator) error
}

// AcquireStatus is the outcome of an acquire attempt.
type AcquireStatus int

const (
	// Acquired means the caller now holds the lock and Record is populated.
	Acquired AcquireStatus = iota + 1

	// NotFound means there is no record for the key. Nothing was mutated.
	NotFound

	// AlreadyLocked means another holder has the lock. LockedSince is populated
	// and the attributes are not exposed.
	AlreadyLocked
)

func (s AcquireStatus) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case NotFound:
		return "not_found"
	case AlreadyLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// AcquireResult reports the outcome of Acquire.
type AcquireResult struct {
	Status AcquireStatus

	// Record is the locked record, set only when Status is Acquired.
	Record *Record

	// LockedSince is the held lock's timestamp, set only when Status is AlreadyLocked.
	LockedSince time.Time
}

// LockAge returns how long the lock has been held as seen from now.
// The timestamp comes from the acquiring node's clock, so under clock skew
// the age can be negative.
func (r AcquireResult) LockAge(now time.Time) time.Duration {
	if r.Status != AlreadyLocked {
		return 0
	}
	return now.Sub(r.LockedSince)
}

// Acquire returns a Mutator that locks an unlocked record for owner.
// The outcome is written to out.
//
//   - absent   -> NotFound, no mutation
//   - unlocked -> Locked(owner, token, now), Acquired with the locked record
//   - locked   -> AlreadyLocked(since), no mutation
func Acquire(owner uuid.UUID, token int64, now time.Time, out *AcquireResult) Mutator {
	return func(cur *Record) (*Record, bool, error) {
		if cur == nil {
			*out = AcquireResult{Status: NotFound}
			return nil, false, nil
		}

		if cur.Locked() {
			*out = AcquireResult{Status: AlreadyLocked, LockedSince: cur.Lock.Since}
			return nil, false, nil
		}

		next := cur.WithLock(Lock{Owner: owner, Token: token, Since: now})
		*out = AcquireResult{Status: Acquired, Record: next.Clone()}
		return next, true, nil
	}
}

// Release returns a Mutator that unlocks a record held by (owner, token).
//
//   - absent or no attributes -> no-op
//   - unlocked                -> InvalidState
//   - owner or token differs  -> OwnershipMismatch
//   - otherwise               -> unlocked, attributes unchanged
func Release(owner uuid.UUID, token int64) Mutator {
	return func(cur *Record) (*Record, bool, error) {
		if cur == nil || len(cur.Attributes) == 0 {
			return nil, false, nil
		}

		if !cur.Locked() {
			return nil, false, NewInvalidStateError()
		}

		if cur.Lock.Owner != owner || cur.Lock.Token != token {
			return nil, false, NewOwnershipMismatchError(*cur.Lock, Lock{Owner: owner, Token: token})
		}

		return cur.Unlocked(), true, nil
	}
}

// Write returns a Mutator that stores incoming and forces the record unlocked
// regardless of the current lock. It is the only way to drop a lock without
// presenting its token.
//
// A full attribute envelope replaces the stored one. A diff envelope is merged
// into the stored full envelope; a diff against an absent record fails with a
// format mismatch.
func Write(incoming *Record) Mutator {
	return func(cur *Record) (*Record, bool, error) {
		next := incoming.Unlocked()

		mode, err := envelope.PeekMode(incoming.Attributes)
		if err != nil {
			return nil, false, err
		}

		if mode == envelope.ModeFull {
			if _, err := envelope.ReadFull(incoming.Attributes); err != nil {
				return nil, false, err
			}
			return next, true, nil
		}

		if cur == nil || len(cur.Attributes) == 0 {
			return nil, false, &envelope.FormatError{
				Offset: 0,
				Reason: "diff envelope without a stored snapshot",
				Err:    envelope.ErrFormatMismatch,
			}
		}
		merged, err := envelope.Merge(cur.Attributes, incoming.Attributes)
		if err != nil {
			return nil, false, err
		}
		next.Attributes = merged
		return next, true, nil
	}
}

// AcquireLock runs Acquire against key through inv.
func AcquireLock(ctx context.Context, inv Invoker, key string, owner uuid.UUID, token int64, now time.Time) (AcquireResult, error) {
	var res AcquireResult
	if err := inv.Invoke(ctx, key, Acquire(owner, token, now, &res)); err != nil {
		return AcquireResult{}, err
	}
	return res, nil
}

// ReleaseLock runs Release against key through inv.
func ReleaseLock(ctx context.Context, inv Invoker, key string, owner uuid.UUID, token int64) error {
	return withKey(inv.Invoke(ctx, key, Release(owner, token)), key)
}
