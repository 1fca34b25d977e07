package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/session"
)

// Store is the session record store primitive.
//
// Implementations guarantee that Invoke runs its Mutator exactly once against
// a consistent snapshot of the entry, with no interleaving on the same key,
// and that the result replaces the entry atomically.
type Store interface {
	session.Invoker

	// Get returns a copy of the record at key. ok is false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (rec *session.Record, ok bool, err error)

	// Put writes rec unconditionally, clearing any lock, and refreshes expiry
	// to now+ttl. A diff-mode attribute envelope is merged into the stored one.
	Put(ctx context.Context, key string, rec *session.Record, ttl time.Duration) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// PurgeExpired deletes every expired record and returns how many were removed.
	PurgeExpired(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger zerolog.Logger
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		logger: zerolog.Nop(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used for expiry. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the backend logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open opens the named backend at path. The memory backend ignores path.
func Open(backend, path string, opts ...Option) (Store, error) {
	switch backend {
	case BackendSQLite:
		return OpenSQLite(path, opts...)
	case BackendPebble:
		return OpenPebble(path, opts...)
	case BackendMemory:
		return NewMemory(opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// entry is a stored record with its expiry. A zero expiresAt never expires.
type entry struct {
	rec       *session.Record
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e != nil && !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// live returns e, or nil when e is absent or expired.
func (e *entry) live(now time.Time) *entry {
	if e == nil || e.expired(now) {
		return nil
	}
	return e
}

func expiryAfter(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// expiryPolicy picks the expiry of an entry written by step.
type expiryPolicy struct {
	refresh bool
	ttl     time.Duration
}

// keepExpiry keeps an existing entry's expiry and derives one from the
// record's timeout for new entries.
var keepExpiry = expiryPolicy{}

func refreshExpiry(ttl time.Duration) expiryPolicy {
	return expiryPolicy{refresh: true, ttl: ttl}
}

// step runs m against the live part of cur. next is nil with write=true when
// the entry must be deleted.
func step(cur *entry, now time.Time, m session.Mutator, policy expiryPolicy) (next *entry, write bool, err error) {
	cur = cur.live(now)

	var rec *session.Record
	if cur != nil {
		rec = cur.rec.Clone()
	}

	out, write, err := m(rec)
	if err != nil || !write {
		return nil, false, err
	}
	if out == nil {
		return nil, true, nil
	}

	next = &entry{rec: out}
	switch {
	case policy.refresh:
		next.expiresAt = expiryAfter(now, policy.ttl)
	case cur != nil:
		next.expiresAt = cur.expiresAt
	default:
		next.expiresAt = expiryAfter(now, out.TTL())
	}
	return next, true, nil
}
