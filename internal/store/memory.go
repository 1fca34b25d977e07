package store

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/session"
)

// Memory keeps session records in a concurrent map. Invoke runs inside
// MapOf.Compute, which holds the key's bucket lock for the duration.
//
// Records are cloned on the way in and out; callers never share a record
// with the map.
type Memory struct {
	m      *xsync.MapOf[string, *entry]
	now    func() time.Time
	logger zerolog.Logger
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		m:      xsync.NewMapOf[string, *entry](),
		now:    o.now,
		logger: o.logger,
	}
}

// Close is a no-op.
func (s *Memory) Close() error {
	return nil
}

// Len returns the number of stored records, including expired ones not yet purged.
func (s *Memory) Len() int {
	return s.m.Size()
}

// Get returns the live record at key.
func (s *Memory) Get(_ context.Context, key string) (*session.Record, bool, error) {
	e, ok := s.m.Load(key)
	if !ok {
		return nil, false, nil
	}
	e = e.live(s.now())
	if e == nil {
		return nil, false, nil
	}
	return e.rec.Clone(), true, nil
}

// Put writes rec unconditionally inside Compute.
func (s *Memory) Put(ctx context.Context, key string, rec *session.Record, ttl time.Duration) error {
	return s.mutate(ctx, key, session.Write(rec), refreshExpiry(ttl))
}

// Invoke runs m inside Compute.
func (s *Memory) Invoke(ctx context.Context, key string, m session.Mutator) error {
	return s.mutate(ctx, key, m, keepExpiry)
}

// Remove deletes key.
func (s *Memory) Remove(_ context.Context, key string) error {
	s.m.Delete(key)
	return nil
}

// PurgeExpired deletes every expired record.
func (s *Memory) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now()
	purged := 0
	s.m.Range(func(key string, e *entry) bool {
		if !e.expired(now) {
			return true
		}
		s.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
			if !loaded {
				return nil, true
			}
			if old.expired(now) {
				purged++
				return nil, true
			}
			return old, false
		})
		return ctx.Err() == nil
	})

	s.logger.Debug().Int("purged", purged).Msg("purged expired sessions")
	return purged, ctx.Err()
}

func (s *Memory) mutate(ctx context.Context, key string, m session.Mutator, policy expiryPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	var stepErr error
	s.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		next, write, err := step(old, now, m, policy)
		if err != nil || !write {
			stepErr = err
			// Keep what was there; an absent key stays absent.
			return old, !loaded
		}
		if next == nil {
			return nil, true
		}
		return next, false
	})
	return stepErr
}
