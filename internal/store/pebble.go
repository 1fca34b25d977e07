package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/session"
)

const stripeCount = 64

var (
	sessionPrefix = []byte("s/")
	// sessionUpper is the first key after every "s/" key.
	sessionUpper = []byte("s0")
)

// Pebble stores session records in an embedded Pebble database.
//
// Pebble has no read-modify-write primitive, so Invoke and Put serialize on a
// mutex striped by key hash. Writes use pebble.Sync.
type Pebble struct {
	db      *pebble.DB
	now     func() time.Time
	logger  zerolog.Logger
	stripes [stripeCount]sync.Mutex
}

var _ Store = (*Pebble)(nil)

// OpenPebble opens or creates a Pebble database in dir.
func OpenPebble(dir string, opts ...Option) (*Pebble, error) {
	o := buildOptions(opts)

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", dir, err)
	}

	o.logger.Debug().Str("dir", dir).Msg("pebble store opened")
	return &Pebble{db: db, now: o.now, logger: o.logger}, nil
}

// Close closes the database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// PebbleMetrics returns the database's internal metrics.
func (p *Pebble) PebbleMetrics() *pebble.Metrics {
	return p.db.Metrics()
}

func storeKey(key string) []byte {
	out := make([]byte, 0, len(sessionPrefix)+len(key))
	out = append(out, sessionPrefix...)
	return append(out, key...)
}

func (p *Pebble) stripe(key string) *sync.Mutex {
	return &p.stripes[xxhash.Sum64String(key)%stripeCount]
}

// Get returns the live record at key.
func (p *Pebble) Get(ctx context.Context, key string) (*session.Record, bool, error) {
	e, err := p.read(key)
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	e = e.live(p.now())
	if e == nil {
		return nil, false, nil
	}
	return e.rec, true, nil
}

// Put writes rec unconditionally under the key's stripe.
func (p *Pebble) Put(ctx context.Context, key string, rec *session.Record, ttl time.Duration) error {
	if err := p.mutate(ctx, key, session.Write(rec), refreshExpiry(ttl)); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Invoke runs m under the key's stripe.
func (p *Pebble) Invoke(ctx context.Context, key string, m session.Mutator) error {
	return p.mutate(ctx, key, m, keepExpiry)
}

// Remove deletes key under its stripe.
func (p *Pebble) Remove(ctx context.Context, key string) error {
	mu := p.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	if err := p.db.Delete(storeKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// PurgeExpired scans every record and deletes the expired ones. Each
// candidate is re-checked under its stripe before deletion.
func (p *Pebble) PurgeExpired(ctx context.Context) (int, error) {
	now := p.now()

	candidates, err := p.expiredKeys(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}

	purged := 0
	for _, key := range candidates {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		deleted, err := p.deleteIfExpired(key, now)
		if err != nil {
			return purged, fmt.Errorf("purge expired: %w", err)
		}
		if deleted {
			purged++
		}
	}

	p.logger.Debug().Int("purged", purged).Msg("purged expired sessions")
	return purged, nil
}

func (p *Pebble) expiredKeys(ctx context.Context, now time.Time) ([]string, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: sessionPrefix,
		UpperBound: sessionUpper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := unmarshalEntry(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", iter.Key(), err)
		}
		if e.expired(now) {
			keys = append(keys, string(iter.Key()[len(sessionPrefix):]))
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *Pebble) deleteIfExpired(key string, now time.Time) (bool, error) {
	mu := p.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	e, err := p.read(key)
	if err != nil || !e.expired(now) {
		return false, err
	}
	if err := p.db.Delete(storeKey(key), pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pebble) mutate(ctx context.Context, key string, m session.Mutator, policy expiryPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := p.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := p.read(key)
	if err != nil {
		return err
	}

	next, write, err := step(cur, p.now(), m, policy)
	if err != nil || !write {
		return err
	}

	if next == nil {
		return p.db.Delete(storeKey(key), pebble.Sync)
	}
	value, err := marshalEntry(next)
	if err != nil {
		return err
	}
	return p.db.Set(storeKey(key), value, pebble.Sync)
}

// read returns the stored entry, expired or not, or nil when absent.
func (p *Pebble) read(key string) (*entry, error) {
	value, closer, err := p.db.Get(storeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// unmarshalEntry copies out of value before closer releases it.
	return unmarshalEntry(value)
}
