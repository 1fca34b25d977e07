// Package provider implements the per-request session state lifecycle on top
// of a store: plain and exclusive reads, write-and-release, explicit release,
// removal and creation.
//
// A typical request runs GetItemExclusive, mutates the returned StoreData
// items, then SetAndReleaseItemExclusive. The write sends a diff envelope when
// only some entries changed; the store merges it into the stored snapshot.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/attrs"
	"github.com/roach88/sessionstate/internal/envelope"
	"github.com/roach88/sessionstate/internal/metrics"
	"github.com/roach88/sessionstate/internal/session"
	"github.com/roach88/sessionstate/internal/store"
)

// Operation names used in logs and metrics.
const (
	OpGetItem                    = "get_item"
	OpGetItemExclusive           = "get_item_exclusive"
	OpReleaseItemExclusive       = "release_item_exclusive"
	OpSetAndReleaseItemExclusive = "set_and_release_item_exclusive"
	OpRemoveItem                 = "remove_item"
	OpCreateUninitializedItem    = "create_uninitialized_item"
	OpPurgeExpired               = "purge_expired"
)

// StoreData is the decoded session a request works on.
type StoreData struct {
	// Items are the session attributes. Mutations are tracked for the diff write.
	Items *attrs.Collection

	// StaticObjects is an opaque application blob.
	StaticObjects []byte

	// Timeout is the session timeout in minutes.
	Timeout int
}

// ItemResult is the outcome of GetItem and GetItemExclusive.
//
//   - Data != nil           session found (and locked by the caller for exclusive reads)
//   - Data == nil && Locked another holder has the lock; LockAge is set
//   - Data == nil && !Locked no such session
type ItemResult struct {
	Data    *StoreData
	Locked  bool
	LockAge time.Duration

	// LockID is the fencing token minted by GetItemExclusive. Pass it back to
	// ReleaseItemExclusive. Zero for GetItem.
	LockID int64
}

// Found reports whether the session data was returned.
func (r ItemResult) Found() bool {
	return r.Data != nil
}

// Provider runs session lifecycle operations against a store.
//
// Thread-safety: Provider is safe for concurrent use. StoreData values it
// returns are owned by the caller and must not be shared across requests.
type Provider struct {
	store  store.Store
	node   uuid.UUID
	appID  string
	now    func() time.Time
	tokens *session.TokenClock
	codec  *envelope.Codec
	ids    IDGenerator
	logger zerolog.Logger
	m      *metrics.Metrics
}

// Option configures a Provider.
type Option func(*Provider)

// WithApplicationID sets the key discriminator.
func WithApplicationID(id string) Option {
	return func(p *Provider) {
		p.appID = id
	}
}

// WithClock sets the clock used for lock timestamps. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTokens sets the lock token clock. Defaults to the process-wide clock.
func WithTokens(c *session.TokenClock) Option {
	return func(p *Provider) {
		if c != nil {
			p.tokens = c
		}
	}
}

// WithValueCodec sets the attribute value codec. Defaults to envelope.TypedCodec.
func WithValueCodec(vc envelope.ValueCodec) Option {
	return func(p *Provider) {
		p.codec = envelope.NewCodec(vc)
	}
}

// WithIDGenerator sets the session id generator. Defaults to NanoIDGenerator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Provider) {
		if g != nil {
			p.ids = g
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithMetrics sets the metrics sink. Defaults to none.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) {
		p.m = m
	}
}

// New creates a provider acting as node against st.
func New(st store.Store, node uuid.UUID, opts ...Option) *Provider {
	p := &Provider{
		store:  st,
		node:   node,
		now:    time.Now,
		tokens: session.ProcessTokens(),
		codec:  envelope.NewCodec(nil),
		ids:    NanoIDGenerator{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Node returns the lock owner identity of this provider.
func (p *Provider) Node() uuid.UUID {
	return p.node
}

// Key returns the store key for a session id.
func (p *Provider) Key(id string) string {
	return session.Key(p.appID, id)
}

// NewSessionID mints a new session id.
func (p *Provider) NewSessionID() (string, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	return id, nil
}

// GetItem reads a session without locking it. A locked session returns
// Locked with its lock age and no data.
func (p *Provider) GetItem(ctx context.Context, id string) (ItemResult, error) {
	started := time.Now()
	log := p.opLogger(OpGetItem, id)

	rec, ok, err := p.store.Get(ctx, p.Key(id))
	if err != nil {
		return ItemResult{}, p.fail(OpGetItem, log, started, err)
	}
	if !ok {
		log.Debug().Msg("session not found")
		p.m.ObserveOperation(OpGetItem, metrics.OutcomeNotFound, started)
		return ItemResult{}, nil
	}
	if rec.Locked() {
		age := p.now().UTC().Sub(rec.Lock.Since)
		log.Debug().Dur("lock_age", age).Msg("session locked")
		p.m.ObserveOperation(OpGetItem, metrics.OutcomeLocked, started)
		return ItemResult{Locked: true, LockAge: age}, nil
	}

	data, err := p.decode(rec)
	if err != nil {
		return ItemResult{}, p.fail(OpGetItem, log, started, err)
	}
	log.Debug().Int("items", data.Items.Len()).Msg("session found")
	p.m.ObserveOperation(OpGetItem, metrics.OutcomeOK, started)
	return ItemResult{Data: data}, nil
}

// GetItemExclusive locks a session and returns its data. It never waits: a
// session held by someone else returns Locked with the lock age.
func (p *Provider) GetItemExclusive(ctx context.Context, id string) (ItemResult, error) {
	started := time.Now()
	log := p.opLogger(OpGetItemExclusive, id)

	token := p.tokens.Next()
	now := p.now().UTC()
	res, err := session.AcquireLock(ctx, p.store, p.Key(id), p.node, token, now)
	if err != nil {
		return ItemResult{}, p.fail(OpGetItemExclusive, log, started, err)
	}

	switch res.Status {
	case session.NotFound:
		log.Debug().Msg("session not found")
		p.m.ObserveOperation(OpGetItemExclusive, metrics.OutcomeNotFound, started)
		return ItemResult{LockID: token}, nil

	case session.AlreadyLocked:
		age := res.LockAge(now)
		log.Debug().Dur("lock_age", age).Msg("session already locked")
		p.m.ObserveContention(age)
		p.m.ObserveOperation(OpGetItemExclusive, metrics.OutcomeLocked, started)
		return ItemResult{Locked: true, LockAge: age, LockID: token}, nil
	}

	data, err := p.decode(res.Record)
	if err != nil {
		return ItemResult{}, p.fail(OpGetItemExclusive, log, started, err)
	}
	log.Debug().Int64("lock_id", token).Msg("session locked for request")
	p.m.ObserveOperation(OpGetItemExclusive, metrics.OutcomeOK, started)
	return ItemResult{Data: data, LockID: token}, nil
}

// ReleaseItemExclusive releases a lock taken by GetItemExclusive without
// writing data. A lockID that no longer matches fails with an ownership mismatch.
func (p *Provider) ReleaseItemExclusive(ctx context.Context, id string, lockID int64) error {
	started := time.Now()
	log := p.opLogger(OpReleaseItemExclusive, id)

	if err := session.ReleaseLock(ctx, p.store, p.Key(id), p.node, lockID); err != nil {
		return p.fail(OpReleaseItemExclusive, log, started, err)
	}
	log.Debug().Int64("lock_id", lockID).Msg("lock released")
	p.m.ObserveOperation(OpReleaseItemExclusive, metrics.OutcomeOK, started)
	return nil
}

// SetAndReleaseItemExclusive writes data and clears the lock unconditionally.
// Changed entries are sent as a diff unless the collection requires a full
// write. lockID and newItem are accepted for the request lifecycle but do not
// affect the write.
func (p *Provider) SetAndReleaseItemExclusive(ctx context.Context, id string, data *StoreData, lockID int64, newItem bool) error {
	started := time.Now()
	log := p.opLogger(OpSetAndReleaseItemExclusive, id)

	if err := p.put(ctx, id, data); err != nil {
		return p.fail(OpSetAndReleaseItemExclusive, log, started, err)
	}
	log.Debug().Int64("lock_id", lockID).Bool("new_item", newItem).Msg("session written")
	p.m.ObserveOperation(OpSetAndReleaseItemExclusive, metrics.OutcomeOK, started)
	return nil
}

// RemoveItem deletes a session regardless of its lock.
func (p *Provider) RemoveItem(ctx context.Context, id string, lockID int64) error {
	started := time.Now()
	log := p.opLogger(OpRemoveItem, id)

	if err := p.store.Remove(ctx, p.Key(id)); err != nil {
		return p.fail(OpRemoveItem, log, started, err)
	}
	log.Debug().Int64("lock_id", lockID).Msg("session removed")
	p.m.ObserveOperation(OpRemoveItem, metrics.OutcomeOK, started)
	return nil
}

// ResetItemTimeout is a no-op: every write already refreshes expiry.
func (p *Provider) ResetItemTimeout(ctx context.Context, id string) error {
	return nil
}

// CreateNewStoreData returns empty session data for a new session.
func (p *Provider) CreateNewStoreData(staticObjects []byte, timeout int) *StoreData {
	return &StoreData{
		Items:         attrs.New(),
		StaticObjects: staticObjects,
		Timeout:       timeout,
	}
}

// CreateUninitializedItem stores an empty, unlocked session under id.
func (p *Provider) CreateUninitializedItem(ctx context.Context, id string, timeout int) error {
	started := time.Now()
	log := p.opLogger(OpCreateUninitializedItem, id)

	if err := p.put(ctx, id, p.CreateNewStoreData(nil, timeout)); err != nil {
		return p.fail(OpCreateUninitializedItem, log, started, err)
	}
	log.Debug().Int("timeout", timeout).Msg("uninitialized session created")
	p.m.ObserveOperation(OpCreateUninitializedItem, metrics.OutcomeOK, started)
	return nil
}

// PurgeExpired deletes expired sessions from the store.
func (p *Provider) PurgeExpired(ctx context.Context) (int, error) {
	started := time.Now()
	log := p.logger.With().Str("op", OpPurgeExpired).Logger()

	n, err := p.store.PurgeExpired(ctx)
	if err != nil {
		return n, p.fail(OpPurgeExpired, log, started, err)
	}
	p.m.AddPurged(n)
	p.m.ObserveOperation(OpPurgeExpired, metrics.OutcomeOK, started)
	if n > 0 {
		log.Info().Int("purged", n).Msg("expired sessions purged")
	}
	return n, nil
}

func (p *Provider) put(ctx context.Context, id string, data *StoreData) error {
	if data == nil || data.Items == nil {
		return errors.New("session data without items")
	}

	mode := envelope.SelectMode(data.Items)
	b, err := p.codec.Encode(data.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	p.m.ObserveEnvelope(mode.String(), len(b))

	rec := &session.Record{
		Attributes:    b,
		StaticObjects: data.StaticObjects,
		Timeout:       data.Timeout,
	}
	return p.store.Put(ctx, p.Key(id), rec, rec.TTL())
}

func (p *Provider) decode(rec *session.Record) (*StoreData, error) {
	items := attrs.FromSnapshot(nil)
	if len(rec.Attributes) > 0 {
		var err error
		if items, err = p.codec.Decode(rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	}
	return &StoreData{
		Items:         items,
		StaticObjects: rec.StaticObjects,
		Timeout:       rec.Timeout,
	}, nil
}

func (p *Provider) opLogger(op, id string) zerolog.Logger {
	return p.logger.With().Str("op", op).Str("session_id", id).Logger()
}

func (p *Provider) fail(op string, log zerolog.Logger, started time.Time, err error) error {
	log.Warn().Err(err).Msg("session operation failed")
	p.m.ObserveOperation(op, metrics.OutcomeError, started)
	return fmt.Errorf("%s: %w", op, err)
}
