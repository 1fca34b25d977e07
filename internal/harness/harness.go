package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/envelope"
	"github.com/roach88/sessionstate/internal/provider"
	"github.com/roach88/sessionstate/internal/session"
	"github.com/roach88/sessionstate/internal/store"
	"github.com/roach88/sessionstate/internal/testutil"
)

// defaultTimeout is the create timeout in minutes when a step names none.
const defaultTimeout = 20

// nodeNamespace derives node identities from node names.
var nodeNamespace = uuid.MustParse("6f1c2d9e-8a53-4c1b-9f0e-5b7a3e2d4c10")

// NodeID returns the lock owner identity used for a scenario node name.
func NodeID(name string) uuid.UUID {
	return uuid.NewSHA1(nodeNamespace, []byte(name))
}

// Harness is the scenario execution engine. Each node is a provider sharing
// the store, clock and token clock, as separate processes sharing one
// backing store would.
type Harness struct {
	store     *store.Memory
	clock     *testutil.DeterministicClock
	tokens    *session.TokenClock
	appID     string
	providers map[string]*provider.Provider
	held      map[heldKey]*heldLock
	logger    zerolog.Logger
}

type heldKey struct {
	node    string
	session string
}

// heldLock is a node's working copy from a successful acquire.
type heldLock struct {
	data   *provider.StoreData
	lockID int64
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes store and provider logs to l. Runs are silent by default.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store. Step outcomes that differ
// from an expect clause, and failed assertions, are reported in Result.Errors.
// A returned error means the scenario could not be executed.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	clock := testutil.NewDeterministicClock()
	h := &Harness{
		clock:     clock,
		tokens:    session.NewTokenClock(),
		appID:     scenario.ApplicationID,
		providers: make(map[string]*provider.Provider),
		held:      make(map[heldKey]*heldLock),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.store = store.NewMemory(store.WithClock(clock.Now), store.WithLogger(h.logger))
	defer h.store.Close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		}
		ev = result.AddTrace(ev)
		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, ev) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
			}
		}
		h.logger.Debug().
			Int("step", i).
			Str("op", step.Op).
			Str("outcome", ev.Outcome).
			Msg("scenario step completed")
	}

	actx := &AssertionContext{
		Ctx:   ctx,
		Store: h.store,
		AppID: h.appID,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) provider(node string) *provider.Provider {
	if p, ok := h.providers[node]; ok {
		return p
	}
	p := provider.New(h.store, NodeID(node),
		provider.WithApplicationID(h.appID),
		provider.WithClock(h.clock.Now),
		provider.WithTokens(h.tokens),
		provider.WithLogger(h.logger),
	)
	h.providers[node] = p
	return p
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	node := step.Node
	if node == "" {
		node = DefaultNode
	}
	ev := TraceEvent{Op: step.Op, Session: step.Session}
	if step.Op != OpAdvance && step.Op != OpPurge {
		ev.Node = node
	}
	p := h.provider(node)
	key := heldKey{node: node, session: step.Session}

	switch step.Op {
	case OpCreate:
		timeout := step.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		data := p.CreateNewStoreData(nil, timeout)
		for _, it := range step.Items {
			data.Items.Set(it.Key, it.Value)
		}
		ev.Mode = envelope.SelectMode(data.Items).String()
		ev.Keys = data.Items.Keys()
		ev.Outcome = outcomeOf(p.SetAndReleaseItemExclusive(ctx, step.Session, data, 0, true))

	case OpAcquire:
		res, err := p.GetItemExclusive(ctx, step.Session)
		if err != nil {
			ev.Outcome = outcomeOf(err)
			break
		}
		ev.LockID = res.LockID
		switch {
		case res.Found():
			h.held[key] = &heldLock{data: res.Data, lockID: res.LockID}
			ev.Outcome = OutcomeAcquired
			ev.Keys = res.Data.Items.Keys()
		case res.Locked:
			ev.Outcome = OutcomeLocked
			ev.LockAge = res.LockAge.String()
		default:
			ev.Outcome = OutcomeNotFound
		}

	case OpSet, OpRemove, OpClear:
		held, ok := h.held[key]
		if !ok {
			return ev, fmt.Errorf("node %q holds no working copy of %q", node, step.Session)
		}
		items := held.data.Items
		switch step.Op {
		case OpSet:
			for _, it := range step.Items {
				items.Set(it.Key, it.Value)
			}
		case OpRemove:
			for _, k := range step.Keys {
				items.Remove(k)
			}
		case OpClear:
			items.Clear()
		}
		ev.Outcome = OutcomeOK
		ev.Keys = items.Keys()

	case OpWrite:
		held, ok := h.held[key]
		if !ok {
			return ev, fmt.Errorf("node %q holds no working copy of %q", node, step.Session)
		}
		delete(h.held, key)
		ev.LockID = held.lockID
		ev.Mode = envelope.SelectMode(held.data.Items).String()
		ev.Outcome = outcomeOf(p.SetAndReleaseItemExclusive(ctx, step.Session, held.data, held.lockID, false))

	case OpRelease:
		var lockID int64
		held, ok := h.held[key]
		if ok {
			lockID = held.lockID
		}
		if step.LockID != nil {
			lockID = *step.LockID
		}
		ev.LockID = lockID
		ev.Outcome = outcomeOf(p.ReleaseItemExclusive(ctx, step.Session, lockID))
		if ev.Outcome == OutcomeOK && ok && held.lockID == lockID {
			delete(h.held, key)
		}

	case OpGet:
		res, err := p.GetItem(ctx, step.Session)
		if err != nil {
			ev.Outcome = outcomeOf(err)
			break
		}
		switch {
		case res.Found():
			ev.Outcome = OutcomeOK
			ev.Keys = res.Data.Items.Keys()
		case res.Locked:
			ev.Outcome = OutcomeLocked
			ev.LockAge = res.LockAge.String()
		default:
			ev.Outcome = OutcomeNotFound
		}

	case OpDelete:
		ev.Outcome = outcomeOf(p.RemoveItem(ctx, step.Session, 0))

	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return ev, err
		}
		h.clock.Advance(d)
		ev.Outcome = OutcomeOK
		ev.Elapsed = h.clock.Elapsed().String()

	case OpPurge:
		n, err := p.PurgeExpired(ctx)
		ev.Outcome = outcomeOf(err)
		ev.Purged = n

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}
	return ev, nil
}

// outcomeOf maps an operation error to its trace outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var serr *session.Error
	if errors.As(err, &serr) {
		return string(serr.Code)
	}
	if envelope.IsFormatMismatch(err) {
		return "FORMAT_MISMATCH"
	}
	if envelope.IsFormatError(err) {
		return "FORMAT_ERROR"
	}
	return OutcomeError
}

func checkExpect(want *Expect, ev TraceEvent) []string {
	var errs []string
	if want.Outcome != ev.Outcome {
		errs = append(errs, fmt.Sprintf("expected outcome %q, got %q", want.Outcome, ev.Outcome))
	}
	if want.Keys != nil && !stringsEqual(want.Keys, ev.Keys) {
		errs = append(errs, fmt.Sprintf("expected keys %v, got %v", want.Keys, ev.Keys))
	}
	if want.LockAge != "" && want.LockAge != ev.LockAge {
		errs = append(errs, fmt.Sprintf("expected lock age %s, got %q", want.LockAge, ev.LockAge))
	}
	if want.Mode != "" && want.Mode != ev.Mode {
		errs = append(errs, fmt.Sprintf("expected mode %s, got %q", want.Mode, ev.Mode))
	}
	return errs
}

// stringsEqual treats nil and empty as equal.
func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
