package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessionstate/internal/attrs"
	"github.com/roach88/sessionstate/internal/envelope"
)

var (
	node1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	node2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	t0    = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
)

// mapInvoker runs mutators under one mutex against an in-test map.
type mapInvoker struct {
	mu   sync.Mutex
	recs map[string]*Record
}

func newMapInvoker() *mapInvoker {
	return &mapInvoker{recs: make(map[string]*Record)}
}

func (m *mapInvoker) Invoke(_ context.Context, key string, mut Mutator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, write, err := mut(m.recs[key].Clone())
	if err != nil || !write {
		return err
	}
	if next == nil {
		delete(m.recs, key)
		return nil
	}
	m.recs[key] = next
	return nil
}

func fullAttrs(t *testing.T, kv ...any) []byte {
	t.Helper()
	c := attrs.New()
	for i := 0; i+1 < len(kv); i += 2 {
		c.Set(kv[i].(string), kv[i+1])
	}
	b, err := envelope.NewCodec(nil).Encode(c)
	require.NoError(t, err)
	return b
}

func TestAcquire_AbsentIsNotFound(t *testing.T) {
	inv := newMapInvoker()

	res, err := AcquireLock(context.Background(), inv, "s1", node1, 5, t0)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Status)
	assert.Nil(t, res.Record)
	assert.Empty(t, inv.recs, "acquire on absent key must not create a record")
}

func TestAcquire_ThenContended(t *testing.T) {
	inv := newMapInvoker()
	inv.recs["s1"] = &Record{Attributes: fullAttrs(t, "A", 1), Timeout: 20}

	res, err := AcquireLock(context.Background(), inv, "s1", node1, 5, t0)
	require.NoError(t, err)
	require.Equal(t, Acquired, res.Status)
	require.NotNil(t, res.Record)
	assert.Equal(t, inv.recs["s1"].Attributes, res.Record.Attributes)

	held := inv.recs["s1"].Lock
	require.NotNil(t, held)
	assert.Equal(t, Lock{Owner: node1, Token: 5, Since: t0}, *held)

	t1 := t0.Add(3 * time.Second)
	res, err = AcquireLock(context.Background(), inv, "s1", node2, 6, t1)
	require.NoError(t, err)
	assert.Equal(t, AlreadyLocked, res.Status)
	assert.True(t, t0.Equal(res.LockedSince))
	assert.Nil(t, res.Record, "attributes are not exposed while locked")
	assert.Equal(t, 3*time.Second, res.LockAge(t1))

	assert.Equal(t, Lock{Owner: node1, Token: 5, Since: t0}, *inv.recs["s1"].Lock, "losing acquire leaves the lock")
}

func TestRelease_FencingRejectsStaleHolder(t *testing.T) {
	inv := newMapInvoker()
	stored := fullAttrs(t, "A", 1)
	inv.recs["s1"] = &Record{Attributes: stored}

	_, err := AcquireLock(context.Background(), inv, "s1", node1, 5, t0)
	require.NoError(t, err)

	err = ReleaseLock(context.Background(), inv, "s1", node2, 6)
	require.Error(t, err)
	assert.True(t, IsOwnershipMismatch(err))
	assert.False(t, IsInvalidState(err))
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "s1", se.Key)
	assert.Equal(t, "lock owner check failed", se.Message)
	require.True(t, inv.recs["s1"].Locked(), "failed release keeps the lock")

	err = ReleaseLock(context.Background(), inv, "s1", node1, 5)
	require.NoError(t, err)
	assert.False(t, inv.recs["s1"].Locked())
	assert.Equal(t, stored, inv.recs["s1"].Attributes)
}

func TestRelease_SameOwnerStaleToken(t *testing.T) {
	inv := newMapInvoker()
	inv.recs["s1"] = &Record{Attributes: fullAttrs(t, "A", 1)}

	_, err := AcquireLock(context.Background(), inv, "s1", node1, 9, t0)
	require.NoError(t, err)

	err = ReleaseLock(context.Background(), inv, "s1", node1, 8)
	require.Error(t, err)
	assert.True(t, IsOwnershipMismatch(err))
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lock token check failed", se.Message)
	assert.Equal(t, "9", se.Details["held_token"])
	assert.Equal(t, "8", se.Details["presented_token"])
}

func TestRelease_Unlocked(t *testing.T) {
	inv := newMapInvoker()
	inv.recs["s1"] = &Record{Attributes: fullAttrs(t)}

	err := ReleaseLock(context.Background(), inv, "s1", node1, 1)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
}

func TestRelease_AbsentOrEmptyIsNoop(t *testing.T) {
	inv := newMapInvoker()
	require.NoError(t, ReleaseLock(context.Background(), inv, "missing", node1, 1))

	inv.recs["empty"] = &Record{Lock: &Lock{Owner: node2, Token: 3, Since: t0}}
	require.NoError(t, ReleaseLock(context.Background(), inv, "empty", node1, 1))
	assert.True(t, inv.recs["empty"].Locked(), "no-op leaves record untouched")
}

func TestWrite_ClearsLockWithoutToken(t *testing.T) {
	inv := newMapInvoker()
	inv.recs["s1"] = &Record{Attributes: fullAttrs(t, "A", 1), Lock: &Lock{Owner: node2, Token: 77, Since: t0}}

	next := &Record{Attributes: fullAttrs(t, "B", 2), StaticObjects: []byte("static"), Timeout: 5, Lock: &Lock{Owner: node1}}
	require.NoError(t, inv.Invoke(context.Background(), "s1", Write(next)))

	got := inv.recs["s1"]
	assert.False(t, got.Locked())
	assert.Equal(t, next.Attributes, got.Attributes)
	assert.Equal(t, []byte("static"), got.StaticObjects)
	assert.Equal(t, 5, got.Timeout)
	assert.NotNil(t, next.Lock, "incoming record is not modified")
}

func TestWrite_MergesDiff(t *testing.T) {
	codec := envelope.NewCodec(nil)
	inv := newMapInvoker()
	inv.recs["s1"] = &Record{Attributes: fullAttrs(t, "A", 1, "B", 2), Lock: &Lock{Owner: node1, Token: 1, Since: t0}}

	c, err := codec.Decode(inv.recs["s1"].Attributes)
	require.NoError(t, err)
	c.Set("C", 3)
	c.Remove("A")
	diff, err := codec.Encode(c)
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(context.Background(), "s1", Write(&Record{Attributes: diff})))

	got, err := codec.Decode(inv.recs["s1"].Attributes)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, got.Keys())
	assert.False(t, inv.recs["s1"].Locked())
}

func TestWrite_DiffWithoutSnapshot(t *testing.T) {
	inv := newMapInvoker()
	diff := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0}

	err := inv.Invoke(context.Background(), "nope", Write(&Record{Attributes: diff}))
	require.Error(t, err)
	assert.True(t, envelope.IsFormatMismatch(err))
	assert.Empty(t, inv.recs)
}

func TestWrite_RejectsGarbage(t *testing.T) {
	inv := newMapInvoker()
	err := inv.Invoke(context.Background(), "s1", Write(&Record{Attributes: []byte{9}}))
	require.Error(t, err)
	assert.True(t, envelope.IsFormatError(err))
}

func TestAcquire_ConcurrentExactlyOneWins(t *testing.T) {
	inv := newMapInvoker()
	inv.recs["s1"] = &Record{Attributes: fullAttrs(t, "A", 1)}
	tokens := NewTokenClock()

	const n = 32
	results := make([]AcquireResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := AcquireLock(context.Background(), inv, "s1", uuid.New(), tokens.Next(), t0)
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	won := 0
	for _, r := range results {
		switch r.Status {
		case Acquired:
			won++
		case AlreadyLocked:
		default:
			t.Errorf("unexpected status %v", r.Status)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, int64(n), tokens.Current())
}

func TestAcquireStatus_String(t *testing.T) {
	assert.Equal(t, "acquired", Acquired.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "locked", AlreadyLocked.String())
	assert.Equal(t, "unknown", AcquireStatus(0).String())
}
