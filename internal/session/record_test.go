package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_CloneIsDeep(t *testing.T) {
	r := &Record{
		Attributes:    []byte{1, 2},
		StaticObjects: []byte{3},
		Timeout:       20,
		Lock:          &Lock{Owner: node1, Token: 4, Since: t0},
	}
	c := r.Clone()
	c.Attributes[0] = 9
	c.StaticObjects[0] = 9
	c.Lock.Token = 99

	assert.Equal(t, []byte{1, 2}, r.Attributes)
	assert.Equal(t, []byte{3}, r.StaticObjects)
	assert.Equal(t, int64(4), r.Lock.Token)
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestRecord_TTL(t *testing.T) {
	assert.Equal(t, 20*time.Minute, (&Record{Timeout: 20}).TTL())
	assert.Equal(t, time.Duration(0), (&Record{}).TTL())
	assert.Equal(t, time.Duration(0), (&Record{Timeout: -1}).TTL())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "abc", Key("", "abc"))
	assert.Equal(t, "app.abc", Key("app", "abc"))
	// Unescaped concatenation: these collide.
	assert.Equal(t, Key("a.b", "c"), Key("a", "b.c"))
}

func TestTokenClock_Monotonic(t *testing.T) {
	c := NewTokenClockAt(10)
	assert.Equal(t, int64(11), c.Next())
	assert.Equal(t, int64(12), c.Next())
	assert.Equal(t, int64(12), c.Current())

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, dup := seen.LoadOrStore(c.Next(), true); dup {
				t.Error("duplicate token")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(112), c.Current())
}

func TestNextToken_UsesProcessClock(t *testing.T) {
	before := ProcessTokens().Current()
	tok := NextToken()
	assert.Greater(t, tok, before)
}
