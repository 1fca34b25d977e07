package session

import "sync/atomic"

// TokenClock is a monotonic counter that mints lock tokens.
//
// Thread-safety: TokenClock is safe for concurrent use (atomic operations).
type TokenClock struct {
	seq atomic.Int64
}

// NewTokenClock creates a clock starting at 0. The first token is 1.
func NewTokenClock() *TokenClock {
	return &TokenClock{}
}

// NewTokenClockAt creates a clock whose next token is start+1.
func NewTokenClockAt(start int64) *TokenClock {
	c := &TokenClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next token. Every call returns a unique, increasing value.
func (c *TokenClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last token handed out without incrementing.
func (c *TokenClock) Current() int64 {
	return c.seq.Load()
}

var processTokens = NewTokenClock()

// NextToken mints a token from the process-wide clock.
func NextToken() int64 {
	return processTokens.Next()
}

// ProcessTokens returns the process-wide clock.
func ProcessTokens() *TokenClock {
	return processTokens
}
