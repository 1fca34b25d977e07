package provider

import gonanoid "github.com/matoous/go-nanoid/v2"

// IDGenerator mints session ids.
type IDGenerator interface {
	NewID() (string, error)
}

// NanoIDGenerator generates 21-character URL-safe session ids.
//
// Thread-safety: NanoIDGenerator is stateless and safe for concurrent use.
type NanoIDGenerator struct{}

// NewID returns a new random id.
func (NanoIDGenerator) NewID() (string, error) {
	return gonanoid.New()
}
