// Package config loads sessionstate configuration from CUE files validated
// against an embedded #Config schema.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/google/uuid"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	Backend       string    `json:"backend"`
	Path          string    `json:"path"`
	ApplicationID string    `json:"applicationId"`
	NodeID        string    `json:"nodeId"`
	Timeout       int       `json:"timeout"`
	Listen        string    `json:"listen"`
	PurgeEvery    string    `json:"purgeEvery"`
	Log           LogConfig `json:"log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Error reports an invalid configuration with its CUE position when known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the schema defaults.
func Default() (Config, error) {
	return Parse(nil, "defaults.cue")
}

// Load reads and validates the CUE file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates data against #Config and decodes it. Unset fields take
// their schema defaults; unknown fields are rejected.
func Parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) == 0 {
		data = []byte("{}")
	}
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks constraints the schema does not express.
func (c Config) Validate() error {
	if c.NodeID != "" {
		if _, err := uuid.Parse(c.NodeID); err != nil {
			return &Error{Message: fmt.Sprintf("nodeId %q is not a UUID", c.NodeID)}
		}
	}
	if c.Backend != "memory" && c.Path == "" {
		return &Error{Message: fmt.Sprintf("backend %q requires a path", c.Backend)}
	}
	return nil
}

// Node returns the configured node id, or a new UUIDv7 when unset.
func (c Config) Node() uuid.UUID {
	if c.NodeID == "" {
		return uuid.Must(uuid.NewV7())
	}
	return uuid.MustParse(c.NodeID)
}

// formatCUEError converts a CUE error to *Error using its first position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	e := &Error{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
