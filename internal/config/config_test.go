package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "sessionstate.db", cfg.Path)
	assert.Equal(t, "", cfg.ApplicationID)
	assert.Equal(t, 20, cfg.Timeout)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "@every 1m", cfg.PurgeEvery)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
backend:       "pebble"
path:          "/var/lib/sessions"
applicationId: "shop"
nodeId:        "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
timeout:       45
log: level: "debug"
`), "test.cue")
	require.NoError(t, err)

	assert.Equal(t, "pebble", cfg.Backend)
	assert.Equal(t, "/var/lib/sessions", cfg.Path)
	assert.Equal(t, "shop", cfg.ApplicationID)
	assert.Equal(t, 45, cfg.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", cfg.Node().String())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown backend", `backend: "redis"`},
		{"negative timeout", `timeout: -1`},
		{"unknown field", `colour: "blue"`},
		{"bad level", `log: level: "loud"`},
		{"bad node id", `nodeId: "node-1"`},
		{"syntax", `backend: `},
		{"sqlite without path", `path: ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			require.Error(t, err)
		})
	}
}

func TestParse_MemoryAllowsEmptyPath(t *testing.T) {
	cfg, err := Parse([]byte(`backend: "memory", path: ""`), "mem.cue")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionstate.cue")
	require.NoError(t, os.WriteFile(path, []byte(`timeout: 5`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Timeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestNode_RandomWhenUnset(t *testing.T) {
	var cfg Config
	a, b := cfg.Node(), cfg.Node()
	assert.NotEqual(t, a, b)
}

func TestError_Position(t *testing.T) {
	_, err := Parse([]byte("backend: \"redis\"\n"), "pos.cue")
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Message)
}
