package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/lock_contention.yaml")
	require.NoError(t, err)

	assert.Equal(t, "lock_contention", s.Name)
	require.Len(t, s.Flow, 11)
	assert.Equal(t, OpCreate, s.Flow[0].Op)
	assert.Equal(t, "web1", s.Flow[0].Node)
	require.Len(t, s.Flow[0].Items, 2)
	assert.Equal(t, Item{Key: "cart", Value: 2}, s.Flow[0].Items[1])
	assert.Equal(t, "3s", s.Flow[3].Expect.LockAge)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, []string{"user", "cart"}, s.Assertions[2].Expect.Keys)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "name: x\ndescription: y\nflwo: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			doc:  "description: y\nflow: [{op: purge}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			doc:  "name: x\nflow: [{op: purge}]\n",
			want: "description is required",
		},
		{
			name: "empty flow",
			doc:  "name: x\ndescription: y\n",
			want: "flow list is required",
		},
		{
			name: "unknown op",
			doc:  "name: x\ndescription: y\nflow: [{op: steal, session: s}]\n",
			want: `unknown op "steal"`,
		},
		{
			name: "missing session",
			doc:  "name: x\ndescription: y\nflow: [{op: acquire}]\n",
			want: "acquire requires session",
		},
		{
			name: "bad duration",
			doc:  "name: x\ndescription: y\nflow: [{op: advance, duration: soon}]\n",
			want: "advance needs a duration",
		},
		{
			name: "expect without outcome",
			doc:  "name: x\ndescription: y\nflow: [{op: get, session: s, expect: {keys: [a]}}]\n",
			want: "outcome is required",
		},
		{
			name: "unknown assertion",
			doc:  "name: x\ndescription: y\nflow: [{op: purge}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "final_state without session",
			doc:  "name: x\ndescription: y\nflow: [{op: purge}]\nassertions: [{type: final_state, expect: {}}]\n",
			want: "session is required for final_state",
		},
		{
			name: "trace_order without ops",
			doc:  "name: x\ndescription: y\nflow: [{op: purge}]\nassertions: [{type: trace_order}]\n",
			want: "ops list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755))

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	single, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, single)

	_, err = FindScenarios(filepath.Join(dir, "missing"))
	var nf *ScenarioNotFoundError
	require.ErrorAs(t, err, &nf)
}
