package metrics

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("get_item", OutcomeOK, time.Now())
	m.ObserveOperation("get_item", OutcomeOK, time.Now())
	m.ObserveOperation("get_item_exclusive", OutcomeLocked, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("get_item", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("get_item_exclusive", OutcomeLocked)))
}

func TestObserveContentionAndPurge(t *testing.T) {
	m := New()
	m.ObserveContention(2 * time.Second)
	m.ObserveContention(-time.Second)
	m.AddPurged(3)
	m.AddPurged(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LockContentionTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PurgedTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("x", OutcomeOK, time.Now())
	m.ObserveContention(time.Second)
	m.ObserveEnvelope("full", 10)
	m.AddPurged(1)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveEnvelope("diff", 9)
	m.ObserveOperation("remove_item", OutcomeOK, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "session_envelope_bytes")
	assert.Contains(t, body, `session_operations_total{op="remove_item",outcome="ok"} 1`)
}

type pebbleDB struct{ db *pebble.DB }

func (p pebbleDB) PebbleMetrics() *pebble.Metrics { return p.db.Metrics() }

func TestPebbleCollector(t *testing.T) {
	db, err := pebble.Open(filepath.Join(t.TempDir(), "db"), &pebble.Options{})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Set([]byte("k"), []byte("v"), pebble.Sync))

	m := New()
	require.NoError(t, m.RegisterPebble(pebbleDB{db}))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "pebble_memtable_size_bytes")
	assert.Contains(t, joined, "pebble_wal_bytes_written_total")
}
