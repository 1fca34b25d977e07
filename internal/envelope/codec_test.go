package envelope

import (
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessionstate/internal/attrs"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func hexLine(b []byte) []byte {
	return []byte(hex.EncodeToString(b) + "\n")
}

// storedAB returns the decoded collection for a full envelope of [("A",1),("B",2)].
func storedAB(t *testing.T) (*Codec, *attrs.Collection) {
	t.Helper()
	codec := NewCodec(nil)

	fresh := attrs.New()
	fresh.Set("A", 1)
	fresh.Set("B", 2)
	full, err := codec.Encode(fresh)
	require.NoError(t, err)

	col, err := codec.Decode(full)
	require.NoError(t, err)
	return codec, col
}

func TestEncode_NewCollectionFull(t *testing.T) {
	codec := NewCodec(nil)
	c := attrs.New()
	c.Set("UserName", "Alice")

	b, err := codec.Encode(c)
	require.NoError(t, err)

	raw, err := ReadFull(b)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, "UserName", raw[0].Key)

	v, err := TypedCodec{}.DecodeValue(raw[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "Alice", v)

	newGolden(t).Assert(t, "new_collection_full", hexLine(b))
}

func TestEncode_NewCollectionAlwaysFull(t *testing.T) {
	c := attrs.New()
	assert.Equal(t, ModeFull, SelectMode(c))

	ops := []func(){
		func() { c.Set("a", 1) },
		func() { c.Set("b", []int{1}) },
		func() { c.Remove("a") },
		func() { c.Set("c", "x") },
		func() { c.Get("b") },
		func() { c.Remove("c") },
	}
	for i, op := range ops {
		op()
		assert.Equal(t, ModeFull, SelectMode(c), "after op %d", i)
	}
}

func TestEncode_ReadExemptGivesEmptyDiff(t *testing.T) {
	codec, c := storedAB(t)

	_, ok := c.Get("A")
	require.True(t, ok)

	b, err := codec.Encode(c)
	require.NoError(t, err)

	d, err := ReadDiff(b)
	require.NoError(t, err)
	assert.Empty(t, d.Upserts)
	assert.Empty(t, d.Removed)

	newGolden(t).Assert(t, "diff_read_only", hexLine(b))
}

func TestEncode_SetGivesDirtyEntry(t *testing.T) {
	codec, c := storedAB(t)
	c.Set("C", 3)

	b, err := codec.Encode(c)
	require.NoError(t, err)

	d, err := ReadDiff(b)
	require.NoError(t, err)
	require.Len(t, d.Upserts, 1)
	assert.Equal(t, "C", d.Upserts[0].Key)
	v, err := TypedCodec{}.DecodeValue(d.Upserts[0].Value)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Empty(t, d.Removed)

	newGolden(t).Assert(t, "diff_set", hexLine(b))
}

func TestEncode_RemoveGivesRemovedKey(t *testing.T) {
	codec, c := storedAB(t)
	c.Remove("A")

	b, err := codec.Encode(c)
	require.NoError(t, err)

	d, err := ReadDiff(b)
	require.NoError(t, err)
	assert.Empty(t, d.Upserts)
	assert.Equal(t, []string{"A"}, d.Removed)

	newGolden(t).Assert(t, "diff_remove", hexLine(b))
}

func TestEncode_CreatedAndRemovedKeyNotInRemoved(t *testing.T) {
	codec, c := storedAB(t)
	c.Set("tmp", 1)
	c.Remove("tmp")

	b, err := codec.Encode(c)
	require.NoError(t, err)
	d, err := ReadDiff(b)
	require.NoError(t, err)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Upserts)
}

func TestEncode_ResetAfterRemoveIsDirtyNotRemoved(t *testing.T) {
	codec, c := storedAB(t)
	c.Remove("A")
	c.Set("A", 9)

	b, err := codec.Encode(c)
	require.NoError(t, err)
	d, err := ReadDiff(b)
	require.NoError(t, err)
	assert.Empty(t, d.Removed)
	require.Len(t, d.Upserts, 1)
	assert.Equal(t, "A", d.Upserts[0].Key)
}

func TestEncode_FullModeTriggers(t *testing.T) {
	t.Run("clear", func(t *testing.T) {
		_, c := storedAB(t)
		c.Clear()
		assert.Equal(t, ModeFull, SelectMode(c))
	})
	t.Run("all dirty", func(t *testing.T) {
		_, c := storedAB(t)
		c.Set("A", 1)
		c.Set("B", 2)
		assert.Equal(t, ModeFull, SelectMode(c))
	})
	t.Run("empty snapshot", func(t *testing.T) {
		c := attrs.FromSnapshot(nil)
		assert.Equal(t, ModeFull, SelectMode(c))
	})
	t.Run("removed down to empty", func(t *testing.T) {
		_, c := storedAB(t)
		c.Remove("A")
		c.Remove("B")
		assert.Equal(t, ModeFull, SelectMode(c))
	})
	t.Run("partial dirty", func(t *testing.T) {
		_, c := storedAB(t)
		c.Set("A", 5)
		assert.Equal(t, ModeDiff, SelectMode(c))
	})
}

func TestRoundTrip_FullPreservesKeysValuesAndFlags(t *testing.T) {
	codec := NewCodec(nil)
	dec, _, err := apd.NewFromString("-3.14159")
	require.NoError(t, err)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 123, time.UTC)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	c := attrs.New()
	c.Set("int", 1)
	c.Set("str", "text")
	c.Set("time", ts)
	c.Set("id", id)
	c.Set("dec", *dec)
	c.Set("bytes", []byte{9, 8})
	c.Set("nil", nil)
	c.Set("i64", int64(math.MinInt64))

	b, err := codec.Encode(c)
	require.NoError(t, err)

	got, err := codec.Decode(b)
	require.NoError(t, err)
	assert.False(t, got.IsNew())
	assert.Equal(t, c.Keys(), got.Keys())

	for _, e := range got.Entries() {
		assert.True(t, e.Initial, e.Key)
		assert.False(t, e.Dirty, e.Key)
	}
	want := c.Entries()
	for i, e := range got.Entries() {
		if e.Key == "time" {
			assert.True(t, ts.Equal(e.Value.(time.Time)))
			continue
		}
		if e.Key == "dec" {
			gd := e.Value.(apd.Decimal)
			assert.Equal(t, 0, gd.Cmp(dec))
			continue
		}
		assert.Equal(t, want[i].Value, e.Value, e.Key)
	}
}

func TestDecode_DiffIsMismatch(t *testing.T) {
	codec, c := storedAB(t)
	c.Set("C", 3)
	b, err := codec.Encode(c)
	require.NoError(t, err)

	_, err = codec.Decode(b)
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.True(t, IsFormatMismatch(err))
}

func TestDecode_Malformed(t *testing.T) {
	codec := NewCodec(nil)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad mode", []byte{7, 0, 0, 0, 0}},
		{"truncated count", []byte{1, 0, 0}},
		{"negative count", []byte{1, 0xff, 0xff, 0xff, 0xff}},
		{"count beyond data", []byte{1, 2, 0, 0, 0}},
		{"truncated key", []byte{1, 1, 0, 0, 0, 5, 0, 0, 0, 'a'}},
		{"missing value", []byte{1, 1, 0, 0, 0, 1, 0, 0, 0, 'a'}},
		{"trailing bytes", []byte{1, 0, 0, 0, 0, 0xaa}},
		{"bad value tag", []byte{1, 1, 0, 0, 0, 1, 0, 0, 0, 'a', 1, 0, 0, 0, 0xfe}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.data)
			require.Error(t, err)
			assert.True(t, IsFormatError(err), "got %v", err)
			assert.False(t, IsFormatMismatch(err))
		})
	}
}

func TestWriter_CountOverflow(t *testing.T) {
	w := NewWriter(0)
	err := w.WriteCount(math.MaxInt32 + 1)
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.Equal(t, 0, w.Len(), "nothing written on overflow")

	off := w.Reserve()
	assert.Error(t, w.PatchCount(off, -1))
	assert.NoError(t, w.PatchCount(off, math.MaxInt32))
}

func TestWriter_ReserveAndPatch(t *testing.T) {
	w := NewWriter(0)
	_ = w.WriteByte(0xab)
	off := w.Reserve()
	require.NoError(t, w.WriteString("xyz"))
	w.PatchInt32(off, 42)

	r := NewReader(w.Bytes())
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), b)
	n, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(42), n)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "xyz", s)
	assert.Equal(t, 0, r.Remaining())
}

type failingCodec struct{}

func (failingCodec) EncodeValue(any) ([]byte, error) { return nil, assert.AnError }
func (failingCodec) DecodeValue([]byte) (any, error) { return nil, assert.AnError }

func TestEncode_ValueCodecErrorSurfaces(t *testing.T) {
	c := attrs.New()
	c.Set("k", 1)
	_, err := NewCodec(failingCodec{}).Encode(c)
	require.ErrorIs(t, err, assert.AnError)
}

func TestRoundTrip_NamedAndComplexValues(t *testing.T) {
	codec := NewCodec(nil)

	c := attrs.New()
	c.Set("role", role("admin"))
	c.Set("z", complex(1, 2))
	c.Set("cart", &cart{Items: []string{"apple"}, Total: 3})

	b, err := codec.Encode(c)
	require.NoError(t, err)
	got, err := codec.Decode(b)
	require.NoError(t, err)

	r, ok := got.Get("role")
	require.True(t, ok)
	assert.Equal(t, role("admin"), r)
	z, _ := got.Get("z")
	assert.Equal(t, complex(1, 2), z)
	assert.False(t, got.IsDirty(), "exempt reads stay clean")

	v, _ := got.Get("cart")
	require.IsType(t, &cart{}, v)
	assert.Equal(t, 3, v.(*cart).Total)
	assert.True(t, got.IsDirty(), "pointer reads mark dirty")
}

func TestEncode_UnregisteredNamedScalarFails(t *testing.T) {
	c := attrs.New()
	c.Set("lvl", level(2))
	_, err := NewCodec(nil).Encode(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"lvl"`)
}
