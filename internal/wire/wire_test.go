package wire

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

func TestValueRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.FixedZone("X", 3600))
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	values := []any{
		nil, true, false, int32(-7), int32(math.MaxInt32), int64(math.MinInt64),
		3.25, math.Inf(-1), "", "héllo", []byte{}, []byte{0, 1, 2}, ts, id,
	}

	w := NewWriter(64)
	for _, v := range values {
		require.NoError(t, w.Value(v))
	}
	w.Absent()

	r := NewReader(w.Bytes())
	for _, want := range values {
		got, present := r.Value()
		require.NoError(t, r.Err())
		assert.True(t, present)
		if wt, ok := want.(time.Time); ok {
			assert.True(t, wt.Equal(got.(time.Time)))
			continue
		}
		assert.Equal(t, want, got)
	}
	got, present := r.Value()
	assert.Nil(t, got)
	assert.False(t, present)
	assert.Zero(t, r.Remaining())
}

func TestUnsupportedValue(t *testing.T) {
	w := NewWriter(0)
	err := w.Value(uint8(1))
	assert.Equal(t, serrors.CodeTypeMismatch, serrors.GetCode(err))
	assert.Zero(t, w.Len())
}

func TestReaderStickyErrors(t *testing.T) {
	w := NewWriter(0)
	w.String("abcdef")
	data := w.Bytes()[:4]

	r := NewReader(data)
	assert.Equal(t, "", r.String())
	require.Error(t, r.Err())
	assert.Equal(t, serrors.CodeTruncated, serrors.GetCode(r.Err()))
	assert.Equal(t, serrors.ErrCategoryDecode, serrors.GetCategory(r.Err()))

	first := r.Err()
	assert.Zero(t, r.Uvarint())
	assert.Same(t, first, r.Err())
}

func TestReaderCorruptInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code string
	}{
		{"unknown tag", []byte{42}, serrors.CodeUnknownTag},
		{"bad bool", []byte{TagBool, 7}, serrors.CodeCorruptStream},
		{"short guid", []byte{TagGuid, 1, 2, 3}, serrors.CodeTruncated},
		{"short float", []byte{TagFloat64, 0, 0}, serrors.CodeTruncated},
		{"empty", nil, serrors.CodeTruncated},
		{"varint overflow", []byte{TagInt64, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, serrors.CodeCorruptStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			_, present := r.Value()
			assert.False(t, present)
			assert.Equal(t, tt.code, serrors.GetCode(r.Err()))
		})
	}
}

func TestInt32OutOfRange(t *testing.T) {
	w := NewWriter(0)
	w.Byte(TagInt32)
	w.Varint(math.MaxInt32 + 1)
	r := NewReader(w.Bytes())
	_, present := r.Value()
	assert.False(t, present)
	assert.Equal(t, serrors.CodeCorruptStream, serrors.GetCode(r.Err()))
}

func TestBits(t *testing.T) {
	w := NewWriter(0)
	w.Bits([]byte{0b1010_0101, 0b11}, 10)
	w.Bits(nil, 9)

	r := NewReader(w.Bytes())
	b, n := r.Bits()
	require.NoError(t, r.Err())
	assert.Equal(t, 10, n)
	assert.Equal(t, []byte{0b1010_0101, 0b11}, b)

	b, n = r.Bits()
	require.NoError(t, r.Err())
	assert.Equal(t, 9, n)
	assert.Equal(t, []byte{0, 0}, b)
}

func TestIntBoundsAllocation(t *testing.T) {
	w := NewWriter(0)
	w.Int(1 << 20)
	r := NewReader(w.Bytes())
	assert.Zero(t, r.Int(1))
	assert.Equal(t, serrors.CodeTruncated, serrors.GetCode(r.Err()))
}

func TestProperty_PrimitiveRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("varints, strings and floats decode to what was written", prop.ForAll(
		func(i int64, u uint64, s string, f float64, b bool) bool {
			w := NewWriter(0)
			w.Varint(i)
			w.Uvarint(u)
			w.String(s)
			w.Float64(f)
			w.Bool(b)

			r := NewReader(w.Bytes())
			ok := r.Varint() == i &&
				r.Uvarint() == u &&
				r.String() == s &&
				math.Float64bits(r.Float64()) == math.Float64bits(f) &&
				r.Bool() == b
			return ok && r.Err() == nil && r.Remaining() == 0
		},
		gen.Int64(),
		gen.UInt64(),
		gen.AnyString(),
		gen.Float64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
