// Package wire implements the primitive encoding shared by the surrogate
// byte contract: little-endian fixed-width numbers, uvarint lengths, zig-zag
// varints and tagged values.
//
// Reader errors are sticky. After the first failure every read returns a
// zero value and Err reports the original cause, so decoders can read a whole
// record and check once.
package wire

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Value tags.
const (
	TagAbsent  byte = 0
	TagNull    byte = 1
	TagBool    byte = 2
	TagInt32   byte = 3
	TagInt64   byte = 4
	TagFloat64 byte = 5
	TagString  byte = 6
	TagBytes   byte = 7
	TagTime    byte = 8
	TagGuid    byte = 9
)

// Writer appends encoded primitives to an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer with capacity for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Byte appends a single byte.
func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

// Uvarint appends an unsigned varint.
func (w *Writer) Uvarint(u uint64) { w.buf = binary.AppendUvarint(w.buf, u) }

// Varint appends a zig-zag signed varint.
func (w *Writer) Varint(i int64) { w.buf = binary.AppendVarint(w.buf, i) }

// Int appends a non-negative count or length.
func (w *Writer) Int(n int) { w.Uvarint(uint64(n)) }

// Bool appends 1 or 0.
func (w *Writer) Bool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// String appends a length-prefixed UTF-8 string.
func (w *Writer) String(s string) {
	w.Uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// Blob appends a length-prefixed byte slice.
func (w *Writer) Blob(b []byte) {
	w.Uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// Float64 appends the IEEE-754 bits in little-endian order.
func (w *Writer) Float64(f float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(f))
}

// Bits appends a bit array of n bits: n as uvarint, then (n+7)/8 bytes.
// Bit k lives in byte k/8 under mask 1<<(k%8).
func (w *Writer) Bits(bits []byte, n int) {
	w.Int(n)
	size := (n + 7) / 8
	if len(bits) >= size {
		w.buf = append(w.buf, bits[:size]...)
		return
	}
	w.buf = append(w.buf, bits...)
	for i := len(bits); i < size; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Absent appends the tag of an empty slot.
func (w *Writer) Absent() { w.buf = append(w.buf, TagAbsent) }

// Value appends a tagged canonical value. nil encodes as null.
func (w *Writer) Value(v any) error {
	switch x := v.(type) {
	case nil:
		w.Byte(TagNull)
	case bool:
		w.Byte(TagBool)
		w.Bool(x)
	case int32:
		w.Byte(TagInt32)
		w.Varint(int64(x))
	case int64:
		w.Byte(TagInt64)
		w.Varint(x)
	case float64:
		w.Byte(TagFloat64)
		w.Float64(x)
	case string:
		w.Byte(TagString)
		w.String(x)
	case []byte:
		w.Byte(TagBytes)
		w.Blob(x)
	case time.Time:
		b, err := x.MarshalBinary()
		if err != nil {
			return serrors.Wrap(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
				"time value cannot be encoded", err)
		}
		w.Byte(TagTime)
		w.Blob(b)
	case uuid.UUID:
		w.Byte(TagGuid)
		w.buf = append(w.buf, x[:]...)
	default:
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeTypeMismatch,
			"wire: unsupported value type %T", v)
	}
	return nil
}

// Reader decodes primitives from a byte slice.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader returns a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decode failure.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Offset returns the read position.
func (r *Reader) Offset() int { return r.off }

// Fail records err unless an earlier failure is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Failf records a DECODE error with the given code.
func (r *Reader) Failf(code, format string, args ...any) {
	r.Fail(serrors.Newf(serrors.ErrCategoryDecode, code, format, args...))
}

func (r *Reader) truncated(what string) {
	r.Failf(serrors.CodeTruncated, "wire: truncated %s at offset %d", what, r.off)
}

// Raw returns the next n bytes without copying.
func (r *Reader) Raw(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.truncated(what)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	b := r.Raw(1, "byte")
	if b == nil {
		return 0
	}
	return b[0]
}

// Uvarint reads an unsigned varint.
func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	u, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		if n == 0 {
			r.truncated("uvarint")
		} else {
			r.Failf(serrors.CodeCorruptStream, "wire: uvarint overflow at offset %d", r.off)
		}
		return 0
	}
	r.off += n
	return u
}

// Varint reads a zig-zag signed varint.
func (r *Reader) Varint() int64 {
	if r.err != nil {
		return 0
	}
	i, n := binary.Varint(r.data[r.off:])
	if n <= 0 {
		if n == 0 {
			r.truncated("varint")
		} else {
			r.Failf(serrors.CodeCorruptStream, "wire: varint overflow at offset %d", r.off)
		}
		return 0
	}
	r.off += n
	return i
}

// Int reads a non-negative int no larger than the unread byte count times
// perItem, which bounds allocations driven by corrupt counts. Pass perItem 0
// to skip the bound.
func (r *Reader) Int(perItem int) int {
	u := r.Uvarint()
	if r.err != nil {
		return 0
	}
	if u > math.MaxInt32 {
		r.Failf(serrors.CodeCorruptStream, "wire: count %d too large", u)
		return 0
	}
	n := int(u)
	if perItem > 0 && n > r.Remaining()/perItem+1 {
		r.truncated("sequence")
		return 0
	}
	return n
}

// Bool reads a byte that must be 0 or 1.
func (r *Reader) Bool() bool {
	b := r.Byte()
	if b > 1 {
		r.Failf(serrors.CodeCorruptStream, "wire: invalid bool byte %#x", b)
		return false
	}
	return b == 1
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	n := r.Int(0)
	return string(r.Raw(n, "string"))
}

// Blob reads a length-prefixed byte slice into a fresh copy.
func (r *Reader) Blob() []byte {
	n := r.Int(0)
	b := r.Raw(n, "bytes")
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

// Float64 reads eight little-endian bytes.
func (r *Reader) Float64() float64 {
	b := r.Raw(8, "float64")
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Bits reads a bit array written by Writer.Bits and returns the packed bytes
// and the length in bits.
func (r *Reader) Bits() ([]byte, int) {
	n := r.Int(0)
	b := r.Raw((n+7)/8, "bit array")
	if r.err != nil {
		return nil, 0
	}
	return append([]byte(nil), b...), n
}

// Value reads a tagged value. present is false for an absent slot.
func (r *Reader) Value() (v any, present bool) {
	tag := r.Byte()
	if r.err != nil {
		return nil, false
	}
	switch tag {
	case TagAbsent:
		return nil, false
	case TagNull:
		return nil, true
	case TagBool:
		v = r.Bool()
	case TagInt32:
		i := r.Varint()
		if i < math.MinInt32 || i > math.MaxInt32 {
			r.Failf(serrors.CodeCorruptStream, "wire: int32 value %d out of range", i)
		}
		v = int32(i)
	case TagInt64:
		v = r.Varint()
	case TagFloat64:
		v = r.Float64()
	case TagString:
		v = r.String()
	case TagBytes:
		v = r.Blob()
	case TagTime:
		b := r.Blob()
		if r.err != nil {
			return nil, false
		}
		var ts time.Time
		if err := ts.UnmarshalBinary(b); err != nil {
			r.Fail(serrors.Wrap(serrors.ErrCategoryDecode, serrors.CodeCorruptStream,
				"wire: invalid time value", err))
			return nil, false
		}
		return ts, true
	case TagGuid:
		b := r.Raw(16, "guid")
		if b == nil {
			return nil, false
		}
		var id uuid.UUID
		copy(id[:], b)
		return id, true
	default:
		r.Failf(serrors.CodeUnknownTag, "wire: unknown value tag %d at offset %d", tag, r.off-1)
	}
	if r.err != nil {
		return nil, false
	}
	return v, true
}
