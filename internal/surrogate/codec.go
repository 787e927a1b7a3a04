// Package surrogate captures a live dataset into plain descriptors, encodes
// them into a compact byte stream and rebuilds an equivalent dataset from
// that stream, preserving schema, constraints, relations, row change state,
// original and current values, and row and column errors.
//
// A typical round trip is Encode on the sending side and Decode on the
// receiving side. The descriptor types are exported for callers that need
// the two-phase RestoreSchema / RestoreData form, for example to restore into
// a pre-existing dataset.
package surrogate

import (
	"github.com/arkilian/surrogate/internal/compress"
	"github.com/arkilian/surrogate/internal/dataset"
	"github.com/arkilian/surrogate/internal/wire"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// initialBufferSize is the starting capacity of the encode buffer.
const initialBufferSize = 4 << 10

// Marshal encodes d. Encoding an unmodified capture twice yields identical
// bytes.
func Marshal(d *DatasetDescriptor) ([]byte, error) {
	if d == nil {
		return nil, serrors.NewNilArgument("dataset descriptor")
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	w := wire.NewWriter(initialBufferSize)
	if err := d.encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes a stream produced by Marshal. Truncated, corrupt or
// out-of-range input yields a DECODE error and no descriptor.
func Unmarshal(data []byte) (*DatasetDescriptor, error) {
	r := wire.NewReader(data)
	d := decodeDataset(r)
	if err := finish(r); err != nil {
		return nil, err
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// MarshalTable encodes a standalone table descriptor.
func MarshalTable(d *TableDescriptor) ([]byte, error) {
	if d == nil {
		return nil, serrors.NewNilArgument("table descriptor")
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	w := wire.NewWriter(initialBufferSize)
	if err := d.encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// UnmarshalTable decodes a stream produced by MarshalTable.
func UnmarshalTable(data []byte) (*TableDescriptor, error) {
	r := wire.NewReader(data)
	d := decodeTable(r)
	if err := finish(r); err != nil {
		return nil, err
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func finish(r *wire.Reader) error {
	if err := r.Err(); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return serrors.NewDecodeError(serrors.CodeCorruptStream, "trailing bytes after surrogate stream")
	}
	return nil
}

// Encode captures ds, encodes it and compresses the result.
func Encode(ds *dataset.Dataset) ([]byte, error) {
	d, err := CaptureDataset(ds)
	if err != nil {
		return nil, err
	}
	raw, err := Marshal(d)
	if err != nil {
		return nil, err
	}
	return compress.Compress(raw)
}

// Decode reverses Encode, returning a freshly restored dataset.
func Decode(data []byte) (*dataset.Dataset, error) {
	d, err := DecodeDescriptor(data)
	if err != nil {
		return nil, err
	}
	return d.Restore()
}

// DecodeDescriptor decompresses and decodes data without restoring it.
func DecodeDescriptor(data []byte) (*DatasetDescriptor, error) {
	raw, err := compress.Decompress(data)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

// EncodeTable captures a single table, encodes and compresses it.
func EncodeTable(t *dataset.Table) ([]byte, error) {
	d, err := CaptureTable(t)
	if err != nil {
		return nil, err
	}
	raw, err := MarshalTable(d)
	if err != nil {
		return nil, err
	}
	return compress.Compress(raw)
}

// DecodeTable reverses EncodeTable into a standalone table.
func DecodeTable(data []byte) (*dataset.Table, error) {
	raw, err := compress.Decompress(data)
	if err != nil {
		return nil, err
	}
	d, err := UnmarshalTable(raw)
	if err != nil {
		return nil, err
	}
	return d.ToTable()
}
