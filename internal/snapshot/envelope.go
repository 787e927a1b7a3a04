// Package snapshot frames encoded datasets for storage and keeps an archive
// of them in a blob store.
package snapshot

import (
	"bytes"
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	serrors "github.com/arkilian/surrogate/internal/errors"
	"github.com/arkilian/surrogate/internal/wire"
)

// Envelope layout:
//
//	magic "DSUR" | version u8 | flags u8 | payload length uvarint |
//	murmur3-32 of payload u32 LE | payload
const (
	Magic   = "DSUR"
	Version = 1
)

// Flags describe how the payload was produced.
type Flags uint8

const (
	// FlagCompressed marks a snappy-compressed payload.
	FlagCompressed Flags = 1 << iota
)

const knownFlags = FlagCompressed

// Seal wraps payload in an envelope.
func Seal(payload []byte, flags Flags) []byte {
	w := wire.NewWriter(len(payload) + 16)
	w.Raw([]byte(Magic))
	w.Byte(Version)
	w.Byte(byte(flags))
	w.Int(len(payload))
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], murmur3.Sum32(payload))
	w.Raw(sum[:])
	w.Raw(payload)
	return w.Bytes()
}

// Open validates an envelope and returns its payload and flags. The payload
// aliases data.
func Open(data []byte) ([]byte, Flags, error) {
	r := wire.NewReader(data)
	if magic := r.Raw(len(Magic), "magic"); r.Err() == nil && !bytes.Equal(magic, []byte(Magic)) {
		return nil, 0, serrors.NewDecodeError(serrors.CodeCorruptStream, "snapshot: bad magic")
	}
	version := r.Byte()
	flags := Flags(r.Byte())
	n := r.Uvarint()
	sum := r.Raw(4, "checksum")
	if err := r.Err(); err != nil {
		return nil, 0, err
	}
	if version != Version {
		return nil, 0, serrors.Newf(serrors.ErrCategoryDecode, serrors.CodeUnsupportedVersion,
			"snapshot: unsupported envelope version %d", version)
	}
	if flags&^knownFlags != 0 {
		return nil, 0, serrors.Newf(serrors.ErrCategoryDecode, serrors.CodeCorruptStream,
			"snapshot: unknown flags %#x", byte(flags))
	}
	if n > uint64(r.Remaining()) {
		return nil, 0, serrors.Newf(serrors.ErrCategoryDecode, serrors.CodeTruncated,
			"snapshot: payload length %d but %d bytes follow", n, r.Remaining())
	}
	if n < uint64(r.Remaining()) {
		return nil, 0, serrors.NewDecodeError(serrors.CodeCorruptStream, "snapshot: trailing bytes after payload")
	}
	payload := r.Raw(int(n), "payload")
	if want := binary.LittleEndian.Uint32(sum); murmur3.Sum32(payload) != want {
		return nil, 0, serrors.NewDecodeError(serrors.CodeChecksumMismatch, "snapshot: payload checksum mismatch")
	}
	return payload, flags, nil
}
