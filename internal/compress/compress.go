// Package compress wraps encoded surrogate payloads in the snappy framing
// format.
package compress

import (
	"bytes"
	"io"

	"github.com/golang/snappy"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Compress returns data encoded as a snappy stream. Empty input yields empty
// output. On failure no partial buffer is returned.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, serrors.Wrap(serrors.ErrCategoryCompression, serrors.CodeCompressFailed,
			"compress: write failed", err)
	}
	if err := w.Close(); err != nil {
		return nil, serrors.Wrap(serrors.ErrCategoryCompression, serrors.CodeCompressFailed,
			"compress: flush failed", err)
	}
	out := buf.Bytes()
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Decompress reverses Compress. Input that is not a valid snappy stream is
// reported as a corrupt-stream decode error.
func Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCategoryDecode, serrors.CodeCorruptStream,
			"compress: invalid snappy stream", err)
	}
	return out, nil
}
