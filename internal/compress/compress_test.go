package compress

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

func TestCompressEmpty(t *testing.T) {
	out, err := Compress(nil)
	require.NoError(t, err)
	assert.NotNil(t, out)

	back, err := Decompress(out)
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	data := bytes.Repeat([]byte("customer-order-"), 4096)
	out, err := Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(out), len(data)/4)

	back, err := Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestDecompressInvalid(t *testing.T) {
	_, err := Decompress([]byte("definitely not snappy"))
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCategoryDecode, serrors.GetCategory(err))
	assert.Equal(t, serrors.CodeCorruptStream, serrors.GetCode(err))
}

func TestDecompressTruncated(t *testing.T) {
	out, err := Compress(bytes.Repeat([]byte{1, 2, 3, 4}, 1000))
	require.NoError(t, err)

	_, err = Decompress(out[:len(out)/2])
	assert.Equal(t, serrors.CodeCorruptStream, serrors.GetCode(err))
}

func TestProperty_CompressLossless(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Decompress(Compress(x)) == x", prop.ForAll(
		func(data []byte) bool {
			out, err := Compress(data)
			if err != nil {
				return false
			}
			back, err := Decompress(out)
			if err != nil {
				return false
			}
			return bytes.Equal(data, back)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
