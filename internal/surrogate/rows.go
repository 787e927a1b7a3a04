package surrogate

import (
	"github.com/arkilian/surrogate/internal/dataset"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// RowRecord is the captured form of one row. Original is set for Unchanged,
// Modified and Deleted rows; Current for Added and Modified rows. Computed
// columns always hold nil.
type RowRecord struct {
	State    dataset.RowState
	Original []any
	Current  []any
}

// CellError is the error text attached to one column of a row.
type CellError struct {
	Column int
	Text   string
}

// carries reports which versions a row in state s stores.
func carries(s dataset.RowState) (original, current bool) {
	switch s {
	case dataset.RowUnchanged, dataset.RowDeleted:
		return true, false
	case dataset.RowAdded:
		return false, true
	case dataset.RowModified:
		return true, true
	}
	return false, false
}

// stateBits maps a row state onto its two bits (b0 at 2i, b1 at 2i+1):
// 00 unchanged, 01 added, 10 modified, 11 deleted.
func stateBits(s dataset.RowState) (b0, b1 bool, ok bool) {
	switch s {
	case dataset.RowUnchanged:
		return false, false, true
	case dataset.RowAdded:
		return false, true, true
	case dataset.RowModified:
		return true, false, true
	case dataset.RowDeleted:
		return true, true, true
	}
	return false, false, false
}

func bitsState(b0, b1 bool) dataset.RowState {
	switch {
	case !b0 && !b1:
		return dataset.RowUnchanged
	case !b0 && b1:
		return dataset.RowAdded
	case b0 && !b1:
		return dataset.RowModified
	default:
		return dataset.RowDeleted
	}
}

// PackRowStates packs two bits per row. Bit k lives in byte k/8 under mask
// 1<<(k%8). It returns the packed bytes and the length in bits.
func PackRowStates(states []dataset.RowState) ([]byte, int, error) {
	n := len(states) * 2
	bits := make([]byte, (n+7)/8)
	for i, s := range states {
		b0, b1, ok := stateBits(s)
		if !ok {
			return nil, 0, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidRowState,
				"row %d has state %s, which cannot be captured", i, s)
		}
		setBit(bits, 2*i, b0)
		setBit(bits, 2*i+1, b1)
	}
	return bits, n, nil
}

// UnpackRowStates decodes n bits of packed row states. n must be even and
// bits must hold at least n bits.
func UnpackRowStates(bits []byte, n int) ([]dataset.RowState, error) {
	if n < 0 || n%2 != 0 {
		return nil, serrors.NewDecodeError(serrors.CodeInvalidRowState,
			"row-state bit array length must be even")
	}
	if len(bits)*8 < n {
		return nil, serrors.NewDecodeError(serrors.CodeTruncated,
			"row-state bit array shorter than its declared length")
	}
	states := make([]dataset.RowState, n/2)
	for i := range states {
		states[i] = bitsState(bit(bits, 2*i), bit(bits, 2*i+1))
	}
	return states, nil
}

func setBit(bits []byte, k int, v bool) {
	if v {
		bits[k/8] |= 1 << (k % 8)
	}
}

func bit(bits []byte, k int) bool {
	return bits[k/8]&(1<<(k%8)) != 0
}
