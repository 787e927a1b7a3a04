package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/surrogate/internal/dataset"
	serrors "github.com/arkilian/surrogate/internal/errors"
	"github.com/arkilian/surrogate/internal/storage"
)

func inventory(t *testing.T, name string) *dataset.Dataset {
	t.Helper()
	ds := dataset.New(name)
	items := dataset.NewTable("Items")
	require.NoError(t, items.AddColumn(dataset.NewColumn("Sku", dataset.TypeString)))
	require.NoError(t, items.AddColumn(dataset.NewColumn("Qty", dataset.TypeInt32)))
	require.NoError(t, items.SetPrimaryKey(items.Column("Sku")))
	require.NoError(t, ds.AddTable(items))

	_, err := items.AddValues("a-1", 3)
	require.NoError(t, err)
	kept, err := items.AddValues("b-2", 5)
	require.NoError(t, err)
	ds.AcceptChanges()
	require.NoError(t, kept.SetByName("Qty", 6))
	_, err = items.AddValues("c-3", 0)
	require.NoError(t, err)
	return ds
}

func TestSealOpen(t *testing.T) {
	payload := []byte("payload bytes")
	sealed := Seal(payload, FlagCompressed)
	assert.Equal(t, []byte(Magic), sealed[:4])

	got, flags, err := Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, FlagCompressed, flags)

	got, flags, err = Open(Seal(nil, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, Flags(0), flags)
}

func TestOpenRejectsDamage(t *testing.T) {
	sealed := Seal([]byte("some payload"), 0)

	flip := append([]byte(nil), sealed...)
	flip[len(flip)-1] ^= 0xFF

	badMagic := append([]byte(nil), sealed...)
	badMagic[0] = 'X'

	badVersion := append([]byte(nil), sealed...)
	badVersion[4] = 9

	badFlags := append([]byte(nil), sealed...)
	badFlags[5] = 0x80

	tests := []struct {
		name string
		data []byte
		code string
	}{
		{"flipped payload", flip, serrors.CodeChecksumMismatch},
		{"bad magic", badMagic, serrors.CodeCorruptStream},
		{"bad version", badVersion, serrors.CodeUnsupportedVersion},
		{"unknown flags", badFlags, serrors.CodeCorruptStream},
		{"truncated header", sealed[:5], serrors.CodeTruncated},
		{"truncated payload", sealed[:len(sealed)-2], serrors.CodeTruncated},
		{"trailing bytes", append(append([]byte(nil), sealed...), 0), serrors.CodeCorruptStream},
		{"empty", nil, serrors.CodeTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Open(tt.data)
			require.Error(t, err)
			assert.Equal(t, serrors.ErrCategoryDecode, serrors.GetCategory(err))
			assert.Equal(t, tt.code, serrors.GetCode(err))
		})
	}
}

func TestIDOrderingAndTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id, err := NewID()
	require.NoError(t, err)
	assert.True(t, id.Created().After(before))

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-an-id")
	assert.Error(t, err)
}

func newArchive(t *testing.T, compress bool) (*Archive, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewArchive(store, Options{Compress: compress}), store
}

func TestArchiveSaveLoad(t *testing.T) {
	for _, compress := range []bool{true, false} {
		archive, store := newArchive(t, compress)
		ctx := context.Background()

		id, err := archive.Save(ctx, inventory(t, "Stock"))
		require.NoError(t, err)

		exists, err := store.Exists(ctx, archive.Key(id))
		require.NoError(t, err)
		assert.True(t, exists)

		ds, err := archive.Load(ctx, id)
		require.NoError(t, err)
		items := ds.Table("Items")
		require.NotNil(t, items)
		require.Equal(t, 3, items.RowCount())
		assert.Equal(t, dataset.RowUnchanged, items.RowAt(0).State())
		assert.Equal(t, dataset.RowModified, items.RowAt(1).State())
		orig, err := items.RowAt(1).GetVersion("Qty", dataset.VersionOriginal)
		require.NoError(t, err)
		assert.Equal(t, int32(5), orig)
		cur, err := items.RowAt(1).Get("Qty")
		require.NoError(t, err)
		assert.Equal(t, int32(6), cur)
		assert.Equal(t, dataset.RowAdded, items.RowAt(2).State())
	}
}

func TestArchiveListAndDelete(t *testing.T) {
	archive, store := newArchive(t, true)
	ctx := context.Background()

	first, err := archive.Save(ctx, inventory(t, "One"))
	require.NoError(t, err)
	second, err := archive.Save(ctx, inventory(t, "Two"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "snapshots/README.txt", []byte("not a snapshot"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "snapshots/garbage.dsur", []byte("bad name"))
	require.NoError(t, err)

	ids, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ID{first, second}, ids)

	require.NoError(t, archive.Delete(ctx, first))
	ids, err = archive.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ID{second}, ids)

	_, err = archive.Load(ctx, first)
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound))
}

func TestArchiveSummaries(t *testing.T) {
	archive, store := newArchive(t, true)
	ctx := context.Background()

	good, err := archive.Save(ctx, inventory(t, "Stock"))
	require.NoError(t, err)
	bad, err := NewID()
	require.NoError(t, err)
	_, err = store.Put(ctx, archive.Key(bad), []byte("DSUR garbage"))
	require.NoError(t, err)

	sums, err := archive.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, good, sums[0].ID)
	assert.NoError(t, sums[0].Err)
	assert.Equal(t, "Stock", sums[0].Dataset)
	assert.Equal(t, 1, sums[0].Tables)
	assert.Equal(t, 3, sums[0].Rows)
	assert.Positive(t, sums[0].Size)

	assert.Equal(t, bad, sums[1].ID)
	assert.Error(t, sums[1].Err)
}

func TestArchiveRejectsCorruptObject(t *testing.T) {
	archive, store := newArchive(t, true)
	ctx := context.Background()

	id, err := archive.Save(ctx, inventory(t, "Stock"))
	require.NoError(t, err)
	data, err := store.Get(ctx, archive.Key(id))
	require.NoError(t, err)
	data[len(data)-1] ^= 0x55
	_, err = store.Put(ctx, archive.Key(id), data)
	require.NoError(t, err)

	_, err = archive.Load(ctx, id)
	assert.Equal(t, serrors.CodeChecksumMismatch, serrors.GetCode(err))
}

func TestArchiveSaveNil(t *testing.T) {
	archive, _ := newArchive(t, true)
	_, err := archive.Save(context.Background(), nil)
	assert.Equal(t, serrors.CodeNilArgument, serrors.GetCode(err))
}
