package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arkilian/surrogate/internal/dataset"
	serrors "github.com/arkilian/surrogate/internal/errors"
	"github.com/arkilian/surrogate/internal/storage"
	"github.com/arkilian/surrogate/internal/surrogate"
)

const (
	DefaultPrefix = "snapshots/"
	keySuffix     = ".dsur"
)

// ID names a stored snapshot. IDs are UUIDv7, so their byte order is their
// creation order.
type ID uuid.UUID

// NewID returns a fresh time-ordered ID.
func NewID() (ID, error) {
	u, err := uuid.NewV7()
	return ID(u), err
}

// ParseID parses the canonical string form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, serrors.Wrap(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument, "invalid snapshot id "+s, err)
	}
	return ID(u), nil
}

func (id ID) String() string { return uuid.UUID(id).String() }

// Created returns the millisecond timestamp embedded in the ID.
func (id ID) Created() time.Time {
	var ms [8]byte
	copy(ms[2:], id[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(ms[:])))
}

// Summary describes a stored snapshot without restoring it.
type Summary struct {
	ID      ID
	Size    int
	Dataset string
	Tables  int
	Rows    int
	Err     error
}

// Options configure an Archive.
type Options struct {
	// Prefix is prepended to every key. Default "snapshots/".
	Prefix string
	// Compress snappy-compresses payloads.
	Compress bool
	// Concurrency bounds parallel fetches in Summaries. Default 4.
	Concurrency int
}

// Archive stores sealed dataset snapshots in a BlobStorage.
type Archive struct {
	store storage.BlobStorage
	opts  Options
}

// NewArchive creates an archive over store.
func NewArchive(store storage.BlobStorage, opts Options) *Archive {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Archive{store: store, opts: opts}
}

// Key returns the storage key of a snapshot.
func (a *Archive) Key(id ID) string {
	return a.opts.Prefix + id.String() + keySuffix
}

// Save captures ds and stores it under a new ID.
func (a *Archive) Save(ctx context.Context, ds *dataset.Dataset) (ID, error) {
	if ds == nil {
		return ID{}, serrors.NewNilArgument("dataset")
	}
	payload, flags, err := a.encode(ds)
	if err != nil {
		return ID{}, err
	}
	id, err := NewID()
	if err != nil {
		return ID{}, serrors.NewInternalError("snapshot: generate id", err)
	}

	sealed := Seal(payload, flags)
	etag, err := a.store.Put(ctx, a.Key(id), sealed)
	if err != nil {
		return ID{}, err
	}
	log.Printf("snapshot: saved %s (%d bytes, etag %s)", id, len(sealed), etag)
	return id, nil
}

func (a *Archive) encode(ds *dataset.Dataset) ([]byte, Flags, error) {
	if a.opts.Compress {
		payload, err := surrogate.Encode(ds)
		return payload, FlagCompressed, err
	}
	d, err := surrogate.CaptureDataset(ds)
	if err != nil {
		return nil, 0, err
	}
	payload, err := surrogate.Marshal(d)
	return payload, 0, err
}

// Load fetches and restores a snapshot.
func (a *Archive) Load(ctx context.Context, id ID) (*dataset.Dataset, error) {
	d, err := a.Descriptor(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Restore()
}

// Descriptor fetches and decodes a snapshot without restoring it.
func (a *Archive) Descriptor(ctx context.Context, id ID) (*surrogate.DatasetDescriptor, error) {
	data, err := a.store.Get(ctx, a.Key(id))
	if err != nil {
		return nil, err
	}
	return decodeSealed(data)
}

func decodeSealed(data []byte) (*surrogate.DatasetDescriptor, error) {
	payload, flags, err := Open(data)
	if err != nil {
		return nil, err
	}
	if flags&FlagCompressed != 0 {
		return surrogate.DecodeDescriptor(payload)
	}
	return surrogate.Unmarshal(payload)
}

// List returns the stored snapshot IDs, oldest first. Keys under the prefix
// that are not snapshot names are skipped.
func (a *Archive) List(ctx context.Context) ([]ID, error) {
	keys, err := a.store.List(ctx, a.opts.Prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]ID, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, a.opts.Prefix)
		if !strings.HasSuffix(name, keySuffix) || strings.Contains(name, "/") {
			continue
		}
		id, err := ParseID(strings.TrimSuffix(name, keySuffix))
		if err != nil {
			log.Printf("snapshot: skipping %s: %v", key, err)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (a *Archive) Delete(ctx context.Context, id ID) error {
	if err := a.store.Delete(ctx, a.Key(id)); err != nil {
		return err
	}
	log.Printf("snapshot: deleted %s", id)
	return nil
}

// Summaries lists every snapshot with its dataset name, table and row
// counts. Snapshots are fetched in parallel; a snapshot that cannot be read
// or decoded is reported through Summary.Err.
func (a *Archive) Summaries(ctx context.Context) ([]Summary, error) {
	ids, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = a.Key(id)
	}

	result, err := storage.NewBatchGetter(a.store, a.opts.Concurrency).GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, len(ids))
	for i, id := range ids {
		s := Summary{ID: id}
		if err := result.Errors[keys[i]]; err != nil {
			s.Err = err
			out[i] = s
			continue
		}
		data := result.Objects[keys[i]]
		s.Size = len(data)
		d, err := decodeSealed(data)
		if err != nil {
			s.Err = err
			out[i] = s
			continue
		}
		s.Dataset = d.Name
		s.Tables = len(d.Tables)
		for _, t := range d.Tables {
			s.Rows += len(t.Rows)
		}
		out[i] = s
	}
	return out, nil
}
