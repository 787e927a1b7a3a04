package surrogate

import (
	"fmt"

	"github.com/arkilian/surrogate/internal/dataset"
	"github.com/arkilian/surrogate/internal/wire"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// KeyRef locates key columns by table and column ordinal.
type KeyRef struct {
	Table   int
	Columns []int
}

// ForeignKeyDescriptor is a foreign-key constraint in ordinal form.
type ForeignKeyDescriptor struct {
	Name             string
	Parent           KeyRef
	Child            KeyRef
	AcceptRejectRule dataset.AcceptRejectRule
	UpdateRule       dataset.Rule
	DeleteRule       dataset.Rule
	Extended         []Property
}

// RelationDescriptor is a relation in ordinal form.
type RelationDescriptor struct {
	Name     string
	Parent   KeyRef
	Child    KeyRef
	Nested   bool
	Extended []Property
}

// DatasetDescriptor is the portable form of a whole dataset. It holds no
// references into the live model it was captured from.
type DatasetDescriptor struct {
	Name               string
	Namespace          string
	Prefix             string
	CaseSensitive      bool
	Locale             string
	EnforceConstraints bool

	Tables      []*TableDescriptor
	ForeignKeys []*ForeignKeyDescriptor
	Relations   []*RelationDescriptor
	Extended    []Property
}

// CaptureDataset records every table, foreign key and relation of ds.
func CaptureDataset(ds *dataset.Dataset) (*DatasetDescriptor, error) {
	if ds == nil {
		return nil, serrors.NewNilArgument("dataset")
	}
	d := &DatasetDescriptor{
		Name:               ds.Name,
		Namespace:          ds.Namespace,
		Prefix:             ds.Prefix,
		CaseSensitive:      ds.CaseSensitive,
		Locale:             ds.Locale.String(),
		EnforceConstraints: ds.EnforceConstraints(),
		Extended:           captureProperties(&ds.Extended),
	}

	for _, t := range ds.Tables() {
		td, err := CaptureTable(t)
		if err != nil {
			return nil, err
		}
		d.Tables = append(d.Tables, td)
	}

	for _, t := range ds.Tables() {
		for _, fk := range t.ForeignKeys() {
			parent, err := keyRef(ds, fk.RelatedColumns)
			if err != nil {
				return nil, err
			}
			child, err := keyRef(ds, fk.Columns)
			if err != nil {
				return nil, err
			}
			d.ForeignKeys = append(d.ForeignKeys, &ForeignKeyDescriptor{
				Name:             fk.Name,
				Parent:           parent,
				Child:            child,
				AcceptRejectRule: fk.AcceptRejectRule,
				UpdateRule:       fk.UpdateRule,
				DeleteRule:       fk.DeleteRule,
				Extended:         captureProperties(&fk.Extended),
			})
		}
	}

	for _, rel := range ds.Relations() {
		parent, err := keyRef(ds, rel.ParentColumns)
		if err != nil {
			return nil, err
		}
		child, err := keyRef(ds, rel.ChildColumns)
		if err != nil {
			return nil, err
		}
		d.Relations = append(d.Relations, &RelationDescriptor{
			Name:     rel.Name,
			Parent:   parent,
			Child:    child,
			Nested:   rel.Nested,
			Extended: captureProperties(&rel.Extended),
		})
	}
	return d, nil
}

func keyRef(ds *dataset.Dataset, cols []*dataset.Column) (KeyRef, error) {
	if len(cols) == 0 {
		return KeyRef{}, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"key has no columns")
	}
	ref := KeyRef{Table: ds.TableIndex(cols[0].Table())}
	if ref.Table < 0 {
		return KeyRef{}, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"column %q belongs to a table outside the dataset", cols[0].Name)
	}
	for _, c := range cols {
		ref.Columns = append(ref.Columns, c.Ordinal())
	}
	return ref, nil
}

// Restore builds a new dataset: properties, table schemas, foreign keys,
// relations (without implicit constraints), column expressions, metadata,
// then the row data.
func (d *DatasetDescriptor) Restore() (*dataset.Dataset, error) {
	ds := dataset.New(d.Name)
	if err := d.RestoreSchema(ds); err != nil {
		return nil, err
	}
	if err := d.RestoreData(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// RestoreSchema rebuilds the schema half into ds, which must have no tables.
func (d *DatasetDescriptor) RestoreSchema(ds *dataset.Dataset) error {
	if ds == nil {
		return serrors.NewNilArgument("dataset")
	}
	if ds.TableCount() != 0 {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"dataset %q must be empty before its schema is restored", ds.Name)
	}
	if err := d.validate(); err != nil {
		return err
	}
	locale, err := parseLocale(d.Locale)
	if err != nil {
		return err
	}

	ds.Name = d.Name
	ds.Namespace = d.Namespace
	ds.Prefix = d.Prefix
	ds.CaseSensitive = d.CaseSensitive
	ds.Locale = locale
	if err := ds.SetEnforceConstraints(d.EnforceConstraints); err != nil {
		return err
	}

	for _, td := range d.Tables {
		t := dataset.NewTable(td.Name)
		if err := td.RestoreSchema(t); err != nil {
			return err
		}
		if err := ds.AddTable(t); err != nil {
			return err
		}
	}

	for _, fd := range d.ForeignKeys {
		parent, child := resolve(ds, fd.Parent), resolve(ds, fd.Child)
		fk := dataset.NewForeignKeyConstraint(fd.Name, parent, child)
		fk.AcceptRejectRule = fd.AcceptRejectRule
		fk.UpdateRule = fd.UpdateRule
		fk.DeleteRule = fd.DeleteRule
		if err := restoreProperties(&fk.Extended, fd.Extended); err != nil {
			return err
		}
		if err := ds.TableAt(fd.Child.Table).AddConstraint(fk); err != nil {
			return fmt.Errorf("foreign key %q: %w", fd.Name, err)
		}
	}

	for _, rd := range d.Relations {
		rel := dataset.NewRelation(rd.Name, resolve(ds, rd.Parent), resolve(ds, rd.Child))
		rel.Nested = rd.Nested
		if err := restoreProperties(&rel.Extended, rd.Extended); err != nil {
			return err
		}
		if err := ds.AddRelation(rel, false); err != nil {
			return err
		}
	}

	for i, td := range d.Tables {
		if err := td.ApplyColumnExpressions(ds.TableAt(i)); err != nil {
			return err
		}
	}
	return restoreProperties(&ds.Extended, d.Extended)
}

func resolve(ds *dataset.Dataset, ref KeyRef) []*dataset.Column {
	t := ds.TableAt(ref.Table)
	cols := make([]*dataset.Column, len(ref.Columns))
	for i, o := range ref.Columns {
		cols[i] = t.ColumnAt(o)
	}
	return cols
}

// RestoreData loads every table's rows into the schema-identical ds. For the
// duration of the load, read-only flags and foreign-key action rules are
// cleared and constraint enforcement is off; all three are put back on
// every exit path. Turning enforcement back on re-validates the loaded rows.
// On failure the rows added by this call are removed.
func (d *DatasetDescriptor) RestoreData(ds *dataset.Dataset) (err error) {
	if ds == nil {
		return serrors.NewNilArgument("dataset")
	}
	if err := d.validate(); err != nil {
		return err
	}
	if ms := d.CheckSchema(ds); len(ms) > 0 {
		return schemaError(ms)
	}
	var ms []Mismatch
	for i, td := range d.Tables {
		ms = append(ms, td.CheckSchema(ds.TableAt(i))...)
	}
	if len(ms) > 0 {
		return schemaError(ms)
	}

	s := suppressDataset(ds)
	defer s.restore()

	enforce := ds.EnforceConstraints()
	_ = ds.SetEnforceConstraints(false)

	var loaded [][]*dataset.Row
	defer func() {
		if err != nil {
			for i := len(loaded) - 1; i >= 0; i-- {
				discardRows(ds.TableAt(i), loaded[i])
			}
			// Rows are gone, so re-enabling cannot fail.
			_ = ds.SetEnforceConstraints(enforce)
			return
		}
		if verr := ds.SetEnforceConstraints(enforce); verr != nil {
			for i := len(loaded) - 1; i >= 0; i-- {
				discardRows(ds.TableAt(i), loaded[i])
			}
			_ = ds.SetEnforceConstraints(enforce)
			err = verr
		}
	}()

	for i, td := range d.Tables {
		rows, err := td.loadRows(ds.TableAt(i))
		if err != nil {
			return err
		}
		loaded = append(loaded, rows)
	}
	return nil
}

// CheckSchema compares name, namespace and table count only; per-table
// checks happen in RestoreData.
func (d *DatasetDescriptor) CheckSchema(ds *dataset.Dataset) []Mismatch {
	path := fmt.Sprintf("dataset %q", d.Name)
	if ds == nil {
		return []Mismatch{{Path: path, Attribute: "existence", Want: d.Name}}
	}
	var ms mismatches
	ms.check(path, "name", d.Name, ds.Name, d.Name == ds.Name)
	ms.check(path, "namespace", d.Namespace, ds.Namespace, d.Namespace == ds.Namespace)
	ms.check(path, "table count", len(d.Tables), ds.TableCount(), len(d.Tables) == ds.TableCount())
	return ms
}

// IsSchemaIdentical reports whether CheckSchema finds no differences.
func (d *DatasetDescriptor) IsSchemaIdentical(ds *dataset.Dataset) bool {
	return len(d.CheckSchema(ds)) == 0
}

// validate checks every ordinal reference resolves.
func (d *DatasetDescriptor) validate() error {
	for _, td := range d.Tables {
		if td == nil {
			return serrors.NewNilArgument("table descriptor")
		}
		if err := td.validate(); err != nil {
			return err
		}
	}
	for _, fd := range d.ForeignKeys {
		if fd == nil {
			return serrors.NewNilArgument("foreign key descriptor")
		}
		if err := d.checkRef(fd.Parent, fd.Child, fd.Name); err != nil {
			return err
		}
		if fd.AcceptRejectRule > dataset.AcceptRejectCascade || fd.UpdateRule > dataset.RuleSetDefault || fd.DeleteRule > dataset.RuleSetDefault {
			return serrors.NewDecodeError(serrors.CodeCorruptStream,
				fmt.Sprintf("foreign key %q has an unknown rule", fd.Name))
		}
	}
	for _, rd := range d.Relations {
		if rd == nil {
			return serrors.NewNilArgument("relation descriptor")
		}
		if err := d.checkRef(rd.Parent, rd.Child, rd.Name); err != nil {
			return err
		}
	}
	return nil
}

func (d *DatasetDescriptor) checkRef(parent, child KeyRef, name string) error {
	for _, ref := range []KeyRef{parent, child} {
		if ref.Table < 0 || ref.Table >= len(d.Tables) {
			return serrors.NewDecodeError(serrors.CodeOrdinalOutOfRange,
				fmt.Sprintf("%q: table ordinal %d out of range [0,%d)", name, ref.Table, len(d.Tables)))
		}
		td := d.Tables[ref.Table]
		if err := checkOrdinals(ref.Columns, len(td.Columns), td.Name); err != nil {
			return err
		}
	}
	if len(parent.Columns) == 0 || len(parent.Columns) != len(child.Columns) {
		return serrors.NewDecodeError(serrors.CodeCorruptStream,
			fmt.Sprintf("%q: parent has %d columns, child %d", name, len(parent.Columns), len(child.Columns)))
	}
	return nil
}

func (d *DatasetDescriptor) encode(w *wire.Writer) error {
	w.String(d.Name)
	w.String(d.Namespace)
	w.String(d.Prefix)
	w.Bool(d.CaseSensitive)
	w.String(d.Locale)
	w.Bool(d.EnforceConstraints)

	w.Int(len(d.Tables))
	for _, td := range d.Tables {
		if err := td.encode(w); err != nil {
			return err
		}
	}

	w.Int(len(d.ForeignKeys))
	for _, fd := range d.ForeignKeys {
		w.String(fd.Name)
		writeKeyRef(w, fd.Parent)
		writeKeyRef(w, fd.Child)
		w.Byte(byte(fd.AcceptRejectRule))
		w.Byte(byte(fd.UpdateRule))
		w.Byte(byte(fd.DeleteRule))
		if err := writeProperties(w, fd.Extended); err != nil {
			return err
		}
	}

	w.Int(len(d.Relations))
	for _, rd := range d.Relations {
		w.String(rd.Name)
		writeKeyRef(w, rd.Parent)
		writeKeyRef(w, rd.Child)
		w.Bool(rd.Nested)
		if err := writeProperties(w, rd.Extended); err != nil {
			return err
		}
	}
	return writeProperties(w, d.Extended)
}

func decodeDataset(r *wire.Reader) *DatasetDescriptor {
	d := &DatasetDescriptor{}
	d.Name = r.String()
	d.Namespace = r.String()
	d.Prefix = r.String()
	d.CaseSensitive = r.Bool()
	d.Locale = r.String()
	d.EnforceConstraints = r.Bool()

	ntables := r.Int(1)
	for i := 0; i < ntables && r.Err() == nil; i++ {
		d.Tables = append(d.Tables, decodeTable(r))
	}

	nfk := r.Int(1)
	for i := 0; i < nfk && r.Err() == nil; i++ {
		fd := &ForeignKeyDescriptor{}
		fd.Name = r.String()
		fd.Parent = readKeyRef(r)
		fd.Child = readKeyRef(r)
		fd.AcceptRejectRule = dataset.AcceptRejectRule(r.Byte())
		fd.UpdateRule = dataset.Rule(r.Byte())
		fd.DeleteRule = dataset.Rule(r.Byte())
		fd.Extended = readProperties(r)
		d.ForeignKeys = append(d.ForeignKeys, fd)
	}

	nrel := r.Int(1)
	for i := 0; i < nrel && r.Err() == nil; i++ {
		rd := &RelationDescriptor{}
		rd.Name = r.String()
		rd.Parent = readKeyRef(r)
		rd.Child = readKeyRef(r)
		rd.Nested = r.Bool()
		rd.Extended = readProperties(r)
		d.Relations = append(d.Relations, rd)
	}
	d.Extended = readProperties(r)
	return d
}

func writeKeyRef(w *wire.Writer, ref KeyRef) {
	w.Int(ref.Table)
	writeOrdinals(w, ref.Columns)
}

func readKeyRef(r *wire.Reader) KeyRef {
	return KeyRef{Table: r.Int(0), Columns: readOrdinals(r)}
}
