package surrogate

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"

	"github.com/arkilian/surrogate/internal/dataset"
	"github.com/arkilian/surrogate/internal/wire"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// UniqueDescriptor is a unique constraint with its columns by ordinal.
type UniqueDescriptor struct {
	Name         string
	Columns      []int
	IsPrimaryKey bool
	Extended     []Property
}

// TableDescriptor is the portable form of a table: schema, unique
// constraints, metadata and the row store.
type TableDescriptor struct {
	Name              string
	Namespace         string
	Prefix            string
	CaseSensitive     bool
	Locale            string
	DisplayExpression string
	MinimumCapacity   int

	Columns  []*ColumnDescriptor
	Uniques  []*UniqueDescriptor
	Extended []Property

	Rows []RowRecord

	// RowErrors and ColumnErrors are keyed by row index.
	RowErrors    map[int]string
	ColumnErrors map[int][]CellError
}

// CaptureTable records the schema and rows of t.
func CaptureTable(t *dataset.Table) (*TableDescriptor, error) {
	if t == nil {
		return nil, serrors.NewNilArgument("table")
	}
	d := &TableDescriptor{
		Name:              t.Name,
		Namespace:         t.Namespace,
		Prefix:            t.Prefix,
		CaseSensitive:     t.CaseSensitive,
		Locale:            t.Locale.String(),
		DisplayExpression: t.DisplayExpression,
		MinimumCapacity:   t.MinimumCapacity,
		Extended:          captureProperties(&t.Extended),
	}

	columns := t.Columns()
	for _, c := range columns {
		cd, err := CaptureColumn(c)
		if err != nil {
			return nil, err
		}
		d.Columns = append(d.Columns, cd)
	}

	for _, u := range t.UniqueConstraints() {
		ud := &UniqueDescriptor{
			Name:         u.Name,
			IsPrimaryKey: u.IsPrimaryKey,
			Extended:     captureProperties(&u.Extended),
		}
		for _, c := range u.Columns {
			ud.Columns = append(ud.Columns, c.Ordinal())
		}
		d.Uniques = append(d.Uniques, ud)
	}

	for i, r := range t.Rows() {
		rec, err := captureRow(r, columns)
		if err != nil {
			return nil, fmt.Errorf("table %q row %d: %w", t.Name, i, err)
		}
		d.Rows = append(d.Rows, rec)

		if msg := r.RowError(); msg != "" {
			if d.RowErrors == nil {
				d.RowErrors = make(map[int]string)
			}
			d.RowErrors[i] = msg
		}
		for _, ord := range r.ColumnsInError() {
			if d.ColumnErrors == nil {
				d.ColumnErrors = make(map[int][]CellError)
			}
			d.ColumnErrors[i] = append(d.ColumnErrors[i], CellError{Column: ord, Text: r.ColumnError(ord)})
		}
	}
	return d, nil
}

func captureRow(r *dataset.Row, columns []*dataset.Column) (RowRecord, error) {
	rec := RowRecord{State: r.State()}
	wantOrig, wantCur := carries(rec.State)
	if !wantOrig && !wantCur {
		return rec, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidRowState,
			"state %s cannot be captured", rec.State)
	}
	var err error
	if wantOrig {
		if rec.Original, err = r.Values(dataset.VersionOriginal); err != nil {
			return rec, err
		}
	}
	if wantCur {
		if rec.Current, err = r.Values(dataset.VersionCurrent); err != nil {
			return rec, err
		}
	}
	for i, c := range columns {
		if !c.IsComputed() {
			continue
		}
		if rec.Original != nil {
			rec.Original[i] = nil
		}
		if rec.Current != nil {
			rec.Current[i] = nil
		}
	}
	return rec, nil
}

// RestoreSchema applies the table properties, columns, unique constraints
// and metadata to an empty table. Column expressions are applied separately
// by ApplyColumnExpressions once every table of a dataset has its columns.
func (d *TableDescriptor) RestoreSchema(t *dataset.Table) error {
	if t == nil {
		return serrors.NewNilArgument("table")
	}
	if t.ColumnCount() != 0 || t.RowCount() != 0 {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"table %q must be empty before its schema is restored", t.Name)
	}
	if err := d.validate(); err != nil {
		return err
	}
	locale, err := parseLocale(d.Locale)
	if err != nil {
		return err
	}

	t.Name = d.Name
	t.Namespace = d.Namespace
	t.Prefix = d.Prefix
	t.CaseSensitive = d.CaseSensitive
	t.Locale = locale
	t.DisplayExpression = d.DisplayExpression
	t.MinimumCapacity = d.MinimumCapacity

	for _, cd := range d.Columns {
		c, err := cd.Restore()
		if err != nil {
			return err
		}
		if err := t.AddColumn(c); err != nil {
			return fmt.Errorf("table %q: %w", d.Name, err)
		}
	}

	for _, ud := range d.Uniques {
		cols := make([]*dataset.Column, len(ud.Columns))
		for i, ord := range ud.Columns {
			cols[i] = t.ColumnAt(ord)
		}
		u := dataset.NewUniqueConstraint(ud.Name, cols, ud.IsPrimaryKey)
		if err := restoreProperties(&u.Extended, ud.Extended); err != nil {
			return err
		}
		if err := t.AddConstraint(u); err != nil {
			return fmt.Errorf("table %q: %w", d.Name, err)
		}
	}
	return restoreProperties(&t.Extended, d.Extended)
}

// ApplyColumnExpressions sets the computed expressions captured for t's
// columns.
func (d *TableDescriptor) ApplyColumnExpressions(t *dataset.Table) error {
	if t == nil {
		return serrors.NewNilArgument("table")
	}
	if t.ColumnCount() != len(d.Columns) {
		return schemaError(d.CheckSchema(t))
	}
	for i, cd := range d.Columns {
		if err := cd.ApplyExpression(t.ColumnAt(i)); err != nil {
			return fmt.Errorf("table %q: %w", d.Name, err)
		}
	}
	return nil
}

// RestoreData replays the captured rows into t, which must be
// schema-identical. With suppressSchemaRules, read-only flags and the
// action rules of foreign keys referencing t are cleared for the load and
// put back on every exit path, and constraint checks wait until every row
// is in. On failure the rows added by this call are removed again.
func (d *TableDescriptor) RestoreData(t *dataset.Table, suppressSchemaRules bool) error {
	if t == nil {
		return serrors.NewNilArgument("table")
	}
	if err := d.validate(); err != nil {
		return err
	}
	if ms := d.CheckSchema(t); len(ms) > 0 {
		return schemaError(ms)
	}
	if !suppressSchemaRules {
		_, err := d.loadRows(t)
		return err
	}
	s := suppressTable(t)
	defer s.restore()

	t.BeginLoad()
	rows, err := d.loadRows(t)
	if err != nil {
		_ = t.EndLoad()
		return err
	}
	if err := t.EndLoad(); err != nil {
		discardRows(t, rows)
		return err
	}
	return nil
}

// loadRows replays every row and returns the rows added. On failure the
// rows added so far are removed and nil is returned.
func (d *TableDescriptor) loadRows(t *dataset.Table) ([]*dataset.Row, error) {
	added := make([]*dataset.Row, 0, len(d.Rows))
	for i, rec := range d.Rows {
		r, err := d.replayRow(t, rec)
		if r != nil {
			added = append(added, r)
		}
		if err == nil {
			err = d.applyErrors(r, i)
		}
		if err != nil {
			discardRows(t, added)
			return nil, fmt.Errorf("table %q row %d: %w", d.Name, i, err)
		}
	}
	return added, nil
}

// replayRow adds one row and drives it into its captured state:
// unchanged = add original, accept; added = add current; modified = add
// original, accept, edit to current; deleted = add original, accept, delete.
func (d *TableDescriptor) replayRow(t *dataset.Table, rec RowRecord) (*dataset.Row, error) {
	r := t.NewRow()
	initial := rec.Original
	if rec.State == dataset.RowAdded {
		initial = rec.Current
	}
	if err := setValues(t, r, initial); err != nil {
		return nil, err
	}
	if err := t.AddRow(r); err != nil {
		return nil, err
	}

	switch rec.State {
	case dataset.RowAdded:
		return r, nil
	case dataset.RowUnchanged:
		r.AcceptChanges()
	case dataset.RowModified:
		r.AcceptChanges()
		if err := r.BeginEdit(); err != nil {
			return r, err
		}
		if err := setValues(t, r, rec.Current); err != nil {
			r.CancelEdit()
			return r, err
		}
		if err := r.EndEdit(); err != nil {
			r.CancelEdit()
			return r, err
		}
	case dataset.RowDeleted:
		r.AcceptChanges()
		if err := r.Delete(); err != nil {
			return r, err
		}
	default:
		return r, serrors.Newf(serrors.ErrCategoryDecode, serrors.CodeInvalidRowState,
			"unrecognized row state %s", rec.State)
	}
	return r, nil
}

func setValues(t *dataset.Table, r *dataset.Row, values []any) error {
	for i, c := range t.Columns() {
		if c.IsComputed() {
			continue
		}
		if err := r.Set(i, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *TableDescriptor) applyErrors(r *dataset.Row, i int) error {
	if msg, ok := d.RowErrors[i]; ok {
		r.SetRowError(msg)
	}
	for _, ce := range d.ColumnErrors[i] {
		if err := r.SetColumnError(ce.Column, ce.Text); err != nil {
			return err
		}
	}
	return nil
}

func discardRows(t *dataset.Table, rows []*dataset.Row) {
	for i := len(rows) - 1; i >= 0; i-- {
		t.RemoveRow(rows[i])
	}
}

// CheckSchema compares name, namespace and column count, then each column
// by ordinal.
func (d *TableDescriptor) CheckSchema(t *dataset.Table) []Mismatch {
	path := fmt.Sprintf("table %q", d.Name)
	if t == nil {
		return []Mismatch{{Path: path, Attribute: "existence", Want: d.Name}}
	}
	var ms mismatches
	ms.check(path, "name", d.Name, t.Name, d.Name == t.Name)
	ms.check(path, "namespace", d.Namespace, t.Namespace, d.Namespace == t.Namespace)
	ms.check(path, "column count", len(d.Columns), t.ColumnCount(), len(d.Columns) == t.ColumnCount())
	if len(d.Columns) != t.ColumnCount() {
		return ms
	}
	for i, cd := range d.Columns {
		ms = append(ms, cd.checkSchema(t.ColumnAt(i), fmt.Sprintf("%s column %q", path, cd.Name))...)
	}
	return ms
}

// IsSchemaIdentical reports whether CheckSchema finds no differences.
func (d *TableDescriptor) IsSchemaIdentical(t *dataset.Table) bool {
	return len(d.CheckSchema(t)) == 0
}

// ToTable builds a standalone table holding the captured schema and rows.
func (d *TableDescriptor) ToTable() (*dataset.Table, error) {
	t := dataset.NewTable(d.Name)
	if err := d.RestoreSchema(t); err != nil {
		return nil, err
	}
	if err := d.ApplyColumnExpressions(t); err != nil {
		return nil, err
	}
	if err := d.RestoreData(t, true); err != nil {
		return nil, err
	}
	return t, nil
}

// validate checks the ordinals and row shapes a decoded or hand-built
// descriptor must satisfy before it touches a live table.
func (d *TableDescriptor) validate() error {
	ncols := len(d.Columns)
	for _, cd := range d.Columns {
		if cd == nil {
			return serrors.NewNilArgument("column descriptor")
		}
	}
	for _, ud := range d.Uniques {
		if ud == nil {
			return serrors.NewNilArgument("unique constraint descriptor")
		}
		if err := checkOrdinals(ud.Columns, ncols, d.Name); err != nil {
			return err
		}
	}
	for i, rec := range d.Rows {
		wantOrig, wantCur := carries(rec.State)
		if !wantOrig && !wantCur {
			return serrors.NewDecodeError(serrors.CodeInvalidRowState,
				fmt.Sprintf("table %q row %d has invalid state %d", d.Name, i, rec.State))
		}
		if (rec.Original != nil) != wantOrig || (rec.Current != nil) != wantCur ||
			(wantOrig && len(rec.Original) != ncols) || (wantCur && len(rec.Current) != ncols) {
			return serrors.NewDecodeError(serrors.CodeCorruptStream,
				fmt.Sprintf("table %q row %d does not match its %s state", d.Name, i, rec.State))
		}
	}
	for i := range d.RowErrors {
		if i < 0 || i >= len(d.Rows) {
			return ordinalError("row error index", i, len(d.Rows), d.Name)
		}
	}
	for i, ces := range d.ColumnErrors {
		if i < 0 || i >= len(d.Rows) {
			return ordinalError("column error row index", i, len(d.Rows), d.Name)
		}
		for _, ce := range ces {
			if ce.Column < 0 || ce.Column >= ncols {
				return ordinalError("column error ordinal", ce.Column, ncols, d.Name)
			}
		}
	}
	return nil
}

func checkOrdinals(ords []int, n int, table string) error {
	for _, o := range ords {
		if o < 0 || o >= n {
			return ordinalError("column ordinal", o, n, table)
		}
	}
	return nil
}

func ordinalError(what string, got, limit int, table string) error {
	return serrors.NewDecodeError(serrors.CodeOrdinalOutOfRange,
		fmt.Sprintf("%s %d out of range [0,%d) in table %q", what, got, limit, table))
}

func parseLocale(s string) (language.Tag, error) {
	if s == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, serrors.Wrap(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			fmt.Sprintf("invalid locale %q", s), err)
	}
	return tag, nil
}

func (d *TableDescriptor) encode(w *wire.Writer) error {
	w.String(d.Name)
	w.String(d.Namespace)
	w.String(d.Prefix)
	w.Bool(d.CaseSensitive)
	w.String(d.Locale)
	w.String(d.DisplayExpression)
	w.Varint(int64(d.MinimumCapacity))

	w.Int(len(d.Columns))
	for _, cd := range d.Columns {
		if err := cd.encode(w); err != nil {
			return fmt.Errorf("table %q: %w", d.Name, err)
		}
	}

	w.Int(len(d.Uniques))
	for _, ud := range d.Uniques {
		w.String(ud.Name)
		writeOrdinals(w, ud.Columns)
		w.Bool(ud.IsPrimaryKey)
		if err := writeProperties(w, ud.Extended); err != nil {
			return err
		}
	}
	if err := writeProperties(w, d.Extended); err != nil {
		return err
	}
	return d.encodeRows(w)
}

// encodeRows writes the row block: the state bit array, then per column 2N
// slots (original at even, current at odd index), then the error maps.
func (d *TableDescriptor) encodeRows(w *wire.Writer) error {
	states := make([]dataset.RowState, len(d.Rows))
	for i, rec := range d.Rows {
		states[i] = rec.State
	}
	bits, n, err := PackRowStates(states)
	if err != nil {
		return err
	}
	w.Bits(bits, n)

	for ci, cd := range d.Columns {
		computed := cd.Expression != ""
		for _, rec := range d.Rows {
			for _, slot := range [2][]any{rec.Original, rec.Current} {
				if slot == nil || computed {
					w.Absent()
					continue
				}
				if err := w.Value(slot[ci]); err != nil {
					return fmt.Errorf("table %q column %q: %w", d.Name, cd.Name, err)
				}
			}
		}
	}

	rowIdx := make([]int, 0, len(d.RowErrors))
	for i := range d.RowErrors {
		rowIdx = append(rowIdx, i)
	}
	sort.Ints(rowIdx)
	w.Int(len(rowIdx))
	for _, i := range rowIdx {
		w.Int(i)
		w.String(d.RowErrors[i])
	}

	colIdx := make([]int, 0, len(d.ColumnErrors))
	for i := range d.ColumnErrors {
		colIdx = append(colIdx, i)
	}
	sort.Ints(colIdx)
	w.Int(len(colIdx))
	for _, i := range colIdx {
		ces := append([]CellError(nil), d.ColumnErrors[i]...)
		sort.Slice(ces, func(a, b int) bool { return ces[a].Column < ces[b].Column })
		w.Int(i)
		w.Int(len(ces))
		for _, ce := range ces {
			w.Int(ce.Column)
			w.String(ce.Text)
		}
	}
	return nil
}

func decodeTable(r *wire.Reader) *TableDescriptor {
	d := &TableDescriptor{}
	d.Name = r.String()
	d.Namespace = r.String()
	d.Prefix = r.String()
	d.CaseSensitive = r.Bool()
	d.Locale = r.String()
	d.DisplayExpression = r.String()
	d.MinimumCapacity = int(r.Varint())

	ncols := r.Int(1)
	for i := 0; i < ncols && r.Err() == nil; i++ {
		d.Columns = append(d.Columns, decodeColumn(r))
	}

	nuniq := r.Int(1)
	for i := 0; i < nuniq && r.Err() == nil; i++ {
		ud := &UniqueDescriptor{}
		ud.Name = r.String()
		ud.Columns = readOrdinals(r)
		ud.IsPrimaryKey = r.Bool()
		ud.Extended = readProperties(r)
		d.Uniques = append(d.Uniques, ud)
	}
	d.Extended = readProperties(r)
	d.decodeRows(r)
	return d
}

func (d *TableDescriptor) decodeRows(r *wire.Reader) {
	bits, n := r.Bits()
	if r.Err() != nil {
		return
	}
	states, err := UnpackRowStates(bits, n)
	if err != nil {
		r.Fail(err)
		return
	}
	// Every row needs at least two one-byte slots per column.
	if len(d.Columns) > 0 && len(states) > r.Remaining()/(2*len(d.Columns)) {
		r.Failf(serrors.CodeTruncated, "surrogate: table %q declares %d rows but the stream is too short", d.Name, len(states))
		return
	}

	ncols := len(d.Columns)
	d.Rows = make([]RowRecord, len(states))
	for i, s := range states {
		d.Rows[i].State = s
		hasOrig, hasCur := carries(s)
		if hasOrig {
			d.Rows[i].Original = make([]any, ncols)
		}
		if hasCur {
			d.Rows[i].Current = make([]any, ncols)
		}
	}

	for ci, cd := range d.Columns {
		computed := cd.Expression != ""
		for i := range d.Rows {
			rec := &d.Rows[i]
			for slot, dst := range [2][]any{rec.Original, rec.Current} {
				v, present := r.Value()
				if r.Err() != nil {
					return
				}
				if computed {
					continue
				}
				if present != (dst != nil) {
					r.Failf(serrors.CodeCorruptStream,
						"surrogate: table %q column %q row %d: slot %d presence does not match state %s",
						d.Name, cd.Name, i, slot, rec.State)
					return
				}
				if present {
					dst[ci] = v
				}
			}
		}
	}

	nerr := r.Int(2)
	for k := 0; k < nerr && r.Err() == nil; k++ {
		if d.RowErrors == nil {
			d.RowErrors = make(map[int]string, nerr)
		}
		i := r.Int(0)
		text := r.String()
		if _, dup := d.RowErrors[i]; dup && r.Err() == nil {
			r.Failf(serrors.CodeCorruptStream, "surrogate: table %q repeats row error for row %d", d.Name, i)
			return
		}
		d.RowErrors[i] = text
	}
	ncerr := r.Int(2)
	for k := 0; k < ncerr && r.Err() == nil; k++ {
		if d.ColumnErrors == nil {
			d.ColumnErrors = make(map[int][]CellError, ncerr)
		}
		i := r.Int(0)
		if _, dup := d.ColumnErrors[i]; dup && r.Err() == nil {
			r.Failf(serrors.CodeCorruptStream, "surrogate: table %q repeats column errors for row %d", d.Name, i)
			return
		}
		m := r.Int(2)
		ces := make([]CellError, 0, m)
		seen := make(map[int]bool, m)
		for j := 0; j < m && r.Err() == nil; j++ {
			ce := CellError{Column: r.Int(0), Text: r.String()}
			if seen[ce.Column] && r.Err() == nil {
				r.Failf(serrors.CodeCorruptStream, "surrogate: table %q row %d repeats column error for ordinal %d", d.Name, i, ce.Column)
				return
			}
			seen[ce.Column] = true
			ces = append(ces, ce)
		}
		d.ColumnErrors[i] = ces
	}
}

func writeOrdinals(w *wire.Writer, ords []int) {
	w.Int(len(ords))
	for _, o := range ords {
		w.Int(o)
	}
}

func readOrdinals(r *wire.Reader) []int {
	n := r.Int(1)
	if r.Err() != nil {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, r.Int(0))
	}
	return out
}
