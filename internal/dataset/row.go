package dataset

import (
	"sort"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Row holds one value per column of its table, with change tracking.
//
// An Unchanged row has only an accepted version. Editing it produces a
// Modified row carrying both the original and the current version. An Added
// row has only a current version and a Deleted row only an original one.
type Row struct {
	table    *Table
	state    RowState
	original []any
	current  []any
	proposed []any
	editing  bool

	rowError     string
	columnErrors map[int]string
}

// Table returns the table the row was created by.
func (r *Row) Table() *Table { return r.table }

// State returns the change-tracking state.
func (r *Row) State() RowState { return r.state }

// IsEditing reports whether BeginEdit is in effect.
func (r *Row) IsEditing() bool { return r.editing }

func (r *Row) column(i int) (*Column, error) {
	c := r.table.ColumnAt(i)
	if c == nil {
		return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"column ordinal %d out of range for table %q", i, r.table.Name)
	}
	return c, nil
}

func (r *Row) ordinalOf(name string) (int, error) {
	c := r.table.Column(name)
	if c == nil {
		return -1, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"table %q has no column %q", r.table.Name, name)
	}
	return c.ordinal, nil
}

// Set writes the value of column i. Attached rows are edited in place: an
// Unchanged row becomes Modified.
func (r *Row) Set(i int, v any) error {
	c, err := r.column(i)
	if err != nil {
		return err
	}
	if c.IsComputed() {
		return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeReadOnly,
			"column %q is computed", c.Name)
	}
	if r.state == RowDeleted {
		return serrors.New(serrors.ErrCategoryConstraint, serrors.CodeDeletedRow,
			"deleted row cannot be edited")
	}
	if r.state != RowDetached && c.ReadOnly {
		return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeReadOnly,
			"column %q is read only", c.Name)
	}
	val, err := c.coerce(v)
	if err != nil {
		return err
	}

	switch {
	case r.state == RowDetached:
		r.current[i] = val
		return nil
	case r.editing:
		r.proposed[i] = val
		return nil
	}

	if err := r.BeginEdit(); err != nil {
		return err
	}
	r.proposed[i] = val
	if err := r.EndEdit(); err != nil {
		r.CancelEdit()
		return err
	}
	return nil
}

// SetByName writes the value of the named column.
func (r *Row) SetByName(name string, v any) error {
	i, err := r.ordinalOf(name)
	if err != nil {
		return err
	}
	return r.Set(i, v)
}

// Value returns the value of column i as seen by the live view: the proposed
// value while editing, otherwise the current value. Deleted rows have no
// live view.
func (r *Row) Value(i int) (any, error) {
	if _, err := r.column(i); err != nil {
		return nil, err
	}
	if r.state == RowDeleted {
		return nil, serrors.New(serrors.ErrCategoryConstraint, serrors.CodeDeletedRow,
			"deleted row information cannot be accessed through the row")
	}
	if r.editing {
		return r.proposed[i], nil
	}
	return r.current[i], nil
}

// Get returns the live value of the named column.
func (r *Row) Get(name string) (any, error) {
	i, err := r.ordinalOf(name)
	if err != nil {
		return nil, err
	}
	return r.Value(i)
}

// HasVersion reports whether the row carries the requested version.
func (r *Row) HasVersion(v Version) bool {
	switch v {
	case VersionOriginal:
		return r.original != nil
	case VersionCurrent:
		return r.current != nil
	case VersionProposed:
		return r.editing
	}
	return false
}

// ValueVersion returns the value of column i in the requested version.
func (r *Row) ValueVersion(i int, v Version) (any, error) {
	if _, err := r.column(i); err != nil {
		return nil, err
	}
	values, err := r.version(v)
	if err != nil {
		return nil, err
	}
	return values[i], nil
}

// GetVersion returns the named column's value in the requested version.
func (r *Row) GetVersion(name string, v Version) (any, error) {
	i, err := r.ordinalOf(name)
	if err != nil {
		return nil, err
	}
	return r.ValueVersion(i, v)
}

// Values returns a copy of every value in the requested version.
func (r *Row) Values(v Version) ([]any, error) {
	values, err := r.version(v)
	if err != nil {
		return nil, err
	}
	return cloneValues(values), nil
}

func (r *Row) version(v Version) ([]any, error) {
	switch v {
	case VersionOriginal:
		if r.original == nil {
			return nil, serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeInvalidState,
				"%s row has no original version", r.state)
		}
		return r.original, nil
	case VersionCurrent:
		if r.current == nil {
			return nil, serrors.New(serrors.ErrCategoryConstraint, serrors.CodeDeletedRow,
				"deleted row has no current version")
		}
		return r.current, nil
	case VersionProposed:
		if !r.editing {
			return nil, serrors.New(serrors.ErrCategoryConstraint, serrors.CodeInvalidState,
				"row is not being edited")
		}
		return r.proposed, nil
	}
	return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
		"unknown version %d", v)
}

// BeginEdit starts a batched edit. Detached rows are written directly and
// need no edit scope.
func (r *Row) BeginEdit() error {
	if r.state == RowDeleted {
		return serrors.New(serrors.ErrCategoryConstraint, serrors.CodeDeletedRow,
			"deleted row cannot be edited")
	}
	if r.editing || r.state == RowDetached {
		return nil
	}
	r.proposed = cloneValues(r.current)
	r.editing = true
	return nil
}

// CancelEdit discards the proposed values.
func (r *Row) CancelEdit() {
	r.proposed = nil
	r.editing = false
}

// EndEdit validates and commits the proposed values. On failure the row stays
// in edit mode so the caller can correct or cancel.
func (r *Row) EndEdit() error {
	if !r.editing {
		return nil
	}
	t := r.table
	if t.enforcing() {
		if err := t.validateValues(r, r.proposed); err != nil {
			return err
		}
	}

	old := r.current
	cascades, err := t.planUpdate(r, old, r.proposed)
	if err != nil {
		return err
	}

	r.current = r.proposed
	r.proposed = nil
	r.editing = false
	prevState := r.state
	if r.state == RowUnchanged {
		r.state = RowModified
	}

	for _, apply := range cascades {
		if err := apply(); err != nil {
			r.current = old
			r.state = prevState
			return err
		}
	}
	return nil
}

// Delete marks the row Deleted, or detaches it when it was Added, applying
// the delete rules of referencing foreign keys to child rows.
func (r *Row) Delete() error {
	switch r.state {
	case RowDetached:
		return serrors.New(serrors.ErrCategoryConstraint, serrors.CodeInvalidState,
			"detached row cannot be deleted")
	case RowDeleted:
		return nil
	}
	r.CancelEdit()

	cascades, err := r.table.planDelete(r)
	if err != nil {
		return err
	}
	for _, apply := range cascades {
		if err := apply(); err != nil {
			return err
		}
	}

	if r.state == RowAdded {
		r.table.removeRow(r)
		return nil
	}
	r.current = nil
	r.state = RowDeleted
	return nil
}

// AcceptChanges makes the current version the new baseline. Deleted rows are
// removed from the table.
func (r *Row) AcceptChanges() {
	if r.editing {
		if err := r.EndEdit(); err != nil {
			r.CancelEdit()
		}
	}
	for _, child := range r.cascadeTargets() {
		child.AcceptChanges()
	}
	switch r.state {
	case RowAdded, RowModified:
		r.original = r.current
		r.state = RowUnchanged
	case RowDeleted:
		r.table.removeRow(r)
	}
}

// RejectChanges restores the original version. Added rows are removed.
func (r *Row) RejectChanges() {
	r.CancelEdit()
	for _, child := range r.cascadeTargets() {
		child.RejectChanges()
	}
	switch r.state {
	case RowAdded:
		r.table.removeRow(r)
	case RowModified, RowDeleted:
		r.current = r.original
		r.state = RowUnchanged
	}
}

// cascadeTargets returns child rows reached through foreign keys whose
// accept/reject rule cascades.
func (r *Row) cascadeTargets() []*Row {
	var out []*Row
	for _, fk := range r.table.ReferencingKeys() {
		if fk.AcceptRejectRule != AcceptRejectCascade {
			continue
		}
		key := r.keyOf(fk.RelatedColumns)
		for _, child := range matchingRows(fk.Table(), fk.Columns, key, true) {
			if child != r && child.state != RowUnchanged {
				out = append(out, child)
			}
		}
	}
	return out
}

// keyOf returns the row's values for cols, taken from the original version
// of deleted rows.
func (r *Row) keyOf(cols []*Column) []any {
	values := r.current
	if values == nil {
		values = r.original
	}
	key := make([]any, len(cols))
	for i, c := range cols {
		key[i] = values[c.ordinal]
	}
	return key
}

// ChildRows returns the live child rows related to r through rel.
func (r *Row) ChildRows(rel *Relation) []*Row {
	if rel == nil || rel.ParentTable() != r.table {
		return nil
	}
	return matchingRows(rel.ChildTable(), rel.ChildColumns, r.keyOf(rel.ParentColumns), false)
}

// ParentRow returns the live parent row related to r through rel, or nil.
func (r *Row) ParentRow(rel *Relation) *Row {
	if rel == nil || rel.ChildTable() != r.table {
		return nil
	}
	parents := matchingRows(rel.ParentTable(), rel.ParentColumns, r.keyOf(rel.ChildColumns), false)
	if len(parents) == 0 {
		return nil
	}
	return parents[0]
}

// RowError returns the row-level error text.
func (r *Row) RowError() string { return r.rowError }

// SetRowError sets the row-level error text.
func (r *Row) SetRowError(msg string) { r.rowError = msg }

// SetColumnError sets the error text of column i. Empty text clears it.
func (r *Row) SetColumnError(i int, msg string) error {
	if _, err := r.column(i); err != nil {
		return err
	}
	if msg == "" {
		delete(r.columnErrors, i)
		return nil
	}
	if r.columnErrors == nil {
		r.columnErrors = make(map[int]string)
	}
	r.columnErrors[i] = msg
	return nil
}

// ColumnError returns the error text of column i.
func (r *Row) ColumnError(i int) string { return r.columnErrors[i] }

// ColumnsInError returns the ordinals of columns carrying an error, ascending.
func (r *Row) ColumnsInError() []int {
	out := make([]int, 0, len(r.columnErrors))
	for i := range r.columnErrors {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// HasErrors reports whether the row has a row error or any column error.
func (r *Row) HasErrors() bool {
	return r.rowError != "" || len(r.columnErrors) > 0
}

// ClearErrors removes the row error and all column errors.
func (r *Row) ClearErrors() {
	r.rowError = ""
	r.columnErrors = nil
}

// assign writes key values as part of a cascade, bypassing read-only checks.
func (r *Row) assign(cols []*Column, values []any) error {
	if r.state == RowDeleted || r.state == RowDetached {
		return nil
	}
	if err := r.BeginEdit(); err != nil {
		return err
	}
	for i, c := range cols {
		r.proposed[c.ordinal] = values[i]
	}
	if err := r.EndEdit(); err != nil {
		r.CancelEdit()
		return err
	}
	return nil
}

// cloneValues copies v, keeping a zero-column version non-nil.
func cloneValues(v []any) []any {
	out := make([]any, len(v))
	copy(out, v)
	return out
}

func (r *Row) detach() {
	if r.current == nil {
		r.current = cloneValues(r.original)
	}
	r.original = nil
	r.proposed = nil
	r.editing = false
	r.state = RowDetached
}

// appendCell extends the row for a newly added column.
func (r *Row) appendCell(c *Column) {
	v := r.table.initialValue(c)
	shared := r.state == RowUnchanged
	r.current = append(r.current, v)
	if shared {
		r.original = r.current
	} else if r.original != nil {
		r.original = append(r.original, v)
	}
	if r.editing {
		r.proposed = append(r.proposed, v)
	}
}

func (r *Row) clearComputed(i int) {
	if r.current != nil {
		r.current[i] = nil
	}
	if r.original != nil {
		r.original[i] = nil
	}
	if r.proposed != nil {
		r.proposed[i] = nil
	}
}
