package dataset

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// DefaultMinimumCapacity is the initial row capacity hint of a new table.
const DefaultMinimumCapacity = 50

// Table is an ordered, named collection of typed columns and change-tracked
// rows.
type Table struct {
	Name          string
	Namespace     string
	Prefix        string
	CaseSensitive bool

	// Locale drives case folding of string keys when CaseSensitive is false.
	Locale language.Tag

	DisplayExpression string
	MinimumCapacity   int
	Extended          Properties

	columns     []*Column
	constraints []Constraint
	rows        []*Row
	dataset     *Dataset
	constraintN int
	loading     bool
}

// NewTable creates an empty table.
func NewTable(name string) *Table {
	return &Table{
		Name:            name,
		Locale:          language.Und,
		MinimumCapacity: DefaultMinimumCapacity,
	}
}

// Dataset returns the owning dataset, or nil.
func (t *Table) Dataset() *Dataset { return t.dataset }

// AddColumn appends c to the table and assigns its ordinal.
func (t *Table) AddColumn(c *Column) error {
	if c == nil {
		return serrors.NewNilArgument("column")
	}
	if c.table != nil {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"column %q already belongs to table %q", c.Name, c.table.Name)
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("Column%d", len(t.columns)+1)
	}
	if t.columnExact(c.Name) != nil {
		return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeDuplicateName,
			"table %q already has a column named %q", t.Name, c.Name)
	}
	if !c.DataType.Valid() {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"column %q has no data type", c.Name)
	}
	if c.DefaultValue != nil {
		v, err := c.DataType.Coerce(c.DefaultValue)
		if err != nil {
			return fmt.Errorf("column %q default: %w", c.Name, err)
		}
		c.DefaultValue = v
	}
	if c.expression != "" {
		if err := t.checkExpression(c, c.expression); err != nil {
			return err
		}
	}

	c.table = t
	c.ordinal = len(t.columns)
	c.autoNext = c.AutoIncrementSeed
	t.columns = append(t.columns, c)

	// Existing rows gain a cell holding the default value.
	for _, r := range t.rows {
		r.appendCell(c)
	}
	return nil
}

// Columns returns the columns in ordinal order.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.columns...)
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int { return len(t.columns) }

// ColumnAt returns the column at ordinal i, or nil when out of range.
func (t *Table) ColumnAt(i int) *Column {
	if i < 0 || i >= len(t.columns) {
		return nil
	}
	return t.columns[i]
}

// Column looks a column up by name: exact match first, then case-insensitive.
func (t *Table) Column(name string) *Column {
	if c := t.columnExact(name); c != nil {
		return c
	}
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func (t *Table) columnExact(name string) *Column {
	for _, c := range t.columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddConstraint attaches a unique or foreign-key constraint. Adding a foreign
// key also adds a unique constraint on the parent columns when none exists.
func (t *Table) AddConstraint(c Constraint) error {
	if c == nil {
		return serrors.NewNilArgument("constraint")
	}
	switch x := c.(type) {
	case *UniqueConstraint:
		return t.addUnique(x)
	case *ForeignKeyConstraint:
		return t.addForeignKey(x)
	default:
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"unsupported constraint type %T", c)
	}
}

func (t *Table) addUnique(u *UniqueConstraint) error {
	if err := checkKeyColumns(t, u.Columns, "unique constraint"); err != nil {
		return err
	}
	for _, existing := range t.UniqueConstraints() {
		if sameColumns(existing.Columns, u.Columns) {
			return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeDuplicateName,
				"table %q already has a unique constraint on these columns", t.Name)
		}
		if u.IsPrimaryKey && existing.IsPrimaryKey {
			return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeDuplicateName,
				"table %q already has a primary key", t.Name)
		}
	}
	if err := t.nameConstraint(&u.Name); err != nil {
		return err
	}
	if t.enforcing() {
		if err := t.validateUnique(u); err != nil {
			return err
		}
	}
	if u.IsPrimaryKey {
		for _, c := range u.Columns {
			c.AllowNull = false
		}
	}
	t.constraints = append(t.constraints, u)
	return nil
}

func (t *Table) addForeignKey(fk *ForeignKeyConstraint) error {
	if err := checkKeyColumns(t, fk.Columns, "foreign key"); err != nil {
		return err
	}
	if err := checkKeyPair(fk.RelatedColumns, fk.Columns, "foreign key"); err != nil {
		return err
	}
	parent := fk.RelatedTable()
	if parent == nil {
		return serrors.NewNilArgument("foreign key parent table")
	}
	if err := checkKeyColumns(parent, fk.RelatedColumns, "foreign key parent"); err != nil {
		return err
	}
	if parent != t && (t.dataset == nil || parent.dataset != t.dataset) {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"foreign key %q: tables %q and %q are not in the same dataset", fk.Name, parent.Name, t.Name)
	}
	if err := t.nameConstraint(&fk.Name); err != nil {
		return err
	}
	if parent.uniqueOn(fk.RelatedColumns) == nil {
		if err := parent.addUnique(NewUniqueConstraint("", fk.RelatedColumns, false)); err != nil {
			return fmt.Errorf("foreign key %q: %w", fk.Name, err)
		}
	}
	if t.enforcing() {
		for _, r := range t.rows {
			if r.state == RowDeleted {
				continue
			}
			if err := checkParentExists(fk, r.current); err != nil {
				return err
			}
		}
	}
	t.constraints = append(t.constraints, fk)
	return nil
}

// nameConstraint assigns a generated name when empty and rejects duplicates.
func (t *Table) nameConstraint(name *string) error {
	if *name == "" {
		for {
			t.constraintN++
			candidate := fmt.Sprintf("Constraint%d", t.constraintN)
			if t.Constraint(candidate) == nil {
				*name = candidate
				break
			}
		}
		return nil
	}
	if t.Constraint(*name) != nil {
		return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeDuplicateName,
			"table %q already has a constraint named %q", t.Name, *name)
	}
	return nil
}

// Constraints returns the table's constraints in insertion order.
func (t *Table) Constraints() []Constraint {
	return append([]Constraint(nil), t.constraints...)
}

// Constraint returns the constraint with the given name, or nil.
func (t *Table) Constraint(name string) Constraint {
	for _, c := range t.constraints {
		if c.ConstraintName() == name {
			return c
		}
	}
	return nil
}

// UniqueConstraints returns the unique constraints in insertion order.
func (t *Table) UniqueConstraints() []*UniqueConstraint {
	var out []*UniqueConstraint
	for _, c := range t.constraints {
		if u, ok := c.(*UniqueConstraint); ok {
			out = append(out, u)
		}
	}
	return out
}

// ForeignKeys returns the foreign keys whose child table is t.
func (t *Table) ForeignKeys() []*ForeignKeyConstraint {
	var out []*ForeignKeyConstraint
	for _, c := range t.constraints {
		if fk, ok := c.(*ForeignKeyConstraint); ok {
			out = append(out, fk)
		}
	}
	return out
}

// RemoveConstraint detaches the named constraint.
func (t *Table) RemoveConstraint(name string) bool {
	for i, c := range t.constraints {
		if c.ConstraintName() == name {
			t.constraints = append(t.constraints[:i], t.constraints[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Table) uniqueOn(cols []*Column) *UniqueConstraint {
	for _, u := range t.UniqueConstraints() {
		if sameColumns(u.Columns, cols) {
			return u
		}
	}
	return nil
}

// PrimaryKey returns the primary-key columns, or nil.
func (t *Table) PrimaryKey() []*Column {
	for _, u := range t.UniqueConstraints() {
		if u.IsPrimaryKey {
			return append([]*Column(nil), u.Columns...)
		}
	}
	return nil
}

// SetPrimaryKey declares cols as the primary key. An existing unique
// constraint on the same columns is promoted.
func (t *Table) SetPrimaryKey(cols ...*Column) error {
	for _, u := range t.UniqueConstraints() {
		if u.IsPrimaryKey {
			if sameColumns(u.Columns, cols) {
				return nil
			}
			u.IsPrimaryKey = false
		}
	}
	if u := t.uniqueOn(cols); u != nil {
		u.IsPrimaryKey = true
		for _, c := range cols {
			c.AllowNull = false
		}
		return nil
	}
	return t.addUnique(NewUniqueConstraint("", cols, true))
}

// ReferencingKeys returns every foreign key, in any table of the dataset,
// whose parent table is t.
func (t *Table) ReferencingKeys() []*ForeignKeyConstraint {
	if t.dataset == nil {
		var out []*ForeignKeyConstraint
		for _, fk := range t.ForeignKeys() {
			if fk.RelatedTable() == t {
				out = append(out, fk)
			}
		}
		return out
	}
	var out []*ForeignKeyConstraint
	for _, child := range t.dataset.tables {
		for _, fk := range child.ForeignKeys() {
			if fk.RelatedTable() == t {
				out = append(out, fk)
			}
		}
	}
	return out
}

// enforcing reports whether constraints are checked on mutation.
func (t *Table) enforcing() bool {
	if t.loading {
		return false
	}
	return t.dataset == nil || t.dataset.enforceConstraints
}

// BeginLoad turns constraint checks off for t until EndLoad, so rows whose
// keys are only consistent as a whole can be added one at a time.
func (t *Table) BeginLoad() { t.loading = true }

// EndLoad turns checks back on and re-validates every live row. The load
// mode ends even when a violation is returned.
func (t *Table) EndLoad() error {
	t.loading = false
	if !t.enforcing() {
		return nil
	}
	for _, r := range t.rows {
		if r.state == RowDeleted {
			continue
		}
		if err := t.validateValues(r, r.current); err != nil {
			return fmt.Errorf("end load on table %q: %w", t.Name, err)
		}
	}
	return nil
}

// NewRow returns a detached row carrying default and auto-increment values.
func (t *Table) NewRow() *Row {
	r := &Row{table: t, state: RowDetached, current: make([]any, len(t.columns))}
	for i, c := range t.columns {
		r.current[i] = t.initialValue(c)
	}
	return r
}

func (t *Table) initialValue(c *Column) any {
	switch {
	case c.IsComputed():
		return nil
	case c.AutoIncrement:
		return c.nextAutoValue()
	default:
		return c.DefaultValue
	}
}

// AddRow attaches a detached row created by NewRow. The row becomes Added.
func (t *Table) AddRow(r *Row) error {
	if r == nil {
		return serrors.NewNilArgument("row")
	}
	if r.table != t {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"row belongs to another table")
	}
	if r.state != RowDetached {
		return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeInvalidState,
			"row is already attached (%s)", r.state)
	}
	if t.enforcing() {
		if err := t.validateValues(r, r.current); err != nil {
			return err
		}
	}
	for i, c := range t.columns {
		if c.AutoIncrement {
			c.observeAutoValue(r.current[i])
		}
	}
	r.state = RowAdded
	r.original = nil
	t.rows = append(t.rows, r)
	return nil
}

// AddValues is a shorthand for NewRow, setting each value by ordinal, AddRow.
func (t *Table) AddValues(values ...any) (*Row, error) {
	if len(values) > len(t.columns) {
		return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"table %q has %d columns, got %d values", t.Name, len(t.columns), len(values))
	}
	r := t.NewRow()
	for i, v := range values {
		if t.columns[i].IsComputed() {
			continue
		}
		if err := r.Set(i, v); err != nil {
			return nil, err
		}
	}
	if err := t.AddRow(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Rows returns every attached row in insertion order, deleted rows included.
func (t *Table) Rows() []*Row {
	return append([]*Row(nil), t.rows...)
}

// LiveRows returns the attached rows that are not deleted.
func (t *Table) LiveRows() []*Row {
	out := make([]*Row, 0, len(t.rows))
	for _, r := range t.rows {
		if r.state != RowDeleted {
			out = append(out, r)
		}
	}
	return out
}

// RowCount returns the number of attached rows, deleted rows included.
func (t *Table) RowCount() int { return len(t.rows) }

// RowAt returns the attached row at index i, or nil.
func (t *Table) RowAt(i int) *Row {
	if i < 0 || i >= len(t.rows) {
		return nil
	}
	return t.rows[i]
}

// AcceptChanges commits every pending change in the table.
func (t *Table) AcceptChanges() {
	for _, r := range t.Rows() {
		if r.table == t && r.state != RowDetached {
			r.AcceptChanges()
		}
	}
}

// RejectChanges rolls every pending change in the table back.
func (t *Table) RejectChanges() {
	for _, r := range t.Rows() {
		if r.table == t && r.state != RowDetached {
			r.RejectChanges()
		}
	}
}

// HasChanges reports whether any row is Added, Modified or Deleted.
func (t *Table) HasChanges() bool {
	for _, r := range t.rows {
		if r.state != RowUnchanged {
			return true
		}
	}
	return false
}

// HasErrors reports whether any row carries a row or column error.
func (t *Table) HasErrors() bool {
	for _, r := range t.rows {
		if r.HasErrors() {
			return true
		}
	}
	return false
}

// Clear removes every row without tracking the removal.
func (t *Table) Clear() {
	for _, r := range t.rows {
		r.detach()
	}
	t.rows = nil
}

// RemoveRow detaches r without tracking the removal, as if it had never been
// added. It reports whether r was attached to t.
func (t *Table) RemoveRow(r *Row) bool {
	if r == nil || r.table != t || r.state == RowDetached {
		return false
	}
	t.removeRow(r)
	return true
}

func (t *Table) removeRow(r *Row) {
	for i, x := range t.rows {
		if x == r {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			break
		}
	}
	r.detach()
}

// foldKey normalizes a string for key comparison under the table's
// case-sensitivity and locale.
func (t *Table) foldKey(s string) string {
	if t.CaseSensitive {
		return s
	}
	return cases.Lower(t.Locale).String(s)
}

// keysEqual compares two key values under the table's string rules.
func (t *Table) keysEqual(a, b any) bool {
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return t.foldKey(sa) == t.foldKey(sb)
	}
	return ValuesEqual(a, b)
}

// validateValues checks nullability, uniqueness and parent existence of a
// prospective value set for r.
func (t *Table) validateValues(r *Row, values []any) error {
	for i, c := range t.columns {
		if !c.AllowNull && !c.IsComputed() && values[i] == nil {
			return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeNullNotAllowed,
				"column %q of table %q does not allow nulls", c.Name, t.Name)
		}
	}
	for _, u := range t.UniqueConstraints() {
		if dup := t.findKey(u.Columns, values, r); dup != nil {
			return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeUniqueViolation,
				"%s on table %q: key %v already present", constraintLabel("unique constraint", u.Name), t.Name, keyValues(u.Columns, values))
		}
	}
	for _, fk := range t.ForeignKeys() {
		if err := checkParentExists(fk, values); err != nil {
			return err
		}
	}
	return nil
}

// validateUnique checks the live rows already satisfy u.
func (t *Table) validateUnique(u *UniqueConstraint) error {
	for _, r := range t.rows {
		if r.state == RowDeleted {
			continue
		}
		if dup := t.findKey(u.Columns, r.current, r); dup != nil {
			return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeUniqueViolation,
				"%s on table %q: key %v is duplicated", constraintLabel("unique constraint", u.Name), t.Name, keyValues(u.Columns, r.current))
		}
	}
	return nil
}

// findKey returns a live row other than skip whose key columns hold values
// matching the same columns of values. Keys containing nil never match.
func (t *Table) findKey(cols []*Column, values []any, skip *Row) *Row {
	for _, c := range cols {
		if values[c.ordinal] == nil {
			return nil
		}
	}
	for _, other := range t.rows {
		if other == skip || other.state == RowDeleted {
			continue
		}
		match := true
		for _, c := range cols {
			if !t.keysEqual(other.current[c.ordinal], values[c.ordinal]) {
				match = false
				break
			}
		}
		if match {
			return other
		}
	}
	return nil
}

func keyValues(cols []*Column, values []any) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = values[c.ordinal]
	}
	return out
}

// checkParentExists verifies a child value set has a live parent row.
func checkParentExists(fk *ForeignKeyConstraint, childValues []any) error {
	key := make([]any, len(fk.Columns))
	for i, c := range fk.Columns {
		key[i] = childValues[c.ordinal]
		if key[i] == nil {
			return nil
		}
	}
	parent := fk.RelatedTable()
	if len(matchingRows(parent, fk.RelatedColumns, key, false)) > 0 {
		return nil
	}
	return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeFKViolation,
		"%s: no parent row in %q for key %v", constraintLabel("foreign key", fk.Name), parent.Name, key)
}

// matchingRows returns the rows of t whose cols hold key. Deleted rows are
// matched on their original values only when includeDeleted is set.
func matchingRows(t *Table, cols []*Column, key []any, includeDeleted bool) []*Row {
	var out []*Row
	for _, r := range t.rows {
		values := r.current
		if r.state == RowDeleted {
			if !includeDeleted {
				continue
			}
			values = r.original
		}
		match := true
		for i, c := range cols {
			if !t.keysEqual(values[c.ordinal], key[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}

// cascade is a deferred child-row change produced while planning an update or
// delete of a parent row.
type cascade func() error

// planUpdate decides how child rows follow a change of r's key values from
// old to next, per each referencing foreign key's UpdateRule.
func (t *Table) planUpdate(r *Row, old, next []any) ([]cascade, error) {
	if old == nil {
		return nil, nil
	}
	var out []cascade
	for _, fk := range t.ReferencingKeys() {
		oldKey := keyValues(fk.RelatedColumns, old)
		newKey := keyValues(fk.RelatedColumns, next)
		if t.sameKey(oldKey, newKey) {
			continue
		}
		children := childrenOf(fk, oldKey, r)
		if len(children) == 0 {
			continue
		}
		c, err := t.ruleAction(fk, fk.UpdateRule, children, newKey, false)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// planDelete decides how child rows follow the deletion of r, per each
// referencing foreign key's DeleteRule.
func (t *Table) planDelete(r *Row) ([]cascade, error) {
	var out []cascade
	for _, fk := range t.ReferencingKeys() {
		children := childrenOf(fk, r.keyOf(fk.RelatedColumns), r)
		if len(children) == 0 {
			continue
		}
		c, err := t.ruleAction(fk, fk.DeleteRule, children, nil, true)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *Table) ruleAction(fk *ForeignKeyConstraint, rule Rule, children []*Row, newKey []any, deleting bool) (cascade, error) {
	switch rule {
	case RuleCascade:
		return func() error {
			for _, child := range children {
				var err error
				if deleting {
					err = child.Delete()
				} else {
					err = child.assign(fk.Columns, newKey)
				}
				if err != nil {
					return err
				}
			}
			return nil
		}, nil
	case RuleSetNull, RuleSetDefault:
		values := make([]any, len(fk.Columns))
		if rule == RuleSetDefault {
			for i, c := range fk.Columns {
				values[i] = c.DefaultValue
			}
		}
		return func() error {
			for _, child := range children {
				if err := child.assign(fk.Columns, values); err != nil {
					return err
				}
			}
			return nil
		}, nil
	}
	if !t.enforcing() {
		return func() error { return nil }, nil
	}
	return nil, serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeFKViolation,
		"%s: %d child rows in %q still reference the key",
		constraintLabel("foreign key", fk.Name), len(children), fk.Table().Name)
}

func (t *Table) sameKey(a, b []any) bool {
	for i := range a {
		if !t.keysEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// childrenOf returns the live child rows of fk holding key, excluding self.
// Keys containing nil have no children.
func childrenOf(fk *ForeignKeyConstraint, key []any, self *Row) []*Row {
	for _, v := range key {
		if v == nil {
			return nil
		}
	}
	var out []*Row
	for _, child := range matchingRows(fk.Table(), fk.Columns, key, false) {
		if child != self {
			out = append(out, child)
		}
	}
	return out
}
