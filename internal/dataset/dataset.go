package dataset

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Dataset is a named collection of tables plus the relations between them.
type Dataset struct {
	Name          string
	Namespace     string
	Prefix        string
	CaseSensitive bool
	Locale        language.Tag
	Extended      Properties

	tables             []*Table
	relations          []*Relation
	enforceConstraints bool
	relationN          int
}

// New creates an empty dataset with constraint enforcement on.
func New(name string) *Dataset {
	return &Dataset{
		Name:               name,
		Locale:             language.Und,
		enforceConstraints: true,
	}
}

// AddTable attaches t as the last table of the dataset.
func (d *Dataset) AddTable(t *Table) error {
	if t == nil {
		return serrors.NewNilArgument("table")
	}
	if t.dataset != nil {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"table %q already belongs to dataset %q", t.Name, t.dataset.Name)
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("Table%d", len(d.tables)+1)
	}
	for _, other := range d.tables {
		if other.Name == t.Name && other.Namespace == t.Namespace {
			return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeDuplicateName,
				"dataset %q already has a table named %q", d.Name, t.Name)
		}
	}
	t.dataset = d
	d.tables = append(d.tables, t)
	return nil
}

// Tables returns the tables in ordinal order.
func (d *Dataset) Tables() []*Table {
	return append([]*Table(nil), d.tables...)
}

// TableCount returns the number of tables.
func (d *Dataset) TableCount() int { return len(d.tables) }

// TableAt returns the table at ordinal i, or nil.
func (d *Dataset) TableAt(i int) *Table {
	if i < 0 || i >= len(d.tables) {
		return nil
	}
	return d.tables[i]
}

// Table looks a table up by name: exact match first, then case-insensitive.
func (d *Dataset) Table(name string) *Table {
	for _, t := range d.tables {
		if t.Name == name {
			return t
		}
	}
	for _, t := range d.tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// TableIndex returns the ordinal of t, or -1.
func (d *Dataset) TableIndex(t *Table) int {
	for i, x := range d.tables {
		if x == t {
			return i
		}
	}
	return -1
}

// AddRelation attaches rel. With createConstraints the child table gains a
// foreign key named after the relation, and the parent a unique constraint
// on its key columns when none exists.
func (d *Dataset) AddRelation(rel *Relation, createConstraints bool) error {
	if rel == nil {
		return serrors.NewNilArgument("relation")
	}
	if rel.dataset != nil {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"relation %q already belongs to a dataset", rel.Name)
	}
	parent, child := rel.ParentTable(), rel.ChildTable()
	if parent == nil || child == nil {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"relation %q requires parent and child columns", rel.Name)
	}
	if parent.dataset != d || child.dataset != d {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"relation %q: tables %q and %q must belong to dataset %q", rel.Name, parent.Name, child.Name, d.Name)
	}
	if err := checkKeyColumns(parent, rel.ParentColumns, "relation parent"); err != nil {
		return err
	}
	if err := checkKeyColumns(child, rel.ChildColumns, "relation child"); err != nil {
		return err
	}
	if err := checkKeyPair(rel.ParentColumns, rel.ChildColumns, "relation"); err != nil {
		return err
	}

	if rel.Name == "" {
		for {
			d.relationN++
			rel.Name = fmt.Sprintf("Relation%d", d.relationN)
			if d.Relation(rel.Name) == nil {
				break
			}
		}
	} else if d.Relation(rel.Name) != nil {
		return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeDuplicateName,
			"dataset %q already has a relation named %q", d.Name, rel.Name)
	}

	if createConstraints && rel.ChildKeyConstraint() == nil {
		name := rel.Name
		if child.Constraint(name) != nil {
			name = ""
		}
		fk := NewForeignKeyConstraint(name, rel.ParentColumns, rel.ChildColumns)
		if err := child.AddConstraint(fk); err != nil {
			return fmt.Errorf("relation %q: %w", rel.Name, err)
		}
	}

	rel.dataset = d
	d.relations = append(d.relations, rel)
	return nil
}

// Relations returns the relations in insertion order.
func (d *Dataset) Relations() []*Relation {
	return append([]*Relation(nil), d.relations...)
}

// Relation returns the named relation, or nil.
func (d *Dataset) Relation(name string) *Relation {
	for _, r := range d.relations {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// EnforceConstraints reports whether row mutations are validated.
func (d *Dataset) EnforceConstraints() bool { return d.enforceConstraints }

// SetEnforceConstraints toggles validation. Turning it on re-validates every
// live row; on failure enforcement stays off and the violation is returned.
func (d *Dataset) SetEnforceConstraints(on bool) error {
	if !on || d.enforceConstraints {
		d.enforceConstraints = on
		return nil
	}
	for _, t := range d.tables {
		for _, r := range t.rows {
			if r.state == RowDeleted {
				continue
			}
			if err := t.validateValues(r, r.current); err != nil {
				return fmt.Errorf("enable constraints on table %q: %w", t.Name, err)
			}
		}
	}
	d.enforceConstraints = true
	return nil
}

// AcceptChanges commits pending changes in every table.
func (d *Dataset) AcceptChanges() {
	for _, t := range d.tables {
		t.AcceptChanges()
	}
}

// RejectChanges rolls pending changes back in every table.
func (d *Dataset) RejectChanges() {
	for _, t := range d.tables {
		t.RejectChanges()
	}
}

// HasChanges reports whether any table has pending changes.
func (d *Dataset) HasChanges() bool {
	for _, t := range d.tables {
		if t.HasChanges() {
			return true
		}
	}
	return false
}

// HasErrors reports whether any row of any table carries an error.
func (d *Dataset) HasErrors() bool {
	for _, t := range d.tables {
		if t.HasErrors() {
			return true
		}
	}
	return false
}

// Clear removes every row from every table.
func (d *Dataset) Clear() {
	for _, t := range d.tables {
		t.Clear()
	}
}
