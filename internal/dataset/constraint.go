package dataset

import (
	"fmt"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Constraint is a rule attached to a table: either a *UniqueConstraint or a
// *ForeignKeyConstraint.
type Constraint interface {
	// ConstraintName returns the name, unique within the owning table.
	ConstraintName() string

	// Table returns the table the constraint is attached to.
	Table() *Table

	// Properties returns the extended properties of the constraint.
	Properties() *Properties

	isConstraint()
}

// UniqueConstraint requires the key formed by Columns to be unique across
// the live rows of the table.
type UniqueConstraint struct {
	Name         string
	Columns      []*Column
	IsPrimaryKey bool
	Extended     Properties
}

// NewUniqueConstraint creates a unique constraint over columns.
func NewUniqueConstraint(name string, columns []*Column, primaryKey bool) *UniqueConstraint {
	return &UniqueConstraint{Name: name, Columns: columns, IsPrimaryKey: primaryKey}
}

func (u *UniqueConstraint) ConstraintName() string  { return u.Name }
func (u *UniqueConstraint) Properties() *Properties { return &u.Extended }
func (u *UniqueConstraint) isConstraint()           {}

// Table returns the table owning the key columns.
func (u *UniqueConstraint) Table() *Table {
	if len(u.Columns) == 0 {
		return nil
	}
	return u.Columns[0].table
}

// ForeignKeyConstraint ties the child Columns of its table to the
// RelatedColumns of a parent table.
type ForeignKeyConstraint struct {
	Name           string
	Columns        []*Column
	RelatedColumns []*Column

	AcceptRejectRule AcceptRejectRule
	UpdateRule       Rule
	DeleteRule       Rule

	Extended Properties
}

// NewForeignKeyConstraint creates a foreign key from child columns to parent
// columns with cascading update and delete rules.
func NewForeignKeyConstraint(name string, parent, child []*Column) *ForeignKeyConstraint {
	return &ForeignKeyConstraint{
		Name:           name,
		Columns:        child,
		RelatedColumns: parent,
		UpdateRule:     RuleCascade,
		DeleteRule:     RuleCascade,
	}
}

func (f *ForeignKeyConstraint) ConstraintName() string  { return f.Name }
func (f *ForeignKeyConstraint) Properties() *Properties { return &f.Extended }
func (f *ForeignKeyConstraint) isConstraint()           {}

// Table returns the child table.
func (f *ForeignKeyConstraint) Table() *Table {
	if len(f.Columns) == 0 {
		return nil
	}
	return f.Columns[0].table
}

// RelatedTable returns the parent table.
func (f *ForeignKeyConstraint) RelatedTable() *Table {
	if len(f.RelatedColumns) == 0 {
		return nil
	}
	return f.RelatedColumns[0].table
}

// sameColumns reports whether a and b list the same columns in order.
func sameColumns(a, b []*Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkKeyColumns verifies the columns are non-empty, distinct and all owned
// by t.
func checkKeyColumns(t *Table, cols []*Column, what string) error {
	if len(cols) == 0 {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"%s requires at least one column", what)
	}
	seen := make(map[*Column]bool, len(cols))
	for _, c := range cols {
		if c == nil {
			return serrors.NewNilArgument(what + " column")
		}
		if c.table != t {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
				"%s column %q does not belong to table %q", what, c.Name, t.Name)
		}
		if seen[c] {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
				"%s lists column %q twice", what, c.Name)
		}
		seen[c] = true
	}
	return nil
}

// checkKeyPair verifies parent and child key columns line up by count and type.
func checkKeyPair(parent, child []*Column, what string) error {
	if len(parent) != len(child) {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
			"%s has %d parent columns but %d child columns", what, len(parent), len(child))
	}
	for i := range parent {
		if parent[i] == nil || child[i] == nil {
			return serrors.NewNilArgument(what + " column")
		}
		if parent[i].DataType != child[i].DataType {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeTypeMismatch,
				"%s: parent column %q is %s but child column %q is %s",
				what, parent[i].Name, parent[i].DataType, child[i].Name, child[i].DataType)
		}
	}
	return nil
}

func constraintLabel(kind, name string) string {
	if name == "" {
		return kind
	}
	return fmt.Sprintf("%s %q", kind, name)
}
