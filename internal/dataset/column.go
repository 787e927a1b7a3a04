package dataset

import (
	"fmt"
	"unicode/utf8"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Column describes one typed column of a Table.
type Column struct {
	Name      string
	Namespace string
	Prefix    string
	Mapping   MappingType

	// AllowNull permits nil cell values.
	AllowNull bool

	// AutoIncrement assigns Seed, Seed+Step, ... to new rows.
	AutoIncrement     bool
	AutoIncrementSeed int64
	AutoIncrementStep int64

	Caption      string
	DefaultValue any

	// ReadOnly rejects edits to rows already attached to a table.
	ReadOnly bool

	// MaxLength bounds string values in runes. Negative means unbounded.
	MaxLength int

	DataType DataType
	Extended Properties

	expression string
	table      *Table
	ordinal    int
	autoNext   int64
}

// NewColumn creates a detached column with the usual defaults: nullable,
// element mapping, unbounded length, auto-increment step 1.
func NewColumn(name string, typ DataType) *Column {
	return &Column{
		Name:              name,
		Mapping:           MappingElement,
		AllowNull:         true,
		AutoIncrementStep: 1,
		MaxLength:         -1,
		DataType:          typ,
		ordinal:           -1,
	}
}

// Table returns the owning table, or nil for a detached column.
func (c *Column) Table() *Table { return c.table }

// Ordinal returns the zero-based position within the owning table, or -1.
func (c *Column) Ordinal() int { return c.ordinal }

// Expression returns the computed-expression text.
func (c *Column) Expression() string { return c.expression }

// IsComputed reports whether the column carries an expression. Computed
// columns hold no stored cell values and cannot be written.
func (c *Column) IsComputed() bool { return c.expression != "" }

// SetExpression sets the computed-expression text. On an attached column
// every column the expression references must already exist in the table.
func (c *Column) SetExpression(expr string) error {
	if expr != "" && c.table != nil {
		if err := c.table.checkExpression(c, expr); err != nil {
			return err
		}
	}
	c.expression = expr
	if c.table != nil {
		for _, r := range c.table.rows {
			r.clearComputed(c.ordinal)
		}
	}
	return nil
}

// coerce converts v to the column type and enforces MaxLength.
func (c *Column) coerce(v any) (any, error) {
	val, err := c.DataType.Coerce(v)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", c.Name, err)
	}
	if s, ok := val.(string); ok && c.MaxLength >= 0 && utf8.RuneCountInString(s) > c.MaxLength {
		return nil, serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeMaxLength,
			"column %q: value has %d characters, max length is %d", c.Name, utf8.RuneCountInString(s), c.MaxLength)
	}
	return val, nil
}

// nextAutoValue returns the next auto-increment value in the column's type.
func (c *Column) nextAutoValue() any {
	n := c.autoNext
	c.autoNext += c.AutoIncrementStep
	if v, err := c.DataType.Coerce(n); err == nil {
		return v
	}
	return nil
}

// observeAutoValue advances the auto-increment counter past an explicit value.
func (c *Column) observeAutoValue(v any) {
	n, ok := toInt64(v)
	if !ok || c.AutoIncrementStep == 0 {
		return
	}
	if c.AutoIncrementStep > 0 && n >= c.autoNext {
		c.autoNext = n + c.AutoIncrementStep
	} else if c.AutoIncrementStep < 0 && n <= c.autoNext {
		c.autoNext = n + c.AutoIncrementStep
	}
}
