package surrogate

import (
	"fmt"

	"github.com/arkilian/surrogate/internal/dataset"
	"github.com/arkilian/surrogate/internal/wire"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// ColumnDescriptor is the portable schema of one column.
type ColumnDescriptor struct {
	Name              string
	Namespace         string
	Prefix            string
	Mapping           dataset.MappingType
	AllowNull         bool
	AutoIncrement     bool
	AutoIncrementStep int64
	AutoIncrementSeed int64
	Caption           string
	DefaultValue      any
	ReadOnly          bool
	MaxLength         int
	DataType          dataset.DataType

	// Expression is applied only after every column of the owning table
	// exists, see ApplyExpression.
	Expression string

	Extended []Property
}

// CaptureColumn records the schema of c.
func CaptureColumn(c *dataset.Column) (*ColumnDescriptor, error) {
	if c == nil {
		return nil, serrors.NewNilArgument("column")
	}
	return &ColumnDescriptor{
		Name:              c.Name,
		Namespace:         c.Namespace,
		Prefix:            c.Prefix,
		Mapping:           c.Mapping,
		AllowNull:         c.AllowNull,
		AutoIncrement:     c.AutoIncrement,
		AutoIncrementStep: c.AutoIncrementStep,
		AutoIncrementSeed: c.AutoIncrementSeed,
		Caption:           c.Caption,
		DefaultValue:      c.DefaultValue,
		ReadOnly:          c.ReadOnly,
		MaxLength:         c.MaxLength,
		DataType:          c.DataType,
		Expression:        c.Expression(),
		Extended:          captureProperties(&c.Extended),
	}, nil
}

// Restore builds a fresh detached column. The expression is not applied.
func (d *ColumnDescriptor) Restore() (*dataset.Column, error) {
	c := dataset.NewColumn(d.Name, d.DataType)
	c.Namespace = d.Namespace
	c.Prefix = d.Prefix
	c.Mapping = d.Mapping
	c.AllowNull = d.AllowNull
	c.AutoIncrement = d.AutoIncrement
	c.AutoIncrementStep = d.AutoIncrementStep
	c.AutoIncrementSeed = d.AutoIncrementSeed
	c.Caption = d.Caption
	c.DefaultValue = d.DefaultValue
	c.ReadOnly = d.ReadOnly
	c.MaxLength = d.MaxLength
	if err := restoreProperties(&c.Extended, d.Extended); err != nil {
		return nil, fmt.Errorf("column %q: %w", d.Name, err)
	}
	return c, nil
}

// ApplyExpression sets the stored expression on an attached column.
func (d *ColumnDescriptor) ApplyExpression(c *dataset.Column) error {
	if c == nil {
		return serrors.NewNilArgument("column")
	}
	if d.Expression == "" {
		return nil
	}
	return c.SetExpression(d.Expression)
}

// CheckSchema lists the attributes in which c differs from the descriptor.
// ReadOnly is not compared: loads suppress it.
func (d *ColumnDescriptor) CheckSchema(c *dataset.Column) []Mismatch {
	if c == nil {
		return []Mismatch{{Path: d.path(), Attribute: "existence", Want: d.Name}}
	}
	return d.checkSchema(c, d.path())
}

func (d *ColumnDescriptor) checkSchema(c *dataset.Column, path string) []Mismatch {
	var ms mismatches
	ms.check(path, "name", d.Name, c.Name, d.Name == c.Name)
	ms.check(path, "namespace", d.Namespace, c.Namespace, d.Namespace == c.Namespace)
	ms.check(path, "prefix", d.Prefix, c.Prefix, d.Prefix == c.Prefix)
	ms.check(path, "data type", d.DataType, c.DataType, d.DataType == c.DataType)
	ms.check(path, "mapping", d.Mapping, c.Mapping, d.Mapping == c.Mapping)
	ms.check(path, "allow null", d.AllowNull, c.AllowNull, d.AllowNull == c.AllowNull)
	ms.check(path, "auto increment", d.AutoIncrement, c.AutoIncrement, d.AutoIncrement == c.AutoIncrement)
	ms.check(path, "auto increment step", d.AutoIncrementStep, c.AutoIncrementStep, d.AutoIncrementStep == c.AutoIncrementStep)
	ms.check(path, "auto increment seed", d.AutoIncrementSeed, c.AutoIncrementSeed, d.AutoIncrementSeed == c.AutoIncrementSeed)
	ms.check(path, "caption", d.Caption, c.Caption, d.Caption == c.Caption)
	ms.check(path, "default value", d.DefaultValue, c.DefaultValue, dataset.ValuesEqual(d.DefaultValue, c.DefaultValue))
	ms.check(path, "max length", d.MaxLength, c.MaxLength, d.MaxLength == c.MaxLength)
	ms.check(path, "expression", d.Expression, c.Expression(), d.Expression == c.Expression())
	return ms
}

// IsSchemaIdentical reports whether CheckSchema finds no differences.
func (d *ColumnDescriptor) IsSchemaIdentical(c *dataset.Column) bool {
	return len(d.CheckSchema(c)) == 0
}

func (d *ColumnDescriptor) path() string {
	return fmt.Sprintf("column %q", d.Name)
}

func (d *ColumnDescriptor) encode(w *wire.Writer) error {
	w.String(d.Name)
	w.String(d.Namespace)
	w.String(d.Prefix)
	w.Byte(byte(d.Mapping))
	w.Bool(d.AllowNull)
	w.Bool(d.AutoIncrement)
	w.Varint(d.AutoIncrementStep)
	w.Varint(d.AutoIncrementSeed)
	w.String(d.Caption)
	if err := w.Value(d.DefaultValue); err != nil {
		return fmt.Errorf("column %q default: %w", d.Name, err)
	}
	w.Bool(d.ReadOnly)
	w.Varint(int64(d.MaxLength))
	w.Byte(byte(d.DataType))
	w.String(d.Expression)
	return writeProperties(w, d.Extended)
}

func decodeColumn(r *wire.Reader) *ColumnDescriptor {
	d := &ColumnDescriptor{}
	d.Name = r.String()
	d.Namespace = r.String()
	d.Prefix = r.String()
	d.Mapping = dataset.MappingType(r.Byte())
	d.AllowNull = r.Bool()
	d.AutoIncrement = r.Bool()
	d.AutoIncrementStep = r.Varint()
	d.AutoIncrementSeed = r.Varint()
	d.Caption = r.String()
	d.DefaultValue, _ = r.Value()
	d.ReadOnly = r.Bool()
	d.MaxLength = int(r.Varint())
	d.DataType = dataset.DataType(r.Byte())
	d.Expression = r.String()
	d.Extended = readProperties(r)
	if r.Err() != nil {
		return d
	}
	if d.Mapping < dataset.MappingElement || d.Mapping > dataset.MappingHidden {
		r.Failf(serrors.CodeCorruptStream, "surrogate: column %q has invalid mapping %d", d.Name, d.Mapping)
	}
	if !d.DataType.Valid() {
		r.Failf(serrors.CodeCorruptStream, "surrogate: column %q has invalid data type %d", d.Name, d.DataType)
	}
	if d.DefaultValue != nil && dataset.TypeOf(d.DefaultValue) != d.DataType {
		r.Failf(serrors.CodeCorruptStream, "surrogate: column %q default is %T, want %s", d.Name, d.DefaultValue, d.DataType)
	}
	return d
}
