// Package dataset provides an in-memory relational dataset: typed columns,
// tables with change-tracked rows, unique and foreign-key constraints, and
// relations between tables. It is the live model the surrogate codec
// captures from and restores into.
//
// A Dataset and everything reachable from it is not safe for concurrent use.
// Callers must hold exclusive access while mutating or capturing.
package dataset

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// DataType is the declared value type of a column.
type DataType uint8

const (
	TypeUnknown DataType = iota
	TypeBoolean
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeString
	TypeBytes
	TypeDateTime
	TypeGuid
)

var dataTypeNames = map[DataType]string{
	TypeUnknown:  "unknown",
	TypeBoolean:  "boolean",
	TypeInt32:    "int32",
	TypeInt64:    "int64",
	TypeFloat64:  "float64",
	TypeString:   "string",
	TypeBytes:    "bytes",
	TypeDateTime: "datetime",
	TypeGuid:     "guid",
}

// String returns the lowercase type name.
func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", uint8(t))
}

// Valid reports whether t is a known, concrete type.
func (t DataType) Valid() bool {
	return t > TypeUnknown && t <= TypeGuid
}

// ParseDataType resolves a type name as returned by String.
func ParseDataType(name string) (DataType, error) {
	for t, n := range dataTypeNames {
		if t != TypeUnknown && strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("dataset: unknown data type %q", name)
}

// Coerce converts v into the canonical Go representation for t.
// nil passes through unchanged and represents a database null.
func (t DataType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInt32:
		if n, ok := toInt64(v); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, typeMismatch(t, v)
			}
			return int32(n), nil
		}
	case TypeInt64:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case TypeFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
		if n, ok := toInt64(v); ok {
			return float64(n), nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBytes:
		if b, ok := v.([]byte); ok {
			return bytes.Clone(b), nil
		}
	case TypeDateTime:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	case TypeGuid:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case [16]byte:
			return uuid.UUID(x), nil
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, typeMismatch(t, v)
			}
			return id, nil
		}
	}
	return nil, typeMismatch(t, v)
}

// TypeOf returns the DataType whose canonical representation v already is.
// It returns TypeUnknown for nil and for values outside the canonical set.
func TypeOf(v any) DataType {
	switch v.(type) {
	case bool:
		return TypeBoolean
	case int32:
		return TypeInt32
	case int64:
		return TypeInt64
	case float64:
		return TypeFloat64
	case string:
		return TypeString
	case []byte:
		return TypeBytes
	case time.Time:
		return TypeDateTime
	case uuid.UUID:
		return TypeGuid
	default:
		return TypeUnknown
	}
}

// Normalize maps an arbitrary Go scalar onto the canonical value set used by
// cells and extended properties: plain ints widen to int64, float32 to
// float64. Anything else outside the set is rejected.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t := TypeOf(v); t != TypeUnknown {
		if t == TypeBytes {
			return bytes.Clone(v.([]byte)), nil
		}
		return v, nil
	}
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case [16]byte:
		return uuid.UUID(x), nil
	}
	if n, ok := toInt64(v); ok {
		return n, nil
	}
	return nil, serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeTypeMismatch,
		"unsupported value type %T", v)
}

// ValuesEqual compares two canonical values. Two nils are equal; a nil and a
// non-nil value are not.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return a == b
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func typeMismatch(t DataType, v any) error {
	return serrors.Newf(serrors.ErrCategoryConstraint, serrors.CodeTypeMismatch,
		"value %v of type %T cannot be stored in a %s column", v, v, t)
}

// MappingType controls how a column maps into a hierarchical export.
type MappingType uint8

const (
	MappingElement MappingType = iota + 1
	MappingAttribute
	MappingSimpleContent
	MappingHidden
)

func (m MappingType) String() string {
	switch m {
	case MappingElement:
		return "element"
	case MappingAttribute:
		return "attribute"
	case MappingSimpleContent:
		return "simple-content"
	case MappingHidden:
		return "hidden"
	default:
		return fmt.Sprintf("mapping(%d)", uint8(m))
	}
}

// Rule is the action a foreign key takes on child rows when a parent row is
// updated or deleted.
type Rule uint8

const (
	RuleNone Rule = iota
	RuleCascade
	RuleSetNull
	RuleSetDefault
)

func (r Rule) String() string {
	switch r {
	case RuleNone:
		return "none"
	case RuleCascade:
		return "cascade"
	case RuleSetNull:
		return "set-null"
	case RuleSetDefault:
		return "set-default"
	default:
		return fmt.Sprintf("rule(%d)", uint8(r))
	}
}

// AcceptRejectRule controls whether AcceptChanges/RejectChanges on a parent
// row propagate to its child rows.
type AcceptRejectRule uint8

const (
	AcceptRejectNone AcceptRejectRule = iota
	AcceptRejectCascade
)

func (r AcceptRejectRule) String() string {
	if r == AcceptRejectCascade {
		return "cascade"
	}
	return "none"
}

// RowState tracks how a row differs from its last accepted baseline.
type RowState uint8

const (
	RowDetached RowState = iota
	RowUnchanged
	RowAdded
	RowModified
	RowDeleted
)

func (s RowState) String() string {
	switch s {
	case RowDetached:
		return "detached"
	case RowUnchanged:
		return "unchanged"
	case RowAdded:
		return "added"
	case RowModified:
		return "modified"
	case RowDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("rowstate(%d)", uint8(s))
	}
}

// Version selects which copy of a row's values to read.
type Version uint8

const (
	VersionCurrent Version = iota
	VersionOriginal
	VersionProposed
)
