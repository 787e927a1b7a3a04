package dataset

import (
	"fmt"
	"sort"
	"strconv"
)

// Key identifies an extended property. Keys are either strings or integers;
// arbitrary object keys are not supported because they cannot be encoded
// without losing identity.
type Key struct {
	str   string
	num   int64
	isNum bool
}

// StringKey returns a string-valued property key.
func StringKey(s string) Key { return Key{str: s} }

// IntKey returns an integer-valued property key.
func IntKey(n int64) Key { return Key{num: n, isNum: true} }

// IsInt reports whether the key is integer-valued.
func (k Key) IsInt() bool { return k.isNum }

// Int returns the integer value of an integer key.
func (k Key) Int() int64 { return k.num }

// Name returns the string value of a string key.
func (k Key) Name() string { return k.str }

func (k Key) String() string {
	if k.isNum {
		return "#" + strconv.FormatInt(k.num, 10)
	}
	return k.str
}

// Less orders integer keys before string keys, each in natural order.
func (k Key) Less(o Key) bool {
	if k.isNum != o.isNum {
		return k.isNum
	}
	if k.isNum {
		return k.num < o.num
	}
	return k.str < o.str
}

// Properties is a set of extended key/value annotations attached to a
// column, table, constraint, relation or dataset. The zero value is empty and
// ready to use.
type Properties struct {
	m map[Key]any
}

// Set stores v under k. The value must be nil or normalizable to the
// canonical value set.
func (p *Properties) Set(k Key, v any) error {
	nv, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("dataset: property %s: %w", k, err)
	}
	if p.m == nil {
		p.m = make(map[Key]any)
	}
	p.m[k] = nv
	return nil
}

// Get returns the value stored under k.
func (p *Properties) Get(k Key) (any, bool) {
	v, ok := p.m[k]
	return v, ok
}

// Delete removes k.
func (p *Properties) Delete(k Key) {
	delete(p.m, k)
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	return len(p.m)
}

// Keys returns all keys in deterministic order.
func (p *Properties) Keys() []Key {
	keys := make([]Key, 0, len(p.m))
	for k := range p.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// CopyFrom adds every property of o to p, overwriting existing keys.
func (p *Properties) CopyFrom(o *Properties) {
	if o == nil || len(o.m) == 0 {
		return
	}
	if p.m == nil {
		p.m = make(map[Key]any, len(o.m))
	}
	for k, v := range o.m {
		p.m[k] = v
	}
}

// Equal reports whether both sets hold the same keys with equal values.
func (p *Properties) Equal(o *Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	for k, v := range p.m {
		ov, ok := o.m[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}
