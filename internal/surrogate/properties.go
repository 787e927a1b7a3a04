package surrogate

import (
	"github.com/arkilian/surrogate/internal/dataset"
	"github.com/arkilian/surrogate/internal/wire"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Property is one captured extended-metadata entry.
type Property struct {
	Key   dataset.Key
	Value any
}

const (
	keyInt    byte = 0
	keyString byte = 1
)

// captureProperties copies p in key order.
func captureProperties(p *dataset.Properties) []Property {
	keys := p.Keys()
	if len(keys) == 0 {
		return nil
	}
	out := make([]Property, len(keys))
	for i, k := range keys {
		v, _ := p.Get(k)
		out[i] = Property{Key: k, Value: v}
	}
	return out
}

func restoreProperties(dst *dataset.Properties, props []Property) error {
	for _, p := range props {
		if err := dst.Set(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeProperties(w *wire.Writer, props []Property) error {
	w.Int(len(props))
	for _, p := range props {
		if p.Key.IsInt() {
			w.Byte(keyInt)
			w.Varint(p.Key.Int())
		} else {
			w.Byte(keyString)
			w.String(p.Key.Name())
		}
		if err := w.Value(p.Value); err != nil {
			return err
		}
	}
	return nil
}

func readProperties(r *wire.Reader) []Property {
	n := r.Int(2)
	if n == 0 {
		return nil
	}
	out := make([]Property, 0, n)
	seen := make(map[dataset.Key]bool, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		var k dataset.Key
		switch tag := r.Byte(); tag {
		case keyInt:
			k = dataset.IntKey(r.Varint())
		case keyString:
			k = dataset.StringKey(r.String())
		default:
			r.Failf(serrors.CodeUnknownTag, "surrogate: unknown property key tag %d", tag)
		}
		v, present := r.Value()
		if r.Err() == nil && !present {
			r.Failf(serrors.CodeCorruptStream, "surrogate: property %s has no value", k)
		}
		if seen[k] && r.Err() == nil {
			r.Failf(serrors.CodeCorruptStream, "surrogate: duplicate property key %s", k)
		}
		seen[k] = true
		out = append(out, Property{Key: k, Value: v})
	}
	return out
}
