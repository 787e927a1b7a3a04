package surrogate

import (
	"fmt"
	"strings"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Mismatch names one schema attribute that differs between a descriptor and
// a live object.
type Mismatch struct {
	// Path locates the object, e.g. `table "Orders" column "Id"`.
	Path      string
	Attribute string
	Want      any
	Got       any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s differs (want %v, got %v)", m.Path, m.Attribute, m.Want, m.Got)
}

type mismatches []Mismatch

func (ms *mismatches) check(path, attr string, want, got any, equal bool) {
	if !equal {
		*ms = append(*ms, Mismatch{Path: path, Attribute: attr, Want: want, Got: got})
	}
}

// schemaError reports ms as a SCHEMA_MISMATCH error.
func schemaError(ms []Mismatch) error {
	lines := make([]string, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, m.String())
	}
	return serrors.NewSchemaError("destination schema differs: " + strings.Join(lines, "; ")).
		WithDetails(map[string]interface{}{"mismatches": ms})
}
