package sqlsource

import (
	"errors"

	"github.com/lib/pq"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

func postgresQuote(name string) string {
	return pq.QuoteIdentifier(name)
}

// postgresViolation maps integrity_constraint_violation (class 23) errors.
func postgresViolation(err error) string {
	var pe *pq.Error
	if !errors.As(err, &pe) || pe.Code.Class() != "23" {
		return ""
	}
	switch pe.Code.Name() {
	case "unique_violation":
		return serrors.CodeUniqueViolation
	case "not_null_violation":
		return serrors.CodeNullNotAllowed
	}
	return serrors.CodeFKViolation
}
