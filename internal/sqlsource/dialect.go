// Package sqlsource fills datasets from relational databases and writes them
// back. It introspects tables, columns, unique keys and foreign keys, then
// loads rows as unchanged.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/surrogate/internal/dataset"
	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Dialect names a supported database and doubles as its database/sql driver
// name.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// ParseDialect accepts the driver name or a common alias.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return "", serrors.Newf(serrors.ErrCategorySource, serrors.CodeUnsupportedDialect, "unsupported driver %q", s)
}

// Open opens and pings a database.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	var err error
	switch d {
	case SQLite:
		dsn = sqliteDSN(dsn)
	case MySQL:
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, serrors.NewSourceError(serrors.CodeConnectFailed, "parse mysql dsn", err)
		}
	case Postgres:
	default:
		return nil, serrors.Newf(serrors.ErrCategorySource, serrors.CodeUnsupportedDialect, "unsupported driver %q", d)
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, serrors.NewSourceError(serrors.CodeConnectFailed, "open "+string(d), err)
	}
	if d == SQLite {
		// One writer at a time; a single connection also keeps temp tables visible.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, serrors.NewSourceError(serrors.CodeConnectFailed, "ping "+string(d), err)
	}
	return db, nil
}

// quote quotes an identifier.
func (d Dialect) quote(name string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case Postgres:
		return postgresQuote(name)
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

func (d Dialect) quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = d.quote(n)
	}
	return strings.Join(q, ", ")
}

// placeholder returns the bind marker for the 1-based parameter i.
func (d Dialect) placeholder(i int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (d Dialect) introspector() introspector {
	if d == SQLite {
		return sqliteIntrospector{}
	}
	return infoSchema{dialect: d}
}

// dataType maps a declared column type to a DataType and, for character
// types, the declared length (-1 when unbounded).
func (d Dialect) dataType(declared string) (dataset.DataType, int) {
	decl := strings.ToLower(strings.TrimSpace(declared))
	length := -1
	base := decl
	if open := strings.IndexByte(decl, '('); open >= 0 {
		base = decl[:open]
		if end := strings.IndexByte(decl[open:], ')'); end > 0 {
			args := strings.Split(decl[open+1:open+end], ",")
			if n, err := strconv.Atoi(strings.TrimSpace(args[0])); err == nil {
				length = n
			}
		}
	}
	if fields := strings.Fields(base); len(fields) > 0 {
		base = fields[0]
	}

	switch {
	case base == "":
		return dataset.TypeString, -1
	case strings.HasPrefix(base, "bool"):
		return dataset.TypeBoolean, -1
	case base == "tinyint" && length == 1 && d == MySQL:
		return dataset.TypeBoolean, -1
	case base == "uuid" || base == "uniqueidentifier":
		return dataset.TypeGuid, -1
	case strings.Contains(base, "blob") || strings.Contains(base, "binary") || base == "bytea":
		return dataset.TypeBytes, -1
	case base == "interval":
		return dataset.TypeString, -1
	case strings.Contains(base, "date") || strings.Contains(base, "time"):
		return dataset.TypeDateTime, -1
	case base == "bigint" || base == "int8" || base == "bigserial":
		return dataset.TypeInt64, -1
	case base == "integer" && d == SQLite:
		// SQLite integers are 64-bit.
		return dataset.TypeInt64, -1
	case strings.HasPrefix(base, "int") || strings.HasSuffix(base, "int") || strings.HasSuffix(base, "serial"):
		return dataset.TypeInt32, -1
	case strings.Contains(base, "real") || strings.Contains(base, "doub") || strings.Contains(base, "float") ||
		strings.Contains(base, "numeric") || strings.Contains(base, "decimal"):
		return dataset.TypeFloat64, -1
	case strings.Contains(base, "char") || strings.Contains(base, "text") || strings.Contains(base, "clob"):
		return dataset.TypeString, length
	}
	return dataset.TypeString, -1
}

// ddlType is the inverse of dataType for CREATE TABLE.
func (d Dialect) ddlType(c *dataset.Column, key bool) string {
	switch c.DataType {
	case dataset.TypeBoolean:
		return "BOOLEAN"
	case dataset.TypeInt32:
		if d == SQLite {
			return "INT"
		}
		return "INTEGER"
	case dataset.TypeInt64:
		if d == SQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case dataset.TypeFloat64:
		switch d {
		case Postgres:
			return "DOUBLE PRECISION"
		case MySQL:
			return "DOUBLE"
		}
		return "REAL"
	case dataset.TypeBytes:
		switch d {
		case Postgres:
			return "BYTEA"
		case MySQL:
			return "LONGBLOB"
		}
		return "BLOB"
	case dataset.TypeDateTime:
		switch d {
		case Postgres:
			return "TIMESTAMP WITH TIME ZONE"
		case MySQL:
			return "DATETIME(6)"
		}
		return "DATETIME"
	case dataset.TypeGuid:
		switch d {
		case Postgres:
			return "UUID"
		case MySQL:
			return "CHAR(36)"
		}
		return "UUID"
	}
	if c.MaxLength >= 0 {
		return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
	}
	if d == MySQL && key {
		// MySQL cannot index unbounded TEXT.
		return "VARCHAR(255)"
	}
	return "TEXT"
}

// ruleOf maps a referential action name to a Rule.
func ruleOf(action string) dataset.Rule {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "CASCADE":
		return dataset.RuleCascade
	case "SET NULL":
		return dataset.RuleSetNull
	case "SET DEFAULT":
		return dataset.RuleSetDefault
	}
	return dataset.RuleNone
}

// actionOf is the inverse of ruleOf.
func actionOf(r dataset.Rule) string {
	switch r {
	case dataset.RuleCascade:
		return "CASCADE"
	case dataset.RuleSetNull:
		return "SET NULL"
	case dataset.RuleSetDefault:
		return "SET DEFAULT"
	}
	return "NO ACTION"
}

// queryError wraps a driver failure, surfacing integrity violations as
// constraint errors.
func (d Dialect) queryError(what string, err error) error {
	var code string
	switch d {
	case SQLite:
		code = sqliteViolation(err)
	case Postgres:
		code = postgresViolation(err)
	case MySQL:
		code = mysqlViolation(err)
	}
	if code != "" {
		return serrors.Wrap(serrors.ErrCategoryConstraint, code, what, err)
	}
	return serrors.NewSourceError(serrors.CodeQueryFailed, what, err)
}
