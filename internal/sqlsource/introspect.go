package sqlsource

import (
	"context"
	"database/sql"
	"strings"
)

type columnInfo struct {
	Name      string
	Type      string
	MaxLength int // -1 when the catalog does not report one
	NotNull   bool
	Default   sql.NullString
	AutoInc   bool
}

type keyInfo struct {
	Name    string
	Primary bool
	Columns []string
}

type foreignKeyInfo struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string // empty means the parent's primary key
	OnUpdate   string
	OnDelete   string
}

// introspector reads catalog metadata for one dialect.
type introspector interface {
	tables(ctx context.Context, db *sql.DB) ([]string, error)
	columns(ctx context.Context, db *sql.DB, table string) ([]columnInfo, error)
	keys(ctx context.Context, db *sql.DB, table string) ([]keyInfo, error)
	foreignKeys(ctx context.Context, db *sql.DB, table string) ([]foreignKeyInfo, error)
}

// infoSchema introspects Postgres and MySQL through INFORMATION_SCHEMA,
// restricted to the connection's current schema.
type infoSchema struct {
	dialect Dialect
}

func (s infoSchema) schema() string {
	if s.dialect == MySQL {
		return "DATABASE()"
	}
	return "current_schema()"
}

func (s infoSchema) tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = `+s.schema()+` AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, s.dialect.queryError("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.dialect.queryError("list tables", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s infoSchema) columns(ctx context.Context, db *sql.DB, table string) ([]columnInfo, error) {
	extra := "''"
	typeCol := "data_type"
	if s.dialect == MySQL {
		extra = "extra"
		// column_type keeps the display width, so tinyint(1) stays distinguishable.
		typeCol = "column_type"
	}
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, `+typeCol+`, character_maximum_length, is_nullable, column_default, `+extra+`
		 FROM information_schema.columns
		 WHERE table_schema = `+s.schema()+` AND table_name = `+s.dialect.placeholder(1)+`
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, s.dialect.queryError("columns of "+table, err)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var (
			c        columnInfo
			maxLen   sql.NullInt64
			nullable string
			ext      sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Type, &maxLen, &nullable, &c.Default, &ext); err != nil {
			return nil, s.dialect.queryError("columns of "+table, err)
		}
		c.MaxLength = -1
		if maxLen.Valid && maxLen.Int64 < 1<<31 {
			c.MaxLength = int(maxLen.Int64)
		}
		c.NotNull = strings.EqualFold(nullable, "NO")
		c.AutoInc = strings.Contains(strings.ToLower(ext.String), "auto_increment") ||
			strings.HasPrefix(c.Default.String, "nextval(")
		if c.AutoInc && s.dialect == Postgres {
			c.Default = sql.NullString{}
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s infoSchema) keys(ctx context.Context, db *sql.DB, table string) ([]keyInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT tc.constraint_name, tc.constraint_type, kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON kcu.constraint_schema = tc.constraint_schema
		  AND kcu.constraint_name = tc.constraint_name
		  AND kcu.table_name = tc.table_name
		 WHERE tc.table_schema = `+s.schema()+` AND tc.table_name = `+s.dialect.placeholder(1)+`
		   AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		 ORDER BY tc.constraint_type, tc.constraint_name, kcu.ordinal_position`, table)
	if err != nil {
		return nil, s.dialect.queryError("keys of "+table, err)
	}
	defer rows.Close()

	var keys []keyInfo
	for rows.Next() {
		var name, kind, col string
		if err := rows.Scan(&name, &kind, &col); err != nil {
			return nil, s.dialect.queryError("keys of "+table, err)
		}
		if n := len(keys); n > 0 && keys[n-1].Name == name {
			keys[n-1].Columns = append(keys[n-1].Columns, col)
			continue
		}
		keys = append(keys, keyInfo{Name: name, Primary: kind == "PRIMARY KEY", Columns: []string{col}})
	}
	return keys, rows.Err()
}

func (s infoSchema) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]foreignKeyInfo, error) {
	var query string
	if s.dialect == MySQL {
		query = `SELECT kcu.constraint_name, kcu.column_name, kcu.referenced_table_name,
		                kcu.referenced_column_name, rc.update_rule, rc.delete_rule
		 FROM information_schema.key_column_usage kcu
		 JOIN information_schema.referential_constraints rc
		   ON rc.constraint_schema = kcu.constraint_schema
		  AND rc.constraint_name = kcu.constraint_name
		 WHERE kcu.table_schema = DATABASE() AND kcu.table_name = ?
		   AND kcu.referenced_table_name IS NOT NULL
		 ORDER BY kcu.constraint_name, kcu.ordinal_position`
	} else {
		query = `SELECT rc.constraint_name, kcu.column_name, pk.table_name,
		                pk.column_name, rc.update_rule, rc.delete_rule
		 FROM information_schema.referential_constraints rc
		 JOIN information_schema.key_column_usage kcu
		   ON kcu.constraint_schema = rc.constraint_schema
		  AND kcu.constraint_name = rc.constraint_name
		 JOIN information_schema.key_column_usage pk
		   ON pk.constraint_schema = rc.unique_constraint_schema
		  AND pk.constraint_name = rc.unique_constraint_name
		  AND pk.ordinal_position = kcu.position_in_unique_constraint
		 WHERE kcu.table_schema = current_schema() AND kcu.table_name = $1
		 ORDER BY rc.constraint_name, kcu.ordinal_position`
	}
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, s.dialect.queryError("foreign keys of "+table, err)
	}
	defer rows.Close()

	var fks []foreignKeyInfo
	for rows.Next() {
		var name, col, refTable, refCol, onUpdate, onDelete string
		if err := rows.Scan(&name, &col, &refTable, &refCol, &onUpdate, &onDelete); err != nil {
			return nil, s.dialect.queryError("foreign keys of "+table, err)
		}
		if n := len(fks); n > 0 && fks[n-1].Name == name {
			fks[n-1].Columns = append(fks[n-1].Columns, col)
			fks[n-1].RefColumns = append(fks[n-1].RefColumns, refCol)
			continue
		}
		fks = append(fks, foreignKeyInfo{
			Name:       name,
			Columns:    []string{col},
			RefTable:   refTable,
			RefColumns: []string{refCol},
			OnUpdate:   onUpdate,
			OnDelete:   onDelete,
		})
	}
	return fks, rows.Err()
}
