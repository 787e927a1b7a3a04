package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// sqliteDSN adds a busy timeout unless the caller already set options.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_busy_timeout=5000"
}

func sqliteViolation(err error) string {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return ""
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return serrors.CodeUniqueViolation
	case sqlite3.ErrConstraintNotNull:
		return serrors.CodeNullNotAllowed
	}
	return serrors.CodeFKViolation
}

// sqliteIntrospector reads the catalog through PRAGMA statements.
type sqliteIntrospector struct{}

func (sqliteIntrospector) tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, SQLite.queryError("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, SQLite.queryError("list tables", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (sqliteIntrospector) columns(ctx context.Context, db *sql.DB, table string) ([]columnInfo, error) {
	recs, err := pragma(ctx, db, "table_info", table)
	if err != nil {
		return nil, err
	}

	var pkCols []int
	cols := make([]columnInfo, len(recs))
	for i, rec := range recs {
		cols[i] = columnInfo{
			Name:      asString(rec["name"]),
			Type:      asString(rec["type"]),
			MaxLength: -1,
			NotNull:   asInt(rec["notnull"]) != 0,
		}
		if d, ok := rec["dflt_value"]; ok && d != nil {
			cols[i].Default = sql.NullString{String: asString(d), Valid: true}
		}
		if asInt(rec["pk"]) > 0 {
			pkCols = append(pkCols, i)
		}
	}
	// A lone INTEGER PRIMARY KEY aliases the rowid and numbers itself.
	if len(pkCols) == 1 && strings.EqualFold(cols[pkCols[0]].Type, "INTEGER") {
		cols[pkCols[0]].AutoInc = true
	}
	return cols, nil
}

func (sqliteIntrospector) keys(ctx context.Context, db *sql.DB, table string) ([]keyInfo, error) {
	info, err := pragma(ctx, db, "table_info", table)
	if err != nil {
		return nil, err
	}
	type pkCol struct {
		name string
		seq  int64
	}
	var pk []pkCol
	for _, rec := range info {
		if seq := asInt(rec["pk"]); seq > 0 {
			pk = append(pk, pkCol{asString(rec["name"]), seq})
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].seq < pk[j].seq })

	var keys []keyInfo
	if len(pk) > 0 {
		k := keyInfo{Name: "PK_" + table, Primary: true}
		for _, c := range pk {
			k.Columns = append(k.Columns, c.name)
		}
		keys = append(keys, k)
	}

	indexes, err := pragma(ctx, db, "index_list", table)
	if err != nil {
		return nil, err
	}
	// index_list is newest first.
	for i := len(indexes) - 1; i >= 0; i-- {
		idx := indexes[i]
		if asInt(idx["unique"]) == 0 || asString(idx["origin"]) == "pk" || asInt(idx["partial"]) != 0 {
			continue
		}
		name := asString(idx["name"])
		cols, err := pragma(ctx, db, "index_info", name)
		if err != nil {
			return nil, err
		}
		sort.Slice(cols, func(a, b int) bool { return asInt(cols[a]["seqno"]) < asInt(cols[b]["seqno"]) })
		k := keyInfo{Name: name}
		for _, c := range cols {
			if c["name"] == nil {
				// Expression index.
				k.Columns = nil
				break
			}
			k.Columns = append(k.Columns, asString(c["name"]))
		}
		if len(k.Columns) > 0 {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (sqliteIntrospector) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]foreignKeyInfo, error) {
	recs, err := pragma(ctx, db, "foreign_key_list", table)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if a, b := asInt(recs[i]["id"]), asInt(recs[j]["id"]); a != b {
			return a > b
		}
		return asInt(recs[i]["seq"]) < asInt(recs[j]["seq"])
	})

	var fks []foreignKeyInfo
	lastID := int64(-1)
	for _, rec := range recs {
		id := asInt(rec["id"])
		if id != lastID || len(fks) == 0 {
			fks = append(fks, foreignKeyInfo{
				Name:     fmt.Sprintf("FK_%s_%d", table, id),
				RefTable: asString(rec["table"]),
				OnUpdate: asString(rec["on_update"]),
				OnDelete: asString(rec["on_delete"]),
			})
			lastID = id
		}
		fk := &fks[len(fks)-1]
		fk.Columns = append(fk.Columns, asString(rec["from"]))
		if to := rec["to"]; to != nil {
			fk.RefColumns = append(fk.RefColumns, asString(to))
		}
	}
	// Partial target lists cannot be lined up; fall back to the parent key.
	for i := range fks {
		if len(fks[i].RefColumns) != len(fks[i].Columns) {
			fks[i].RefColumns = nil
		}
	}
	return fks, nil
}

// pragma runs a table-valued PRAGMA and returns its rows keyed by column
// name, since column sets differ between SQLite versions.
func pragma(ctx context.Context, db *sql.DB, name, arg string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA %s(%s)", name, SQLite.quote(arg)))
	if err != nil {
		return nil, SQLite.queryError("pragma "+name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, SQLite.queryError("pragma "+name, err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, SQLite.queryError("pragma "+name, err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, SQLite.queryError("pragma "+name, err)
	}
	return out, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case bool:
		if x {
			return 1
		}
	}
	return 0
}
