package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/arkilian/surrogate/internal/dataset"
	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Write creates one table per dataset table and inserts the current values
// of every live row, all inside one transaction. Parent tables are created
// before their children. Computed columns are not stored. Deleted rows are
// skipped, and the row states themselves are not persisted.
//
// MySQL commits DDL implicitly, so there a failed insert leaves the created
// tables behind.
func Write(ctx context.Context, db *sql.DB, d Dialect, ds *dataset.Dataset) error {
	if db == nil {
		return serrors.NewNilArgument("db")
	}
	if ds == nil {
		return serrors.NewNilArgument("dataset")
	}

	tables := creationOrder(ds)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return d.queryError("begin", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, createTableSQL(d, t)); err != nil {
			return d.queryError("create table "+t.Name, err)
		}
	}

	rows := 0
	for _, t := range tables {
		n, err := insertRows(ctx, tx, d, t)
		if err != nil {
			return err
		}
		rows += n
	}

	if err := tx.Commit(); err != nil {
		return d.queryError("commit", err)
	}
	log.Printf("sqlsource: wrote %d tables, %d rows to %s", len(tables), rows, d)
	return nil
}

// creationOrder lists tables so every foreign-key parent precedes its
// children. Tables on a reference cycle keep their dataset order.
func creationOrder(ds *dataset.Dataset) []*dataset.Table {
	const (
		unseen = iota
		visiting
		done
	)
	state := make(map[*dataset.Table]int)
	var out []*dataset.Table

	var visit func(t *dataset.Table)
	visit = func(t *dataset.Table) {
		if state[t] != unseen {
			return
		}
		state[t] = visiting
		for _, fk := range t.ForeignKeys() {
			if p := fk.RelatedTable(); p != nil && p != t {
				visit(p)
			}
		}
		state[t] = done
		out = append(out, t)
	}
	for _, t := range ds.Tables() {
		visit(t)
	}
	return out
}

func storedColumns(t *dataset.Table) []*dataset.Column {
	var cols []*dataset.Column
	for _, c := range t.Columns() {
		if !c.IsComputed() {
			cols = append(cols, c)
		}
	}
	return cols
}

func columnNames(cols []*dataset.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func createTableSQL(d Dialect, t *dataset.Table) string {
	keyed := make(map[*dataset.Column]bool)
	for _, u := range t.UniqueConstraints() {
		for _, c := range u.Columns {
			keyed[c] = true
		}
	}

	var defs []string
	for _, c := range storedColumns(t) {
		def := d.quote(c.Name) + " " + d.ddlType(c, keyed[c])
		if !c.AllowNull {
			def += " NOT NULL"
		}
		if lit, ok := literal(c.DefaultValue); ok {
			def += " DEFAULT " + lit
		}
		defs = append(defs, def)
	}

	for _, u := range t.UniqueConstraints() {
		cols := d.quoteAll(columnNames(u.Columns))
		if u.IsPrimaryKey {
			defs = append(defs, "PRIMARY KEY ("+cols+")")
			continue
		}
		defs = append(defs, "CONSTRAINT "+d.quote(u.Name)+" UNIQUE ("+cols+")")
	}

	for _, fk := range t.ForeignKeys() {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
			d.quote(fk.Name),
			d.quoteAll(columnNames(fk.Columns)),
			d.quote(fk.RelatedTable().Name),
			d.quoteAll(columnNames(fk.RelatedColumns)),
			actionOf(fk.UpdateRule),
			actionOf(fk.DeleteRule)))
	}

	return "CREATE TABLE " + d.quote(t.Name) + " (\n  " + strings.Join(defs, ",\n  ") + "\n)"
}

// literal renders simple default values as SQL literals.
func literal(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", true
	case bool:
		if x {
			return "TRUE", true
		}
		return "FALSE", true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	}
	return "", false
}

func insertRows(ctx context.Context, tx *sql.Tx, d Dialect, t *dataset.Table) (int, error) {
	cols := storedColumns(t)
	if len(cols) == 0 {
		return 0, nil
	}
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = d.placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quote(t.Name), d.quoteAll(columnNames(cols)), strings.Join(marks, ", ")))
	if err != nil {
		return 0, d.queryError("prepare insert into "+t.Name, err)
	}
	defer stmt.Close()

	n := 0
	args := make([]any, len(cols))
	for _, r := range t.LiveRows() {
		values, err := r.Values(dataset.VersionCurrent)
		if err != nil {
			return n, err
		}
		for i, c := range cols {
			args[i] = toSQL(values[c.Ordinal()])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, d.queryError("insert into "+t.Name, err)
		}
		n++
	}
	return n, nil
}
