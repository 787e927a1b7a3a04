package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/arkilian/surrogate/internal/dataset"
	serrors "github.com/arkilian/surrogate/internal/errors"
)

// Options control Load.
type Options struct {
	// Name is the dataset name. Default "NewDataSet".
	Name string
	// Tables restricts loading to the named tables. Empty loads every table.
	Tables []string
	// MaxRows caps the rows read per table. Zero means no cap.
	MaxRows int
}

// Load introspects db and returns a dataset holding its tables, keys,
// foreign keys and rows. Every row is Unchanged. Foreign keys pointing at
// tables outside the selection are skipped. When the stored data violates
// its own constraints (SQLite does not enforce foreign keys by default) the
// dataset is returned with constraint enforcement off.
func Load(ctx context.Context, db *sql.DB, d Dialect, opts Options) (*dataset.Dataset, error) {
	if db == nil {
		return nil, serrors.NewNilArgument("db")
	}
	in := d.introspector()

	names, err := in.tables(ctx, db)
	if err != nil {
		return nil, err
	}
	if names, err = selectTables(names, opts.Tables); err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = "NewDataSet"
	}
	ds := dataset.New(name)
	if err := ds.SetEnforceConstraints(false); err != nil {
		return nil, err
	}

	pending := make(map[string][]foreignKeyInfo, len(names))
	for _, tn := range names {
		t, err := loadSchema(ctx, db, d, in, tn)
		if err != nil {
			return nil, err
		}
		if err := ds.AddTable(t); err != nil {
			return nil, err
		}
		if pending[tn], err = in.foreignKeys(ctx, db, tn); err != nil {
			return nil, err
		}
	}

	rows := 0
	for _, t := range ds.Tables() {
		n, err := loadRows(ctx, db, d, t, opts.MaxRows)
		if err != nil {
			return nil, err
		}
		rows += n
	}
	ds.AcceptChanges()

	for _, tn := range names {
		for _, fk := range pending[tn] {
			if err := addForeignKey(ds, ds.Table(tn), fk); err != nil {
				log.Printf("sqlsource: skipping foreign key %s on %s: %v", fk.Name, tn, err)
			}
		}
	}

	if err := ds.SetEnforceConstraints(true); err != nil {
		log.Printf("sqlsource: %v; constraints left disabled", err)
	}
	log.Printf("sqlsource: loaded %d tables, %d rows from %s", len(names), rows, d)
	return ds, nil
}

func selectTables(all, want []string) ([]string, error) {
	if len(want) == 0 {
		return all, nil
	}
	have := make(map[string]bool, len(all))
	for _, n := range all {
		have[n] = true
	}
	out := make([]string, 0, len(want))
	for _, n := range want {
		if !have[n] {
			return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument, "table %q not found", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func loadSchema(ctx context.Context, db *sql.DB, d Dialect, in introspector, name string) (*dataset.Table, error) {
	cols, err := in.columns(ctx, db, name)
	if err != nil {
		return nil, err
	}

	t := dataset.NewTable(name)
	for _, ci := range cols {
		typ, length := d.dataType(ci.Type)
		c := dataset.NewColumn(ci.Name, typ)
		c.AllowNull = !ci.NotNull
		if typ == dataset.TypeString {
			c.MaxLength = length
			if ci.MaxLength >= 0 {
				c.MaxLength = ci.MaxLength
			}
		}
		if ci.AutoInc && (typ == dataset.TypeInt32 || typ == dataset.TypeInt64) {
			c.AutoIncrement = true
			c.AutoIncrementSeed = 1
		}
		if ci.Default.Valid {
			if v, ok := parseDefault(d, ci.Default.String, typ); ok {
				c.DefaultValue = v
			}
		}
		if err := t.AddColumn(c); err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
	}

	keys, err := in.keys(ctx, db, name)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		kc, err := columnsOf(t, k.Columns)
		if err != nil {
			return nil, err
		}
		if k.Primary {
			err = t.SetPrimaryKey(kc...)
		} else {
			err = t.AddConstraint(dataset.NewUniqueConstraint(k.Name, kc, false))
		}
		if serrors.GetCode(err) == serrors.CodeDuplicateName {
			// Same columns as an earlier key, or a clashing name.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
	}
	return t, nil
}

func loadRows(ctx context.Context, db *sql.DB, d Dialect, t *dataset.Table, maxRows int) (int, error) {
	cols := t.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	query := "SELECT " + d.quoteAll(names) + " FROM " + d.quote(t.Name)
	if pk := t.PrimaryKey(); len(pk) > 0 {
		keys := make([]string, len(pk))
		for i, c := range pk {
			keys[i] = c.Name
		}
		query += " ORDER BY " + d.quoteAll(keys)
	}
	if maxRows > 0 {
		query += fmt.Sprintf(" LIMIT %d", maxRows)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, d.queryError("read "+t.Name, err)
	}
	defer rows.Close()

	n := 0
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, d.queryError("read "+t.Name, err)
		}
		r := t.NewRow()
		for i, c := range cols {
			v, err := fromSQL(raw[i], c.DataType)
			if err != nil {
				return n, fmt.Errorf("table %q column %q: %w", t.Name, c.Name, err)
			}
			if err := r.Set(i, v); err != nil {
				return n, fmt.Errorf("table %q: %w", t.Name, err)
			}
		}
		if err := t.AddRow(r); err != nil {
			return n, fmt.Errorf("table %q: %w", t.Name, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, d.queryError("read "+t.Name, err)
	}
	return n, nil
}

func addForeignKey(ds *dataset.Dataset, child *dataset.Table, fk foreignKeyInfo) error {
	parent := ds.Table(fk.RefTable)
	if parent == nil {
		return fmt.Errorf("parent table %q not loaded", fk.RefTable)
	}
	childCols, err := columnsOf(child, fk.Columns)
	if err != nil {
		return err
	}
	var parentCols []*dataset.Column
	if len(fk.RefColumns) == 0 {
		parentCols = parent.PrimaryKey()
	} else if parentCols, err = columnsOf(parent, fk.RefColumns); err != nil {
		return err
	}

	name := fk.Name
	if ds.Relation(name) != nil {
		name = ""
	}
	rel := dataset.NewRelation(name, parentCols, childCols)
	if err := ds.AddRelation(rel, true); err != nil {
		return err
	}
	if c := rel.ChildKeyConstraint(); c != nil {
		c.UpdateRule = ruleOf(fk.OnUpdate)
		c.DeleteRule = ruleOf(fk.OnDelete)
	}
	return nil
}

func columnsOf(t *dataset.Table, names []string) ([]*dataset.Column, error) {
	cols := make([]*dataset.Column, len(names))
	for i, n := range names {
		if cols[i] = t.Column(n); cols[i] == nil {
			return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidArgument,
				"table %q has no column %q", t.Name, n)
		}
	}
	return cols, nil
}
