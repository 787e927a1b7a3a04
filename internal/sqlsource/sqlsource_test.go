package sqlsource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/surrogate/internal/dataset"
	serrors "github.com/arkilian/surrogate/internal/errors"
)

var joined = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func library(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New("Library")

	// Children first, so writing has to reorder.
	books := dataset.NewTable("Books")
	require.NoError(t, books.AddColumn(dataset.NewColumn("Id", dataset.TypeInt32)))
	require.NoError(t, books.AddColumn(dataset.NewColumn("AuthorId", dataset.TypeInt64)))
	require.NoError(t, books.AddColumn(dataset.NewColumn("Title", dataset.TypeString)))
	price := dataset.NewColumn("Price", dataset.TypeFloat64)
	price.DefaultValue = 9.5
	require.NoError(t, books.AddColumn(price))
	require.NoError(t, books.AddColumn(dataset.NewColumn("Cover", dataset.TypeBytes)))
	discounted := dataset.NewColumn("Discounted", dataset.TypeFloat64)
	require.NoError(t, books.AddColumn(discounted))
	require.NoError(t, discounted.SetExpression("Price * 0.9"))
	require.NoError(t, books.SetPrimaryKey(books.Column("Id")))
	require.NoError(t, books.AddConstraint(dataset.NewUniqueConstraint("UQ_Title", []*dataset.Column{books.Column("Title")}, false)))
	require.NoError(t, ds.AddTable(books))

	authors := dataset.NewTable("Authors")
	require.NoError(t, authors.AddColumn(dataset.NewColumn("Id", dataset.TypeInt64)))
	name := dataset.NewColumn("Name", dataset.TypeString)
	name.MaxLength = 40
	name.AllowNull = false
	require.NoError(t, authors.AddColumn(name))
	active := dataset.NewColumn("Active", dataset.TypeBoolean)
	active.DefaultValue = true
	require.NoError(t, authors.AddColumn(active))
	require.NoError(t, authors.AddColumn(dataset.NewColumn("Joined", dataset.TypeDateTime)))
	require.NoError(t, authors.AddColumn(dataset.NewColumn("Ref", dataset.TypeGuid)))
	require.NoError(t, authors.SetPrimaryKey(authors.Column("Id")))
	require.NoError(t, ds.AddTable(authors))

	rel := dataset.NewRelation("AuthorBooks",
		[]*dataset.Column{authors.Column("Id")}, []*dataset.Column{books.Column("AuthorId")})
	require.NoError(t, ds.AddRelation(rel, true))
	rel.ChildKeyConstraint().UpdateRule = dataset.RuleNone
	rel.ChildKeyConstraint().DeleteRule = dataset.RuleSetNull

	ref := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	_, err := authors.AddValues(1, "Le Guin", true, joined, ref)
	require.NoError(t, err)
	renamed, err := authors.AddValues(2, "Banks", false)
	require.NoError(t, err)
	_, err = books.AddValues(10, 1, "Earthsea", 12.0, []byte{0xCA, 0xFE})
	require.NoError(t, err)
	dropped, err := books.AddValues(11, 2, "Excession", 8.0)
	require.NoError(t, err)
	ds.AcceptChanges()

	require.NoError(t, renamed.SetByName("Name", "Iain M. Banks"))
	require.NoError(t, dropped.Delete())
	_, err = books.AddValues(12, 2, "Use of Weapons")
	require.NoError(t, err)
	return ds
}

func value(t *testing.T, r *dataset.Row, col string) any {
	t.Helper()
	v, err := r.Get(col)
	require.NoError(t, err)
	return v
}

func TestWriteLoadRoundTrip(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, Write(ctx, db, SQLite, library(t)))

	ds, err := Load(ctx, db, SQLite, Options{Name: "Copy"})
	require.NoError(t, err)
	assert.Equal(t, "Copy", ds.Name)
	assert.True(t, ds.EnforceConstraints())
	require.Equal(t, 2, ds.TableCount())

	authors := ds.Table("Authors")
	require.NotNil(t, authors)
	assert.Equal(t, []*dataset.Column{authors.Column("Id")}, authors.PrimaryKey())
	assert.Equal(t, dataset.TypeInt64, authors.Column("Id").DataType)
	assert.True(t, authors.Column("Id").AutoIncrement)
	assert.Equal(t, 40, authors.Column("Name").MaxLength)
	assert.False(t, authors.Column("Name").AllowNull)
	assert.Equal(t, dataset.TypeBoolean, authors.Column("Active").DataType)
	assert.Equal(t, true, authors.Column("Active").DefaultValue)
	assert.Equal(t, dataset.TypeDateTime, authors.Column("Joined").DataType)
	assert.Equal(t, dataset.TypeGuid, authors.Column("Ref").DataType)

	require.Equal(t, 2, authors.RowCount())
	for _, r := range authors.Rows() {
		assert.Equal(t, dataset.RowUnchanged, r.State())
	}
	ada := authors.RowAt(0)
	assert.Equal(t, "Le Guin", value(t, ada, "Name"))
	assert.Equal(t, true, value(t, ada, "Active"))
	assert.True(t, joined.Equal(value(t, ada, "Joined").(time.Time)))
	assert.Equal(t, uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"), value(t, ada, "Ref"))
	assert.Equal(t, "Iain M. Banks", value(t, authors.RowAt(1), "Name"))
	assert.Nil(t, value(t, authors.RowAt(1), "Joined"))

	books := ds.Table("Books")
	require.NotNil(t, books)
	assert.Nil(t, books.Column("Discounted"), "computed columns are not stored")
	assert.Equal(t, dataset.TypeInt32, books.Column("Id").DataType)
	assert.Equal(t, 9.5, books.Column("Price").DefaultValue)
	require.Equal(t, 2, books.RowCount(), "deleted rows are not written")
	assert.Equal(t, "Earthsea", value(t, books.RowAt(0), "Title"))
	assert.Equal(t, []byte{0xCA, 0xFE}, value(t, books.RowAt(0), "Cover"))
	assert.Equal(t, "Use of Weapons", value(t, books.RowAt(1), "Title"))
	assert.Equal(t, 9.5, value(t, books.RowAt(1), "Price"))

	var titleUnique bool
	for _, u := range books.UniqueConstraints() {
		if !u.IsPrimaryKey && len(u.Columns) == 1 && u.Columns[0] == books.Column("Title") {
			titleUnique = true
		}
	}
	assert.True(t, titleUnique)

	fks := books.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, authors, fks[0].RelatedTable())
	assert.Equal(t, dataset.RuleNone, fks[0].UpdateRule)
	assert.Equal(t, dataset.RuleSetNull, fks[0].DeleteRule)
	assert.Len(t, ds.Relations(), 1)
}

func TestLoadExistingSchema(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		CREATE TABLE region (code TEXT, zone INTEGER, label VARCHAR(20) DEFAULT 'none', PRIMARY KEY (code, zone));
		CREATE TABLE site (
			id INTEGER PRIMARY KEY,
			code TEXT, zone INTEGER,
			slug TEXT NOT NULL,
			FOREIGN KEY (code, zone) REFERENCES region ON DELETE CASCADE
		);
		CREATE UNIQUE INDEX site_slug ON site (slug);
		CREATE INDEX site_code ON site (code);
		INSERT INTO region VALUES ('eu', 1, 'Europe');
		INSERT INTO region (code, zone) VALUES ('us', 2);
		INSERT INTO site (code, zone, slug) VALUES ('eu', 1, 'paris'), ('us', 2, 'nyc'), ('eu', 1, 'rome');
	`)
	require.NoError(t, err)

	ds, err := Load(ctx, db, SQLite, Options{})
	require.NoError(t, err)
	assert.Equal(t, "NewDataSet", ds.Name)

	region := ds.Table("region")
	require.NotNil(t, region)
	assert.Len(t, region.PrimaryKey(), 2)
	assert.Equal(t, 20, region.Column("label").MaxLength)
	assert.Equal(t, "none", region.Column("label").DefaultValue)
	assert.Equal(t, "none", value(t, region.RowAt(1), "label"))

	site := ds.Table("site")
	require.NotNil(t, site)
	assert.Equal(t, 3, site.RowCount())
	assert.Equal(t, int64(3), value(t, site.RowAt(2), "id"))
	assert.Len(t, site.UniqueConstraints(), 2, "primary key plus the unique slug index")

	fks := site.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, region.PrimaryKey(), fks[0].RelatedColumns)
	assert.Equal(t, dataset.RuleCascade, fks[0].DeleteRule)

	// Cascades work on the loaded dataset.
	require.NoError(t, region.RowAt(0).Delete())
	assert.Equal(t, dataset.RowDeleted, site.RowAt(0).State())
	assert.Equal(t, dataset.RowDeleted, site.RowAt(2).State())
}

func TestLoadOptions(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		CREATE TABLE a (id INTEGER PRIMARY KEY);
		CREATE TABLE b (id INTEGER PRIMARY KEY, a_id INTEGER REFERENCES a (id));
		INSERT INTO a VALUES (1), (2), (3);
		INSERT INTO b VALUES (1, 1);
	`)
	require.NoError(t, err)

	ds, err := Load(ctx, db, SQLite, Options{Tables: []string{"b"}})
	require.NoError(t, err)
	require.Equal(t, 1, ds.TableCount())
	assert.Empty(t, ds.Table("b").ForeignKeys(), "parent outside the selection")

	ds, err = Load(ctx, db, SQLite, Options{Tables: []string{"a"}, MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Table("a").RowCount())

	_, err = Load(ctx, db, SQLite, Options{Tables: []string{"missing"}})
	assert.Equal(t, serrors.CodeInvalidArgument, serrors.GetCode(err))
}

func TestLoadOrphanDisablesConstraints(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	// SQLite leaves foreign keys unchecked unless the pragma is on.
	_, err := db.ExecContext(ctx, `
		CREATE TABLE parent (id INTEGER PRIMARY KEY);
		CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent (id));
		INSERT INTO child VALUES (1, 42);
	`)
	require.NoError(t, err)

	ds, err := Load(ctx, db, SQLite, Options{})
	require.NoError(t, err)
	assert.False(t, ds.EnforceConstraints())
	assert.Len(t, ds.Table("child").ForeignKeys(), 1)
}

func TestWriteExistingTableFails(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, Write(ctx, db, SQLite, library(t)))
	err := Write(ctx, db, SQLite, library(t))
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCategorySource, serrors.GetCategory(err))

	// The failed transaction left the first copy untouched.
	ds, err := Load(ctx, db, SQLite, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Table("Books").RowCount())
}

func TestWriteConstraintViolation(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	ds := dataset.New("Loose")
	tbl := dataset.NewTable("T")
	require.NoError(t, tbl.AddColumn(dataset.NewColumn("K", dataset.TypeString)))
	require.NoError(t, ds.AddTable(tbl))
	_, err := tbl.AddValues("same")
	require.NoError(t, err)
	_, err = tbl.AddValues("same")
	require.NoError(t, err)
	// Unique key added after the fact with enforcement off.
	require.NoError(t, ds.SetEnforceConstraints(false))
	require.NoError(t, tbl.AddConstraint(dataset.NewUniqueConstraint("UQ_K", []*dataset.Column{tbl.Column("K")}, false)))

	err = Write(ctx, db, SQLite, ds)
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCategoryConstraint, serrors.GetCategory(err))
	assert.Equal(t, serrors.CodeUniqueViolation, serrors.GetCode(err))
}

func TestCreationOrder(t *testing.T) {
	ds := library(t)
	order := creationOrder(ds)
	require.Len(t, order, 2)
	assert.Equal(t, "Authors", order[0].Name)
	assert.Equal(t, "Books", order[1].Name)
}

func TestDataTypeMapping(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		declared string
		want     dataset.DataType
		length   int
	}{
		{SQLite, "INTEGER", dataset.TypeInt64, -1},
		{SQLite, "INT", dataset.TypeInt32, -1},
		{SQLite, "VARCHAR(20)", dataset.TypeString, 20},
		{SQLite, "", dataset.TypeString, -1},
		{SQLite, "BLOB", dataset.TypeBytes, -1},
		{SQLite, "DATETIME", dataset.TypeDateTime, -1},
		{SQLite, "REAL", dataset.TypeFloat64, -1},
		{Postgres, "integer", dataset.TypeInt32, -1},
		{Postgres, "bigint", dataset.TypeInt64, -1},
		{Postgres, "character varying", dataset.TypeString, -1},
		{Postgres, "double precision", dataset.TypeFloat64, -1},
		{Postgres, "timestamp with time zone", dataset.TypeDateTime, -1},
		{Postgres, "uuid", dataset.TypeGuid, -1},
		{Postgres, "bytea", dataset.TypeBytes, -1},
		{Postgres, "boolean", dataset.TypeBoolean, -1},
		{Postgres, "interval", dataset.TypeString, -1},
		{Postgres, "numeric(10,2)", dataset.TypeFloat64, -1},
		{MySQL, "tinyint(1)", dataset.TypeBoolean, -1},
		{MySQL, "int unsigned", dataset.TypeInt32, -1},
		{MySQL, "longblob", dataset.TypeBytes, -1},
		{MySQL, "varchar(255)", dataset.TypeString, 255},
		{MySQL, "json", dataset.TypeString, -1},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.declared, func(t *testing.T) {
			got, length := tt.dialect.dataType(tt.declared)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.length, length)
		})
	}
}

func TestParseDefault(t *testing.T) {
	tests := []struct {
		dialect Dialect
		raw     string
		typ     dataset.DataType
		want    any
		ok      bool
	}{
		{SQLite, "'it''s'", dataset.TypeString, "it's", true},
		{SQLite, "42", dataset.TypeInt32, int32(42), true},
		{SQLite, "(1.5)", dataset.TypeFloat64, 1.5, true},
		{SQLite, "NULL", dataset.TypeString, nil, false},
		{SQLite, "CURRENT_TIMESTAMP", dataset.TypeDateTime, nil, false},
		{SQLite, "abc", dataset.TypeString, nil, false},
		{Postgres, "'x'::character varying", dataset.TypeString, "x", true},
		{Postgres, "true", dataset.TypeBoolean, true, true},
		{MySQL, "abc", dataset.TypeString, "abc", true},
	}
	for _, tt := range tests {
		got, ok := parseDefault(tt.dialect, tt.raw, tt.typ)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"sqlite": SQLite, "PostgreSQL": Postgres, "mariadb": MySQL} {
		got, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDialect("oracle")
	assert.Equal(t, serrors.CodeUnsupportedDialect, serrors.GetCode(err))
}

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("user:pw@tcp(localhost:3306)/db")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"we""ird"`, SQLite.quote(`we"ird`))
	assert.Equal(t, `"we""ird"`, Postgres.quote(`we"ird`))
	assert.Equal(t, "`we``ird`", MySQL.quote("we`ird"))
}
