package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// ordersFixture builds Customers(Id PK, Name) and Orders(Id PK, CustomerId FK).
func ordersFixture(t *testing.T) (*Dataset, *Table, *Table) {
	t.Helper()
	ds := New("Shop")

	customers := NewTable("Customers")
	require.NoError(t, customers.AddColumn(NewColumn("Id", TypeInt32)))
	require.NoError(t, customers.AddColumn(NewColumn("Name", TypeString)))
	require.NoError(t, customers.SetPrimaryKey(customers.Column("Id")))

	orders := NewTable("Orders")
	require.NoError(t, orders.AddColumn(NewColumn("Id", TypeInt32)))
	require.NoError(t, orders.AddColumn(NewColumn("CustomerId", TypeInt32)))
	require.NoError(t, orders.SetPrimaryKey(orders.Column("Id")))

	require.NoError(t, ds.AddTable(customers))
	require.NoError(t, ds.AddTable(orders))

	rel := NewRelation("CustomerOrders",
		[]*Column{customers.Column("Id")}, []*Column{orders.Column("CustomerId")})
	require.NoError(t, ds.AddRelation(rel, true))
	return ds, customers, orders
}

func TestRowLifecycle(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("A", TypeInt64)))
	require.NoError(t, tbl.AddColumn(NewColumn("B", TypeString)))

	r, err := tbl.AddValues(1, "x")
	require.NoError(t, err)
	assert.Equal(t, RowAdded, r.State())
	assert.False(t, r.HasVersion(VersionOriginal))

	tbl.AcceptChanges()
	assert.Equal(t, RowUnchanged, r.State())

	require.NoError(t, r.SetByName("B", "y"))
	assert.Equal(t, RowModified, r.State())
	orig, err := r.GetVersion("B", VersionOriginal)
	require.NoError(t, err)
	assert.Equal(t, "x", orig)
	cur, err := r.Get("B")
	require.NoError(t, err)
	assert.Equal(t, "y", cur)

	r.RejectChanges()
	assert.Equal(t, RowUnchanged, r.State())
	cur, _ = r.Get("B")
	assert.Equal(t, "x", cur)

	require.NoError(t, r.Delete())
	assert.Equal(t, RowDeleted, r.State())
	_, err = r.Get("A")
	assert.Equal(t, serrors.CodeDeletedRow, serrors.GetCode(err))
	orig, err = r.ValueVersion(0, VersionOriginal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), orig)

	tbl.AcceptChanges()
	assert.Equal(t, 0, tbl.RowCount())
	assert.Equal(t, RowDetached, r.State())
}

func TestDeleteAddedRowDetaches(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("A", TypeInt32)))
	r, err := tbl.AddValues(int32(7))
	require.NoError(t, err)

	require.NoError(t, r.Delete())
	assert.Equal(t, RowDetached, r.State())
	assert.Equal(t, 0, tbl.RowCount())
}

func TestBeginEndEdit(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("A", TypeInt32)))
	r, err := tbl.AddValues(1)
	require.NoError(t, err)
	tbl.AcceptChanges()

	require.NoError(t, r.BeginEdit())
	require.NoError(t, r.Set(0, 2))
	assert.True(t, r.HasVersion(VersionProposed))
	cur, _ := r.ValueVersion(0, VersionCurrent)
	assert.Equal(t, int32(1), cur)
	r.CancelEdit()
	assert.Equal(t, RowUnchanged, r.State())

	require.NoError(t, r.BeginEdit())
	require.NoError(t, r.Set(0, 3))
	require.NoError(t, r.EndEdit())
	assert.Equal(t, RowModified, r.State())
	cur, _ = r.Value(0)
	assert.Equal(t, int32(3), cur)
}

func TestColumnConstraints(t *testing.T) {
	tbl := NewTable("T")
	name := NewColumn("Name", TypeString)
	name.AllowNull = false
	name.MaxLength = 3
	require.NoError(t, tbl.AddColumn(name))
	ro := NewColumn("Code", TypeInt32)
	ro.ReadOnly = true
	require.NoError(t, tbl.AddColumn(ro))

	_, err := tbl.AddValues(nil, 1)
	assert.Equal(t, serrors.CodeNullNotAllowed, serrors.GetCode(err))

	_, err = tbl.AddValues("abcd", 1)
	assert.Equal(t, serrors.CodeMaxLength, serrors.GetCode(err))

	_, err = tbl.AddValues(true, 1)
	assert.Equal(t, serrors.CodeTypeMismatch, serrors.GetCode(err))

	r, err := tbl.AddValues("abc", 1)
	require.NoError(t, err)
	err = r.Set(1, 2)
	assert.Equal(t, serrors.CodeReadOnly, serrors.GetCode(err))
}

func TestDuplicateColumnName(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("A", TypeInt32)))
	err := tbl.AddColumn(NewColumn("A", TypeString))
	assert.Equal(t, serrors.CodeDuplicateName, serrors.GetCode(err))
	assert.Nil(t, tbl.AddColumn(NewColumn("a", TypeString)))
	assert.Equal(t, 1, tbl.Column("a").Ordinal())
	assert.Equal(t, 0, tbl.Column("A").Ordinal())
}

func TestAutoIncrement(t *testing.T) {
	tbl := NewTable("T")
	id := NewColumn("Id", TypeInt32)
	id.AutoIncrement = true
	id.AutoIncrementSeed = 10
	id.AutoIncrementStep = 5
	require.NoError(t, tbl.AddColumn(id))

	r1, err := tbl.AddValues()
	require.NoError(t, err)
	r2, err := tbl.AddValues()
	require.NoError(t, err)

	v1, _ := r1.Value(0)
	v2, _ := r2.Value(0)
	assert.Equal(t, int32(10), v1)
	assert.Equal(t, int32(15), v2)

	_, err = tbl.AddValues(100)
	require.NoError(t, err)
	r4, err := tbl.AddValues()
	require.NoError(t, err)
	v4, _ := r4.Value(0)
	assert.Equal(t, int32(105), v4)
}

func TestUniqueViolation(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("Code", TypeString)))
	require.NoError(t, tbl.SetPrimaryKey(tbl.Column("Code")))

	_, err := tbl.AddValues("abc")
	require.NoError(t, err)
	_, err = tbl.AddValues("ABC")
	assert.Equal(t, serrors.CodeUniqueViolation, serrors.GetCode(err))

	tbl.CaseSensitive = true
	_, err = tbl.AddValues("ABC")
	assert.NoError(t, err)
}

func TestForeignKeyEnforcement(t *testing.T) {
	_, customers, orders := ordersFixture(t)

	_, err := orders.AddValues(1, 42)
	assert.Equal(t, serrors.CodeFKViolation, serrors.GetCode(err))

	_, err = customers.AddValues(42, "Ada")
	require.NoError(t, err)
	_, err = orders.AddValues(1, 42)
	require.NoError(t, err)

	// Null foreign keys reference nothing.
	_, err = orders.AddValues(2, nil)
	assert.NoError(t, err)
}

func TestCascadeDeleteAndUpdate(t *testing.T) {
	ds, customers, orders := ordersFixture(t)
	c, err := customers.AddValues(1, "Ada")
	require.NoError(t, err)
	_, err = orders.AddValues(10, 1)
	require.NoError(t, err)
	_, err = orders.AddValues(11, 1)
	require.NoError(t, err)
	ds.AcceptChanges()

	require.NoError(t, c.Set(0, 2))
	for _, o := range orders.LiveRows() {
		v, _ := o.Get("CustomerId")
		assert.Equal(t, int32(2), v)
		assert.Equal(t, RowModified, o.State())
	}

	rel := ds.Relation("CustomerOrders")
	assert.Len(t, c.ChildRows(rel), 2)
	assert.Equal(t, c, orders.RowAt(0).ParentRow(rel))

	require.NoError(t, c.Delete())
	for _, o := range orders.Rows() {
		assert.Equal(t, RowDeleted, o.State())
	}
}

func TestDeleteRuleNone(t *testing.T) {
	ds, customers, orders := ordersFixture(t)
	fk := ds.Relation("CustomerOrders").ChildKeyConstraint()
	require.NotNil(t, fk)
	fk.DeleteRule = RuleNone

	c, err := customers.AddValues(1, "Ada")
	require.NoError(t, err)
	_, err = orders.AddValues(10, 1)
	require.NoError(t, err)
	ds.AcceptChanges()

	err = c.Delete()
	assert.Equal(t, serrors.CodeFKViolation, serrors.GetCode(err))
	assert.Equal(t, RowUnchanged, c.State())

	require.NoError(t, ds.SetEnforceConstraints(false))
	require.NoError(t, c.Delete())
	assert.Equal(t, RowDeleted, c.State())

	// Re-enabling finds the orphaned order.
	err = ds.SetEnforceConstraints(true)
	assert.Equal(t, serrors.CodeFKViolation, serrors.GetCode(err))
	assert.False(t, ds.EnforceConstraints())
}

func TestRelationWithoutConstraints(t *testing.T) {
	ds := New("D")
	p := NewTable("P")
	require.NoError(t, p.AddColumn(NewColumn("Id", TypeInt64)))
	c := NewTable("C")
	require.NoError(t, c.AddColumn(NewColumn("PId", TypeInt64)))
	require.NoError(t, ds.AddTable(p))
	require.NoError(t, ds.AddTable(c))

	rel := NewRelation("", []*Column{p.Column("Id")}, []*Column{c.Column("PId")})
	require.NoError(t, ds.AddRelation(rel, false))
	assert.Equal(t, "Relation1", rel.Name)
	assert.Nil(t, rel.ChildKeyConstraint())
	assert.Nil(t, rel.ParentKeyConstraint())
	assert.Empty(t, c.Constraints())

	bad := NewRelation("Mixed", []*Column{p.Column("Id")}, []*Column{c.Column("PId"), c.Column("PId")})
	assert.Error(t, ds.AddRelation(bad, false))
}

func TestRelationTypeMismatch(t *testing.T) {
	ds := New("D")
	p := NewTable("P")
	require.NoError(t, p.AddColumn(NewColumn("Id", TypeInt64)))
	c := NewTable("C")
	require.NoError(t, c.AddColumn(NewColumn("PId", TypeString)))
	require.NoError(t, ds.AddTable(p))
	require.NoError(t, ds.AddTable(c))

	err := ds.AddRelation(NewRelation("R", []*Column{p.Column("Id")}, []*Column{c.Column("PId")}), true)
	assert.Equal(t, serrors.CodeTypeMismatch, serrors.GetCode(err))
}

func TestComputedColumn(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("Price", TypeFloat64)))
	require.NoError(t, tbl.AddColumn(NewColumn("Qty", TypeInt32)))
	total := NewColumn("Total", TypeFloat64)
	require.NoError(t, tbl.AddColumn(total))

	assert.Error(t, total.SetExpression("Price * Missing"))
	require.NoError(t, total.SetExpression("Price * [Qty]"))
	assert.True(t, total.IsComputed())

	r, err := tbl.AddValues(2.5, 4, 99.0)
	require.NoError(t, err)
	v, _ := r.Value(2)
	assert.Nil(t, v)
	err = r.Set(2, 1.0)
	assert.Equal(t, serrors.CodeReadOnly, serrors.GetCode(err))
}

func TestExpressionReferences(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"Price * Qty", []string{"Price", "Qty"}},
		{"[Unit Price] > 10 AND Name LIKE 'a''b%'", []string{"Unit Price", "Name"}},
		{"Sum(Child.Amount) + Bonus", []string{"Bonus"}},
		{"Parent(CustomerOrders).Name + Suffix", []string{"Suffix"}},
		{"IsNull(Code, 'none')", []string{"Code"}},
		{"Created > #2024-01-01#", []string{"Created"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ExpressionReferences(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ExpressionReferences("'open")
	assert.Error(t, err)
}

func TestRowAndColumnErrors(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("A", TypeInt32)))
	require.NoError(t, tbl.AddColumn(NewColumn("B", TypeInt32)))
	r, err := tbl.AddValues(1, 2)
	require.NoError(t, err)

	assert.False(t, tbl.HasErrors())
	r.SetRowError("bad row")
	require.NoError(t, r.SetColumnError(1, "bad b"))
	require.NoError(t, r.SetColumnError(0, "bad a"))
	assert.Error(t, r.SetColumnError(5, "nope"))

	assert.True(t, tbl.HasErrors())
	assert.Equal(t, []int{0, 1}, r.ColumnsInError())
	assert.Equal(t, "bad b", r.ColumnError(1))

	r.ClearErrors()
	assert.False(t, r.HasErrors())
}

func TestAddColumnToPopulatedTable(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("A", TypeInt32)))
	r, err := tbl.AddValues(1)
	require.NoError(t, err)
	tbl.AcceptChanges()

	extra := NewColumn("B", TypeString)
	extra.DefaultValue = "dflt"
	require.NoError(t, tbl.AddColumn(extra))

	v, _ := r.Get("B")
	assert.Equal(t, "dflt", v)
	orig, _ := r.GetVersion("B", VersionOriginal)
	assert.Equal(t, "dflt", orig)
}

func TestProperties(t *testing.T) {
	var p Properties
	require.NoError(t, p.Set(StringKey("b"), 1))
	require.NoError(t, p.Set(IntKey(3), "three"))
	require.NoError(t, p.Set(StringKey("a"), float32(1.5)))
	assert.Error(t, p.Set(StringKey("bad"), struct{}{}))

	assert.Equal(t, []Key{IntKey(3), StringKey("a"), StringKey("b")}, p.Keys())
	v, ok := p.Get(StringKey("b"))
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	var q Properties
	q.CopyFrom(&p)
	assert.True(t, p.Equal(&q))
	q.Delete(IntKey(3))
	assert.False(t, p.Equal(&q))
}

func TestDatasetTables(t *testing.T) {
	ds := New("D")
	require.NoError(t, ds.AddTable(NewTable("A")))
	require.NoError(t, ds.AddTable(NewTable("")))
	err := ds.AddTable(NewTable("A"))
	assert.Equal(t, serrors.CodeDuplicateName, serrors.GetCode(err))

	assert.Equal(t, 2, ds.TableCount())
	assert.Equal(t, "Table2", ds.TableAt(1).Name)
	assert.Equal(t, 0, ds.TableIndex(ds.Table("a")))
	assert.Nil(t, ds.TableAt(5))

	assert.Equal(t, serrors.CodeNilArgument, serrors.GetCode(ds.AddTable(nil)))
}

func TestLoadDefersKeyChecks(t *testing.T) {
	tbl := NewTable("T")
	require.NoError(t, tbl.AddColumn(NewColumn("Id", TypeInt32)))
	require.NoError(t, tbl.SetPrimaryKey(tbl.Column("Id")))

	tbl.BeginLoad()
	a, err := tbl.AddValues(1)
	require.NoError(t, err)
	_, err = tbl.AddValues(1)
	require.NoError(t, err)
	err = tbl.EndLoad()
	assert.Equal(t, serrors.CodeUniqueViolation, serrors.GetCode(err))

	// Checks are back on even though EndLoad failed.
	_, err = tbl.AddValues(1)
	assert.Equal(t, serrors.CodeUniqueViolation, serrors.GetCode(err))

	require.NoError(t, a.Set(0, int32(2)))
	assert.NoError(t, tbl.EndLoad())
}

func TestLoadUnderDisabledEnforcement(t *testing.T) {
	ds, customers, _ := ordersFixture(t)
	require.NoError(t, ds.SetEnforceConstraints(false))

	customers.BeginLoad()
	_, err := customers.AddValues(1, "Ada")
	require.NoError(t, err)
	_, err = customers.AddValues(1, "Bob")
	require.NoError(t, err)
	// The dataset still has enforcement off, so nothing is re-validated.
	assert.NoError(t, customers.EndLoad())

	err = ds.SetEnforceConstraints(true)
	assert.Equal(t, serrors.CodeUniqueViolation, serrors.GetCode(err))
	assert.False(t, ds.EnforceConstraints())
}

func TestZeroColumnRowValues(t *testing.T) {
	tbl := NewTable("Empty")
	r, err := tbl.AddValues()
	require.NoError(t, err)
	r.AcceptChanges()

	for _, v := range []Version{VersionCurrent, VersionOriginal} {
		values, err := r.Values(v)
		require.NoError(t, err)
		assert.NotNil(t, values, "version %d", v)
		assert.Empty(t, values)
	}
}
