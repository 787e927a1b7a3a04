package dataset

// Relation links parent key columns of one table to child columns of another
// (or the same) table of a dataset.
type Relation struct {
	Name          string
	ParentColumns []*Column
	ChildColumns  []*Column

	// Nested marks child rows as nested under their parent in hierarchical
	// renderings of the dataset.
	Nested bool

	Extended Properties

	dataset *Dataset
}

// NewRelation creates a relation from parent to child columns.
func NewRelation(name string, parent, child []*Column) *Relation {
	return &Relation{Name: name, ParentColumns: parent, ChildColumns: child}
}

// Dataset returns the owning dataset, or nil before AddRelation.
func (r *Relation) Dataset() *Dataset { return r.dataset }

// ParentTable returns the table of the parent columns.
func (r *Relation) ParentTable() *Table {
	if len(r.ParentColumns) == 0 {
		return nil
	}
	return r.ParentColumns[0].table
}

// ChildTable returns the table of the child columns.
func (r *Relation) ChildTable() *Table {
	if len(r.ChildColumns) == 0 {
		return nil
	}
	return r.ChildColumns[0].table
}

// ParentKeyConstraint returns the unique constraint on the parent columns,
// or nil when the relation was added without constraints.
func (r *Relation) ParentKeyConstraint() *UniqueConstraint {
	if t := r.ParentTable(); t != nil {
		return t.uniqueOn(r.ParentColumns)
	}
	return nil
}

// ChildKeyConstraint returns the foreign key matching the relation, or nil.
func (r *Relation) ChildKeyConstraint() *ForeignKeyConstraint {
	t := r.ChildTable()
	if t == nil {
		return nil
	}
	for _, fk := range t.ForeignKeys() {
		if sameColumns(fk.Columns, r.ChildColumns) && sameColumns(fk.RelatedColumns, r.ParentColumns) {
			return fk
		}
	}
	return nil
}
