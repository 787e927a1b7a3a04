package surrogate

import "github.com/arkilian/surrogate/internal/dataset"

// suppression remembers the schema rules cleared for a data load.
type suppression struct {
	readOnly []*dataset.Column
	rules    []savedRules
}

type savedRules struct {
	fk           *dataset.ForeignKeyConstraint
	acceptReject dataset.AcceptRejectRule
	update       dataset.Rule
	delete       dataset.Rule
}

// suppressTable clears read-only flags on t's stored columns and the action
// rules of every foreign key whose parent is t.
func suppressTable(t *dataset.Table) *suppression {
	s := &suppression{}
	s.clearReadOnly(t)
	s.clearRules(t.ReferencingKeys())
	return s
}

// suppressDataset does the same for every table of ds.
func suppressDataset(ds *dataset.Dataset) *suppression {
	s := &suppression{}
	for _, t := range ds.Tables() {
		s.clearReadOnly(t)
		s.clearRules(t.ForeignKeys())
	}
	return s
}

func (s *suppression) clearReadOnly(t *dataset.Table) {
	for _, c := range t.Columns() {
		if c.ReadOnly && !c.IsComputed() {
			c.ReadOnly = false
			s.readOnly = append(s.readOnly, c)
		}
	}
}

func (s *suppression) clearRules(fks []*dataset.ForeignKeyConstraint) {
	for _, fk := range fks {
		s.rules = append(s.rules, savedRules{
			fk:           fk,
			acceptReject: fk.AcceptRejectRule,
			update:       fk.UpdateRule,
			delete:       fk.DeleteRule,
		})
		fk.AcceptRejectRule = dataset.AcceptRejectNone
		fk.UpdateRule = dataset.RuleNone
		fk.DeleteRule = dataset.RuleNone
	}
}

// restore puts every cleared flag and rule back.
func (s *suppression) restore() {
	for _, c := range s.readOnly {
		c.ReadOnly = true
	}
	for _, r := range s.rules {
		r.fk.AcceptRejectRule = r.acceptReject
		r.fk.UpdateRule = r.update
		r.fk.DeleteRule = r.delete
	}
}
