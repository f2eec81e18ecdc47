// Package derive computes new measure columns from existing ones.
package derive

import (
	"fmt"

	"github.com/crimson-sun/citypulse/internal/model"
)

// Sum appends a column holding the row-wise numeric sum of Columns.
type Sum struct {
	Name    string
	Columns []string
}

// Apply returns a copy of t with the derived column appended. The input
// columns must already be numeric; missing cells propagate as missing.
func (s Sum) Apply(t model.Table) (model.Table, error) {
	if s.Name == "" {
		return model.Table{}, fmt.Errorf("derive: sum has no target name")
	}
	if len(s.Columns) == 0 {
		return model.Table{}, fmt.Errorf("derive %s: no input columns", s.Name)
	}

	idx := make([]int, len(s.Columns))
	for i, name := range s.Columns {
		pos, ok := t.Column(name)
		if !ok {
			return model.Table{}, fmt.Errorf("derive %s: unknown column %q", s.Name, name)
		}
		idx[i] = pos
	}

	values := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		var total float64
		for _, pos := range idx {
			total += r.Values[pos]
		}
		values[i] = total
	}
	return t.WithColumn(s.Name, values)
}
