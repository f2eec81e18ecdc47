// Package filter narrows a table to the rows of one entity.
package filter

import (
	"fmt"

	"github.com/crimson-sun/citypulse/internal/model"
)

// ErrNoMatch is returned when no row carries the requested entity.
var ErrNoMatch = fmt.Errorf("no rows match entity: %w", model.ErrEmptySelection)

// Entity keeps the rows whose entity equals value exactly. Matching is
// case- and whitespace-sensitive.
func Entity(t model.Table, value string) (model.Table, error) {
	out := t.Filter(func(r model.Row) bool { return r.Entity == value })
	if out.Len() == 0 {
		return out, fmt.Errorf("filter %s=%q: %w", columnName(t), value, ErrNoMatch)
	}
	return out, nil
}

func columnName(t model.Table) string {
	if t.EntityColumn != "" {
		return t.EntityColumn
	}
	return "entity"
}
