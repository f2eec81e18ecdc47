package dedup

import (
	"math"
	"strconv"
	"strings"

	"github.com/crimson-sun/citypulse/internal/model"
)

// Config controls which rows count as duplicates.
type Config struct {
	// KeyOnly treats rows sharing timestamp and entity as duplicates even
	// when their values differ. The first occurrence wins.
	KeyOnly bool
}

// Deduplicator drops repeated rows, such as the overlap produced when a
// feed is re-published while it is being paged through.
type Deduplicator struct {
	cfg Config
}

// New creates a Deduplicator with the given config.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{cfg: cfg}
}

// Table returns a copy of t without repeated rows, preserving first-occurrence
// order, and the number of rows dropped.
func (d *Deduplicator) Table(t model.Table) (model.Table, int) {
	if t.Len() == 0 {
		return t.Clone(), 0
	}

	seen := make(map[string]struct{}, t.Len())
	out := t.Filter(func(r model.Row) bool {
		k := d.key(r)
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		return true
	})
	return out, t.Len() - out.Len()
}

func (d *Deduplicator) key(r model.Row) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.Timestamp.UnixNano(), 10))
	b.WriteByte(0)
	b.WriteString(r.Entity)
	if d.cfg.KeyOnly {
		return b.String()
	}
	for _, v := range r.Values {
		b.WriteByte(0)
		if math.IsNaN(v) {
			b.WriteString("NaN")
			continue
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
