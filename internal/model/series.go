package model

// Series is a resampled table: one row per bucket, buckets unique and
// ascending. Buckets without source rows are absent, not zero.
type Series struct {
	Name     string
	Interval string
	Table
}

// IndexName is the header used for the bucket index in tabular exports.
func (s Series) IndexName() string {
	if s.TimeColumn != "" {
		return s.TimeColumn
	}
	return "timestamp"
}
