package model

// RawRecord is one record as decoded from a source, before any typing.
// It only lives inside a single fetch call.
type RawRecord map[string]any
