// Package dispatch implements search, read, group-by and count over
// registered analytical entities, producing transient analytical rows.
package dispatch

import (
	"analytica/internal/domain/descriptor"
)

// Order is one ordering key of a search.
type Order struct {
	Attr string `json:"attr"`
	Desc bool   `json:"desc,omitempty"`
}

// SearchOptions carries ordering and pagination for Search.
type SearchOptions struct {
	// Order defaults to the descriptor's default order, ascending, with ties
	// broken by the synthetic key ascending.
	Order  []Order `json:"order,omitempty"`
	Offset int     `json:"offset,omitempty"`
	Limit  int     `json:"limit,omitempty"`
}

// Row is one analytical row: the synthetic key plus the requested attribute
// values. Rows are owned by the caller and never persisted.
type Row struct {
	Key    int64          `json:"id"`
	Values map[string]any `json:"values"`
}

// DateBucket is the granularity hint for grouping on a temporal attribute.
type DateBucket string

const (
	BucketYear    DateBucket = "year"
	BucketQuarter DateBucket = "quarter"
	BucketMonth   DateBucket = "month"
	BucketWeek    DateBucket = "week"
	BucketDay     DateBucket = "day"
)

// Valid reports whether b is a recognised bucket hint.
func (b DateBucket) Valid() bool {
	switch b {
	case BucketYear, BucketQuarter, BucketMonth, BucketWeek, BucketDay:
		return true
	}
	return false
}

// GroupKey names a grouping attribute, optionally with a date bucket hint.
// The bucket computation happens in the projection of the grouping select,
// never in the view definition.
type GroupKey struct {
	Attr   string     `json:"attr"`
	Bucket DateBucket `json:"bucket,omitempty"`
}

// RefValue is the rendered form of a reference-valued group key.
type RefValue struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// UndefinedLabel is the sentinel group value for NULL-valued group keys.
const UndefinedLabel = "undefined"

// Bucket is one element of a group-by result: the group-key values, the count
// of underlying rows, one aggregate per requested attribute, and the residual
// group keys preserved so the caller can drill down.
type Bucket struct {
	GroupValues map[string]any `json:"group_values"`
	Count       int64          `json:"count"`
	Aggregates  map[string]any `json:"aggregates,omitempty"`
	Residual    []GroupKey     `json:"residual,omitempty"`
}

// AggSpec pairs an aggregate attribute with its effective aggregator,
// resolved from the descriptor declaration.
type AggSpec struct {
	Attr       descriptor.Attribute
	Aggregator descriptor.Aggregator
}
