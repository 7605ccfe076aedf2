package dispatch

import (
	"context"

	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/predicate"
)

// Repository executes dispatch operations against the backing views.
// Predicates arrive already rewritten; attribute and order validation has
// happened upstream.
type Repository interface {
	// Search returns synthetic keys matching the predicate.
	Search(ctx context.Context, d *descriptor.Descriptor, pred *predicate.Node,
		order []Order, offset, limit int) ([]int64, error)

	// Read returns one row per resolved key, in view order.
	Read(ctx context.Context, d *descriptor.Descriptor, keys []int64,
		attrs []descriptor.Attribute) ([]Row, error)

	// GroupBy expands one first-level group key with counts and aggregates.
	// NULL-valued group keys form their own bucket, ordered last.
	GroupBy(ctx context.Context, d *descriptor.Descriptor, pred *predicate.Node,
		key GroupKey, aggs []AggSpec) ([]Bucket, error)

	// Count returns the cardinality of the predicate's row set.
	Count(ctx context.Context, d *descriptor.Descriptor, pred *predicate.Node) (int64, error)
}

// Registry looks up registered entities and re-materialises their backing
// views. Implemented by the schema registrar.
type Registry interface {
	Descriptor(name string) (*descriptor.Descriptor, error)
	Materialise(ctx context.Context, name string) error
}

// DisplayNameResolver renders display names for referenced entity keys.
// Label lookup goes through this collaborator instead of a direct join so
// reference attributes stay advisory.
type DisplayNameResolver interface {
	Resolve(ctx context.Context, entity string, keys []int64) (map[int64]string, error)
}
