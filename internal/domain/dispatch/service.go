package dispatch

import (
	"context"
	"errors"
	"time"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/predicate"
	"analytica/internal/domain/rewrite"
	"analytica/pkg/logger"
)

// Service is the query dispatcher: it validates caller input, runs the filter
// rewriter and delegates to the repository. The dispatcher never retries an
// operation except for the one-shot re-materialisation after a schema miss;
// retries belong to the caller.
type Service struct {
	registry Registry
	repo     Repository
	rewriter *rewrite.Rewriter
	resolver DisplayNameResolver

	// timeout is the wall-clock budget applied when the caller's context has
	// no deadline of its own.
	timeout time.Duration
}

// Config holds dispatcher construction options.
type Config struct {
	// OperationTimeout defaults to 30s.
	OperationTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{OperationTimeout: 30 * time.Second}
}

// NewService creates a query dispatcher.
func NewService(registry Registry, repo Repository, rewriter *rewrite.Rewriter,
	resolver DisplayNameResolver, cfg Config) *Service {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	return &Service{
		registry: registry,
		repo:     repo,
		rewriter: rewriter,
		resolver: resolver,
		timeout:  cfg.OperationTimeout,
	}
}

// withBudget applies the operation's wall-clock budget.
func (s *Service) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// mapErr translates a budget expiry into the Timeout failure.
func mapErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return apperror.NewTimeout(op).WithCause(err)
	}
	return err
}

// withRematerialise runs fn, re-materialising the backing view once when the
// first dispatch after a failed materialisation reports a schema miss.
// A second miss is fatal to the operation but not to the process.
func (s *Service) withRematerialise(ctx context.Context, entity string, fn func() error) error {
	err := fn()
	if !apperror.IsSchemaMissing(err) {
		return err
	}
	logger.Warn(ctx, "backing view missing, re-materialising", "entity", entity)
	if merr := s.registry.Materialise(ctx, entity); merr != nil {
		return merr
	}
	return fn()
}

// Search returns the synthetic keys matching the predicate, ordered and
// paginated.
func (s *Service) Search(ctx context.Context, entity string, pred *predicate.Node,
	opts SearchOptions) ([]int64, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	d, err := s.registry.Descriptor(entity)
	if err != nil {
		return nil, err
	}

	rewritten, err := s.rewriter.Rewrite(ctx, d, pred)
	if err != nil {
		return nil, err
	}

	order, err := s.resolveOrder(d, opts.Order)
	if err != nil {
		return nil, err
	}

	var keys []int64
	err = s.withRematerialise(ctx, entity, func() error {
		var rerr error
		keys, rerr = s.repo.Search(ctx, d, rewritten, order, opts.Offset, opts.Limit)
		return rerr
	})
	if err != nil {
		return nil, mapErr(ctx, "search", err)
	}
	return keys, nil
}

// resolveOrder validates the caller's ordering keys, falling back to the
// descriptor's default order. The synthetic key is appended as tiebreaker.
func (s *Service) resolveOrder(d *descriptor.Descriptor, order []Order) ([]Order, error) {
	if len(order) == 0 {
		order = []Order{{Attr: d.DefaultOrder()}}
	}
	hasKey := false
	for _, o := range order {
		if !d.Has(o.Attr) {
			return nil, apperror.NewUnknownAttribute(d.Name(), o.Attr)
		}
		if o.Attr == descriptor.KeyAttr {
			hasKey = true
		}
	}
	if !hasKey {
		order = append(order, Order{Attr: descriptor.KeyAttr})
	}
	return order, nil
}

// Read returns one record per key with the requested attribute values.
// Duplicate keys deduplicate; input order is preserved; unresolved keys are
// silently absent.
func (s *Service) Read(ctx context.Context, entity string, keys []int64,
	attrNames []string) ([]Row, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	d, err := s.registry.Descriptor(entity)
	if err != nil {
		return nil, err
	}

	var attrs []descriptor.Attribute
	if len(attrNames) == 0 {
		attrs = d.Attributes()
	} else {
		for _, name := range attrNames {
			a, err := d.Attribute(name)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, a)
		}
	}

	deduped := dedupeKeys(keys)
	if len(deduped) == 0 {
		return []Row{}, nil
	}

	var rows []Row
	err = s.withRematerialise(ctx, entity, func() error {
		var rerr error
		rows, rerr = s.repo.Read(ctx, d, deduped, attrs)
		return rerr
	})
	if err != nil {
		return nil, mapErr(ctx, "read", err)
	}

	// Re-order to match the caller's key sequence.
	byKey := make(map[int64]Row, len(rows))
	for _, r := range rows {
		byKey[r.Key] = r
	}
	out := make([]Row, 0, len(deduped))
	for _, k := range deduped {
		if r, ok := byKey[k]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func dedupeKeys(keys []int64) []int64 {
	seen := make(map[int64]bool, len(keys))
	out := make([]int64, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// GroupBy expands the first group key into buckets and preserves the residual
// keys on each bucket for recursive drill-down.
func (s *Service) GroupBy(ctx context.Context, entity string, pred *predicate.Node,
	groupKeys []GroupKey, aggAttrs []string) ([]Bucket, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	d, err := s.registry.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	if len(groupKeys) == 0 {
		return nil, apperror.NewValidation("group_by requires at least one group key")
	}

	for _, g := range groupKeys {
		a, err := d.Attribute(g.Attr)
		if err != nil {
			return nil, err
		}
		if g.Bucket != "" {
			if !g.Bucket.Valid() {
				return nil, apperror.NewValidation("unknown date bucket " + string(g.Bucket))
			}
			if !a.IsTemporal() {
				return nil, apperror.NewTypeConflict(g.Attr, g.Bucket,
					"date buckets apply to temporal attributes only")
			}
		}
	}

	aggs, err := s.resolveAggregates(d, groupKeys, aggAttrs)
	if err != nil {
		return nil, err
	}

	rewritten, err := s.rewriter.Rewrite(ctx, d, pred)
	if err != nil {
		return nil, err
	}

	first, residual := groupKeys[0], groupKeys[1:]

	var buckets []Bucket
	err = s.withRematerialise(ctx, entity, func() error {
		var rerr error
		buckets, rerr = s.repo.GroupBy(ctx, d, rewritten, first, aggs)
		return rerr
	})
	if err != nil {
		return nil, mapErr(ctx, "group_by", err)
	}

	firstAttr, _ := d.Attribute(first.Attr)
	if err := s.renderGroupValues(ctx, firstAttr, buckets); err != nil {
		return nil, err
	}

	for i := range buckets {
		buckets[i].Residual = residual
	}
	return buckets, nil
}

// resolveAggregates builds the aggregate plan: the requested attributes plus
// every attribute carrying an explicit aggregator declaration. Group keys are
// never aggregated.
func (s *Service) resolveAggregates(d *descriptor.Descriptor, groupKeys []GroupKey,
	aggAttrs []string) ([]AggSpec, error) {
	grouped := make(map[string]bool, len(groupKeys))
	for _, g := range groupKeys {
		grouped[g.Attr] = true
	}

	requested := make(map[string]bool, len(aggAttrs))
	for _, name := range aggAttrs {
		a, err := d.Attribute(name)
		if err != nil {
			return nil, err
		}
		if a.GroupAggregator() == descriptor.AggNone {
			return nil, apperror.NewTypeConflict(name, nil, "attribute has no group aggregator")
		}
		requested[name] = true
	}

	var specs []AggSpec
	for _, a := range d.Attributes() {
		if a.Name == descriptor.KeyAttr || grouped[a.Name] {
			continue
		}
		if requested[a.Name] || a.Aggregator != descriptor.AggNone {
			specs = append(specs, AggSpec{Attr: a, Aggregator: a.GroupAggregator()})
		}
	}
	return specs, nil
}

// renderGroupValues substitutes NULL keys with the undefined sentinel and
// resolves reference keys to {id, display_name} via the resolver collaborator.
func (s *Service) renderGroupValues(ctx context.Context, attr descriptor.Attribute, buckets []Bucket) error {
	if attr.Type != descriptor.TypeReference {
		for i := range buckets {
			if buckets[i].GroupValues[attr.Name] == nil {
				buckets[i].GroupValues[attr.Name] = UndefinedLabel
			}
		}
		return nil
	}

	var ids []int64
	for _, b := range buckets {
		if id, ok := asKey(b.GroupValues[attr.Name]); ok {
			ids = append(ids, id)
		}
	}

	names := map[int64]string{}
	if len(ids) > 0 && s.resolver != nil {
		resolved, err := s.resolver.Resolve(ctx, attr.RefEntity, ids)
		if err != nil {
			return err
		}
		names = resolved
	}

	for i := range buckets {
		id, ok := asKey(buckets[i].GroupValues[attr.Name])
		if !ok {
			buckets[i].GroupValues[attr.Name] = UndefinedLabel
			continue
		}
		buckets[i].GroupValues[attr.Name] = RefValue{ID: id, DisplayName: names[id]}
	}
	return nil
}

func asKey(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

// Count returns the cardinality of the predicate's row set.
func (s *Service) Count(ctx context.Context, entity string, pred *predicate.Node) (int64, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	d, err := s.registry.Descriptor(entity)
	if err != nil {
		return 0, err
	}

	rewritten, err := s.rewriter.Rewrite(ctx, d, pred)
	if err != nil {
		return 0, err
	}

	var n int64
	err = s.withRematerialise(ctx, entity, func() error {
		var rerr error
		n, rerr = s.repo.Count(ctx, d, rewritten)
		return rerr
	})
	if err != nil {
		return 0, mapErr(ctx, "count", err)
	}
	return n, nil
}

// Create always fails: analytical entities are read-only. The refusal happens
// ahead of the engine.
func (s *Service) Create(ctx context.Context, entity string, _ map[string]any) error {
	return s.refuseMutation(entity)
}

// Update always fails: analytical entities are read-only.
func (s *Service) Update(ctx context.Context, entity string, _ []int64, _ map[string]any) error {
	return s.refuseMutation(entity)
}

// Delete always fails: analytical entities are read-only.
func (s *Service) Delete(ctx context.Context, entity string, _ []int64) error {
	return s.refuseMutation(entity)
}

func (s *Service) refuseMutation(entity string) error {
	if _, err := s.registry.Descriptor(entity); err != nil {
		return err
	}
	return apperror.NewReadOnly(entity)
}
