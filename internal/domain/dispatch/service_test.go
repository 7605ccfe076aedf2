package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/predicate"
	"analytica/internal/domain/rewrite"
)

// fakeRegistry serves a fixed descriptor set and records materialisations.
type fakeRegistry struct {
	mu             sync.Mutex
	descriptors    map[string]*descriptor.Descriptor
	materialised   []string
	materialiseErr error
}

func (f *fakeRegistry) Descriptor(name string) (*descriptor.Descriptor, error) {
	d, ok := f.descriptors[name]
	if !ok {
		return nil, apperror.NewNotFound("entity", name)
	}
	return d, nil
}

func (f *fakeRegistry) Materialise(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.materialiseErr != nil {
		return f.materialiseErr
	}
	f.materialised = append(f.materialised, name)
	return nil
}

// fakeRepo replays canned results and records the calls it saw.
type fakeRepo struct {
	keys    []int64
	rows    []Row
	buckets []Bucket
	count   int64

	// failures counts down: while positive, every call fails with err.
	failures int
	err      error

	searchCalls int
	lastOrder   []Order
	lastKey     GroupKey
	lastAggs    []AggSpec
}

func (f *fakeRepo) fail() error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *fakeRepo) Search(_ context.Context, _ *descriptor.Descriptor, _ *predicate.Node,
	order []Order, _, _ int) ([]int64, error) {
	f.searchCalls++
	f.lastOrder = order
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.keys, nil
}

func (f *fakeRepo) Read(_ context.Context, _ *descriptor.Descriptor, keys []int64,
	_ []descriptor.Attribute) ([]Row, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	// Serve only rows whose key was requested, in storage order.
	requested := make(map[int64]bool, len(keys))
	for _, k := range keys {
		requested[k] = true
	}
	var out []Row
	for _, r := range f.rows {
		if requested[r.Key] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) GroupBy(_ context.Context, _ *descriptor.Descriptor, _ *predicate.Node,
	key GroupKey, aggs []AggSpec) ([]Bucket, error) {
	f.lastKey = key
	f.lastAggs = aggs
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.buckets, nil
}

func (f *fakeRepo) Count(_ context.Context, _ *descriptor.Descriptor, _ *predicate.Node) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.count, nil
}

// fakeResolver resolves display names from a fixed map.
type fakeResolver struct {
	names map[int64]string
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, keys []int64) (map[int64]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]string, len(keys))
	for _, k := range keys {
		if n, ok := f.names[k]; ok {
			out[k] = n
		}
	}
	return out, nil
}

func assetDescriptor() *descriptor.Descriptor {
	return descriptor.MustNew("asset_report", "Assets",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "asset", Type: descriptor.TypeReference, Column: "asset_id", RefEntity: "asset"},
			{Name: "purchase_year", Type: descriptor.TypeText},
			{Name: "purchase_date", Type: descriptor.TypeDate},
			{Name: "state", Type: descriptor.TypeEnum, Options: []descriptor.EnumOption{
				{Code: "open"}, {Code: "close"},
			}},
			{Name: "gross_value", Type: descriptor.TypeDecimal, Aggregator: descriptor.AggAvg},
			{Name: "posted_value", Type: descriptor.TypeDecimal},
		}, "purchase_year")
}

func newTestService(repo *fakeRepo, resolver DisplayNameResolver) (*Service, *fakeRegistry) {
	registry := &fakeRegistry{descriptors: map[string]*descriptor.Descriptor{
		"asset_report": assetDescriptor(),
	}}
	svc := NewService(registry, repo, rewrite.New(), resolver, DefaultConfig())
	return svc, registry
}

func TestSearch_DefaultOrderWithKeyTiebreaker(t *testing.T) {
	repo := &fakeRepo{keys: []int64{3, 1, 2}}
	svc, _ := newTestService(repo, nil)

	keys, err := svc.Search(context.Background(), "asset_report", predicate.And(), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, keys)

	require.Len(t, repo.lastOrder, 2)
	assert.Equal(t, Order{Attr: "purchase_year"}, repo.lastOrder[0])
	assert.Equal(t, Order{Attr: "id"}, repo.lastOrder[1])
}

func TestSearch_ExplicitOrderKeepsCallerKeys(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := newTestService(repo, nil)

	_, err := svc.Search(context.Background(), "asset_report", predicate.And(),
		SearchOptions{Order: []Order{{Attr: "gross_value", Desc: true}, {Attr: "id"}}})
	require.NoError(t, err)

	require.Len(t, repo.lastOrder, 2)
	assert.Equal(t, Order{Attr: "gross_value", Desc: true}, repo.lastOrder[0])
}

func TestSearch_UnknownOrderAttribute(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)

	_, err := svc.Search(context.Background(), "asset_report", predicate.And(),
		SearchOptions{Order: []Order{{Attr: "ghost"}}})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownAttribute))
}

func TestSearch_UnknownEntity(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)

	_, err := svc.Search(context.Background(), "ghost_report", predicate.And(), SearchOptions{})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestRead_DedupesAndPreservesCallerOrder(t *testing.T) {
	repo := &fakeRepo{rows: []Row{
		{Key: 1, Values: map[string]any{"purchase_year": "2025"}},
		{Key: 2, Values: map[string]any{"purchase_year": "2026"}},
		{Key: 3, Values: map[string]any{"purchase_year": "2024"}},
	}}
	svc, _ := newTestService(repo, nil)

	rows, err := svc.Read(context.Background(), "asset_report",
		[]int64{3, 1, 3, 99, 1}, []string{"purchase_year"})
	require.NoError(t, err)

	// 99 is silently absent; duplicates collapse; caller order wins.
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].Key)
	assert.Equal(t, int64(1), rows[1].Key)
}

func TestRead_EmptyKeys(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)

	rows, err := svc.Read(context.Background(), "asset_report", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRead_UnknownAttribute(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)

	_, err := svc.Read(context.Background(), "asset_report", []int64{1}, []string{"ghost"})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownAttribute))
}

func TestGroupBy_ValidatesGroupKeys(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)
	ctx := context.Background()

	_, err := svc.GroupBy(ctx, "asset_report", predicate.And(), nil, nil)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.GroupBy(ctx, "asset_report", predicate.And(),
		[]GroupKey{{Attr: "purchase_date", Bucket: "decade"}}, nil)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	// Bucket hints apply to temporal attributes only.
	_, err = svc.GroupBy(ctx, "asset_report", predicate.And(),
		[]GroupKey{{Attr: "purchase_year", Bucket: BucketMonth}}, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsTypeConflict(err))
}

func TestGroupBy_AggregatePlan(t *testing.T) {
	repo := &fakeRepo{buckets: []Bucket{}}
	svc, _ := newTestService(repo, nil)

	// Requesting posted_value also pulls in gross_value because it declares an
	// explicit aggregator; the group key and the key attribute never aggregate.
	_, err := svc.GroupBy(context.Background(), "asset_report", predicate.And(),
		[]GroupKey{{Attr: "purchase_year"}}, []string{"posted_value"})
	require.NoError(t, err)

	require.Len(t, repo.lastAggs, 2)
	assert.Equal(t, "gross_value", repo.lastAggs[0].Attr.Name)
	assert.Equal(t, descriptor.AggAvg, repo.lastAggs[0].Aggregator)
	assert.Equal(t, "posted_value", repo.lastAggs[1].Attr.Name)
	assert.Equal(t, descriptor.AggSum, repo.lastAggs[1].Aggregator)
}

func TestGroupBy_RejectsNonAggregatableRequest(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)

	_, err := svc.GroupBy(context.Background(), "asset_report", predicate.And(),
		[]GroupKey{{Attr: "purchase_year"}}, []string{"state"})
	require.Error(t, err)
	assert.True(t, apperror.IsTypeConflict(err))
}

func TestGroupBy_NullKeyBecomesUndefinedBucket(t *testing.T) {
	repo := &fakeRepo{buckets: []Bucket{
		{GroupValues: map[string]any{"state": "open"}, Count: 2, Aggregates: map[string]any{}},
		{GroupValues: map[string]any{"state": nil}, Count: 1, Aggregates: map[string]any{}},
	}}
	svc, _ := newTestService(repo, nil)

	buckets, err := svc.GroupBy(context.Background(), "asset_report", predicate.And(),
		[]GroupKey{{Attr: "state"}}, nil)
	require.NoError(t, err)

	require.Len(t, buckets, 2)
	assert.Equal(t, "open", buckets[0].GroupValues["state"])
	assert.Equal(t, UndefinedLabel, buckets[1].GroupValues["state"])
}

func TestGroupBy_ReferenceKeyResolvesDisplayName(t *testing.T) {
	repo := &fakeRepo{buckets: []Bucket{
		{GroupValues: map[string]any{"asset": int64(5)}, Count: 3, Aggregates: map[string]any{}},
		{GroupValues: map[string]any{"asset": nil}, Count: 1, Aggregates: map[string]any{}},
	}}
	resolver := &fakeResolver{names: map[int64]string{5: "Lathe"}}
	svc, _ := newTestService(repo, resolver)

	buckets, err := svc.GroupBy(context.Background(), "asset_report", predicate.And(),
		[]GroupKey{{Attr: "asset"}}, nil)
	require.NoError(t, err)

	require.Len(t, buckets, 2)
	assert.Equal(t, RefValue{ID: 5, DisplayName: "Lathe"}, buckets[0].GroupValues["asset"])
	assert.Equal(t, UndefinedLabel, buckets[1].GroupValues["asset"])
}

func TestGroupBy_ResidualKeysPreserved(t *testing.T) {
	repo := &fakeRepo{buckets: []Bucket{
		{GroupValues: map[string]any{"purchase_year": "2025"}, Count: 8, Aggregates: map[string]any{}},
	}}
	svc, _ := newTestService(repo, nil)

	keys := []GroupKey{
		{Attr: "purchase_year"},
		{Attr: "purchase_date", Bucket: BucketMonth},
		{Attr: "state"},
	}
	buckets, err := svc.GroupBy(context.Background(), "asset_report", predicate.And(), keys, nil)
	require.NoError(t, err)

	require.Len(t, buckets, 1)
	assert.Equal(t, GroupKey{Attr: "purchase_year"}, repo.lastKey)
	assert.Equal(t, keys[1:], buckets[0].Residual)
}

func TestCount(t *testing.T) {
	repo := &fakeRepo{count: 13}
	svc, _ := newTestService(repo, nil)

	n, err := svc.Count(context.Background(), "asset_report", predicate.And())
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
}

func TestMutations_RefusedAheadOfEngine(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, nil)
	ctx := context.Background()

	err := svc.Create(ctx, "asset_report", map[string]any{"gross_value": decimal.NewFromInt(1)})
	assert.True(t, apperror.HasCode(err, apperror.CodeReadOnly))

	err = svc.Update(ctx, "asset_report", []int64{1}, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeReadOnly))

	err = svc.Delete(ctx, "asset_report", []int64{1})
	assert.True(t, apperror.HasCode(err, apperror.CodeReadOnly))

	// Unknown entities fail lookup before the read-only refusal.
	err = svc.Create(ctx, "ghost_report", nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestSchemaMissing_SingleRematerialisationRetry(t *testing.T) {
	repo := &fakeRepo{
		keys:     []int64{1},
		failures: 1,
		err:      apperror.NewSchemaMissing("asset_report"),
	}
	svc, registry := newTestService(repo, nil)

	keys, err := svc.Search(context.Background(), "asset_report", predicate.And(), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, keys)
	assert.Equal(t, 2, repo.searchCalls)
	assert.Equal(t, []string{"asset_report"}, registry.materialised)
}

func TestSchemaMissing_SecondMissFailsOperation(t *testing.T) {
	repo := &fakeRepo{
		failures: 2,
		err:      apperror.NewSchemaMissing("asset_report"),
	}
	svc, registry := newTestService(repo, nil)

	_, err := svc.Search(context.Background(), "asset_report", predicate.And(), SearchOptions{})
	require.Error(t, err)
	assert.True(t, apperror.IsSchemaMissing(err))
	assert.Equal(t, 2, repo.searchCalls)
	assert.Len(t, registry.materialised, 1, "exactly one re-materialisation attempt")
}

func TestSchemaMissing_NoRetryOnOtherErrors(t *testing.T) {
	repo := &fakeRepo{
		failures: 1,
		err:      errors.New("connection reset"),
	}
	svc, registry := newTestService(repo, nil)

	_, err := svc.Search(context.Background(), "asset_report", predicate.And(), SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, repo.searchCalls)
	assert.Empty(t, registry.materialised)
}

func TestDeadlineMapsToTimeout(t *testing.T) {
	repo := &fakeRepo{
		failures: 1,
		err:      context.DeadlineExceeded,
	}
	svc, _ := newTestService(repo, nil)

	_, err := svc.Count(context.Background(), "asset_report", predicate.And())
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeTimeout))
}
