package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/dispatch"
)

// NameSource maps a referenced entity to the transactional table and column
// its display name is read from.
type NameSource struct {
	Table      string
	NameColumn string
}

// NameResolver resolves display names for referenced entity keys from the
// transactional tables. Reference attributes stay advisory; labels are looked
// up here instead of joined into the view.
type NameResolver struct {
	db      Querier
	sources map[string]NameSource
	builder squirrel.StatementBuilderType
}

// NewNameResolver creates a resolver over the given entity sources.
func NewNameResolver(db Querier, sources map[string]NameSource) *NameResolver {
	return &NameResolver{
		db:      db,
		sources: sources,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Resolve returns display names keyed by id. Unknown keys are absent from the
// result; callers render those as undefined.
func (r *NameResolver) Resolve(ctx context.Context, entity string, keys []int64) (map[int64]string, error) {
	src, ok := r.sources[entity]
	if !ok {
		return nil, apperror.NewNotFound("display-name source", entity)
	}
	if len(keys) == 0 {
		return map[int64]string{}, nil
	}

	q := r.builder.
		Select("id", src.NameColumn+" AS name").
		From(src.Table).
		Where(squirrel.Eq{"id": keys})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build display-name query: %w", err)
	}

	var rows []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("resolve display names for %s: %w", entity, err)
	}

	out := make(map[int64]string, len(rows))
	for _, row := range rows {
		out[row.ID] = row.Name
	}
	return out, nil
}

// Ensure interface compliance
var _ dispatch.DisplayNameResolver = (*NameResolver)(nil)
