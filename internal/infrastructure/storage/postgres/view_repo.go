package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	appctx "analytica/internal/core/context"
	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/dispatch"
	"analytica/internal/domain/predicate"
)

var tracer = otel.Tracer("analytica/postgres")

// Querier is the subset of pgxpool.Pool the repository needs. Each query
// acquires one pooled connection for its duration and releases it on all
// exit paths.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ViewRepo implements dispatch.Repository over the backing views owned by the
// registrar. Dispatch holds the entity's schema mutex on the read side, so
// reads block while a materialisation is in progress.
type ViewRepo struct {
	db        Querier
	registrar *Registrar
	builder   squirrel.StatementBuilderType
}

// NewViewRepo creates the dispatch repository.
func NewViewRepo(db Querier, registrar *Registrar) *ViewRepo {
	return &ViewRepo{
		db:        db,
		registrar: registrar,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Search returns synthetic keys matching the predicate.
func (r *ViewRepo) Search(ctx context.Context, d *descriptor.Descriptor, pred *predicate.Node,
	order []dispatch.Order, offset, limit int) ([]int64, error) {

	ctx, span := tracer.Start(ctx, "view.search")
	span.SetAttributes(attribute.String("entity", d.Name()))
	defer span.End()

	q := r.builder.
		Select(descriptor.KeyAttr).
		From(d.Name())

	q, err := r.applyPredicate(q, d, pred)
	if err != nil {
		return nil, err
	}

	for _, o := range order {
		col, err := columnFor(d, o.Attr)
		if err != nil {
			return nil, err
		}
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		q = q.OrderBy(col + dir)
	}

	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search: %w", err)
	}

	var keys []int64
	err = r.registrar.withReadLock(d.Name(), func() error {
		return pgxscan.Select(ctx, r.db, &keys, sql, args...)
	})
	if err != nil {
		return nil, r.mapEngineError(ctx, d.Name(), err)
	}
	return keys, nil
}

// Read returns the requested attribute values for each resolved key.
func (r *ViewRepo) Read(ctx context.Context, d *descriptor.Descriptor, keys []int64,
	attrs []descriptor.Attribute) ([]dispatch.Row, error) {

	ctx, span := tracer.Start(ctx, "view.read")
	span.SetAttributes(attribute.String("entity", d.Name()))
	defer span.End()

	cols := []string{descriptor.KeyAttr}
	byColumn := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Name == descriptor.KeyAttr {
			continue
		}
		cols = append(cols, a.ColumnName())
		byColumn[a.ColumnName()] = a.Name
	}

	q := r.builder.
		Select(cols...).
		From(d.Name()).
		Where(squirrel.Eq{descriptor.KeyAttr: keys})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read: %w", err)
	}

	var raw []map[string]any
	err = r.registrar.withReadLock(d.Name(), func() error {
		return pgxscan.Select(ctx, r.db, &raw, sql, args...)
	})
	if err != nil {
		return nil, r.mapEngineError(ctx, d.Name(), err)
	}

	rows := make([]dispatch.Row, 0, len(raw))
	for _, m := range raw {
		key, _ := toInt64(m[descriptor.KeyAttr])
		values := make(map[string]any, len(byColumn))
		for col, name := range byColumn {
			values[name] = normalizeValue(m[col])
		}
		rows = append(rows, dispatch.Row{Key: key, Values: values})
	}
	return rows, nil
}

// GroupBy emits one grouping statement over the view. Date-bucket hints are
// computed in the projection of this select, never in the view definition.
func (r *ViewRepo) GroupBy(ctx context.Context, d *descriptor.Descriptor, pred *predicate.Node,
	key dispatch.GroupKey, aggs []dispatch.AggSpec) ([]dispatch.Bucket, error) {

	ctx, span := tracer.Start(ctx, "view.group_by")
	span.SetAttributes(attribute.String("entity", d.Name()), attribute.String("key", key.Attr))
	defer span.End()

	attr, err := d.Attribute(key.Attr)
	if err != nil {
		return nil, err
	}
	keyExpr, err := groupKeyExpr(attr, key.Bucket)
	if err != nil {
		return nil, err
	}

	selects := []string{
		keyExpr + " AS group_key",
		"COUNT(*) AS row_count",
	}
	for _, a := range aggs {
		selects = append(selects, aggregateExpr(a)+" AS agg_"+a.Attr.Name)
	}

	q := r.builder.
		Select(selects...).
		From(d.Name())

	q, err = r.applyPredicate(q, d, pred)
	if err != nil {
		return nil, err
	}

	q = q.GroupBy(keyExpr).OrderBy(keyExpr + " ASC NULLS LAST")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build group_by: %w", err)
	}

	var raw []map[string]any
	err = r.registrar.withReadLock(d.Name(), func() error {
		return pgxscan.Select(ctx, r.db, &raw, sql, args...)
	})
	if err != nil {
		return nil, r.mapEngineError(ctx, d.Name(), err)
	}

	buckets := make([]dispatch.Bucket, 0, len(raw))
	for _, m := range raw {
		count, _ := toInt64(m["row_count"])
		b := dispatch.Bucket{
			GroupValues: map[string]any{attr.Name: normalizeValue(m["group_key"])},
			Count:       count,
			Aggregates:  make(map[string]any, len(aggs)),
		}
		for _, a := range aggs {
			b.Aggregates[a.Attr.Name] = normalizeValue(m["agg_"+a.Attr.Name])
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// Count returns the cardinality of the predicate's row set.
func (r *ViewRepo) Count(ctx context.Context, d *descriptor.Descriptor, pred *predicate.Node) (int64, error) {
	ctx, span := tracer.Start(ctx, "view.count")
	span.SetAttributes(attribute.String("entity", d.Name()))
	defer span.End()

	q := r.builder.
		Select("COUNT(*)").
		From(d.Name())

	q, err := r.applyPredicate(q, d, pred)
	if err != nil {
		return 0, err
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	err = r.registrar.withReadLock(d.Name(), func() error {
		return r.db.QueryRow(ctx, sql, args...).Scan(&n)
	})
	if err != nil {
		return 0, r.mapEngineError(ctx, d.Name(), err)
	}
	return n, nil
}

// applyPredicate attaches the rewritten predicate tree as a WHERE clause.
func (r *ViewRepo) applyPredicate(q squirrel.SelectBuilder, d *descriptor.Descriptor,
	pred *predicate.Node) (squirrel.SelectBuilder, error) {
	if pred.IsEmpty() {
		return q, nil
	}
	sqlizer, err := predicateToSqlizer(d, pred)
	if err != nil {
		return q, err
	}
	return q.Where(sqlizer), nil
}

// predicateToSqlizer translates a predicate tree into squirrel conditions.
func predicateToSqlizer(d *descriptor.Descriptor, n *predicate.Node) (squirrel.Sqlizer, error) {
	if n.IsLeaf() {
		return conditionToSqlizer(d, *n.Cond)
	}

	var parts []squirrel.Sqlizer
	for _, c := range n.Children {
		if c.IsEmpty() {
			continue
		}
		s, err := predicateToSqlizer(d, c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}

	switch n.Comb {
	case predicate.CombOr:
		or := make(squirrel.Or, len(parts))
		copy(or, parts)
		return or, nil
	case predicate.CombNot:
		if len(parts) != 1 {
			return nil, apperror.NewValidation("not takes exactly one child predicate")
		}
		return notSqlizer{parts[0]}, nil
	default:
		and := make(squirrel.And, len(parts))
		copy(and, parts)
		return and, nil
	}
}

func conditionToSqlizer(d *descriptor.Descriptor, c predicate.Condition) (squirrel.Sqlizer, error) {
	col, err := columnFor(d, c.Attr)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case predicate.Eq:
		return squirrel.Eq{col: c.Value}, nil
	case predicate.NotEq:
		return squirrel.NotEq{col: c.Value}, nil
	case predicate.Lt:
		return squirrel.Lt{col: c.Value}, nil
	case predicate.LtEq:
		return squirrel.LtOrEq{col: c.Value}, nil
	case predicate.Gt:
		return squirrel.Gt{col: c.Value}, nil
	case predicate.GtEq:
		return squirrel.GtOrEq{col: c.Value}, nil
	case predicate.In:
		return squirrel.Eq{col: c.Value}, nil
	case predicate.NotIn:
		return squirrel.NotEq{col: c.Value}, nil
	case predicate.Like:
		return squirrel.Like{col: fmt.Sprintf("%%%v%%", c.Value)}, nil
	case predicate.ILike:
		return squirrel.ILike{col: fmt.Sprintf("%%%v%%", c.Value)}, nil
	}
	return nil, apperror.NewValidation(fmt.Sprintf("unknown operator %q", c.Op))
}

// columnFor resolves a predicate attribute to its view column. The rewriter
// may already have substituted reference aliases, so bare column names of
// declared attributes are accepted too.
func columnFor(d *descriptor.Descriptor, name string) (string, error) {
	if d.Has(name) {
		a, _ := d.Attribute(name)
		return a.ColumnName(), nil
	}
	for _, a := range d.Attributes() {
		if a.ColumnName() == name {
			return name, nil
		}
	}
	return "", apperror.NewUnknownAttribute(d.Name(), name)
}

// notSqlizer negates an inner condition.
type notSqlizer struct {
	inner squirrel.Sqlizer
}

func (n notSqlizer) ToSql() (string, []any, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

// groupKeyExpr renders the grouping expression, applying the date bucket in
// the projection of the grouping select.
func groupKeyExpr(attr descriptor.Attribute, bucket dispatch.DateBucket) (string, error) {
	col := attr.ColumnName()
	if bucket == "" {
		return col, nil
	}
	switch bucket {
	case dispatch.BucketYear:
		return fmt.Sprintf("to_char(%s, 'YYYY')", col), nil
	case dispatch.BucketQuarter:
		return fmt.Sprintf(`to_char(%s, 'YYYY-"Q"Q')`, col), nil
	case dispatch.BucketMonth:
		return fmt.Sprintf("to_char(%s, 'YYYY-MM')", col), nil
	case dispatch.BucketWeek:
		return fmt.Sprintf("to_char(%s, 'IYYY-IW')", col), nil
	case dispatch.BucketDay:
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", col), nil
	}
	return "", apperror.NewValidation("unknown date bucket " + string(bucket))
}

// aggregateExpr renders one aggregate. Sum over an all-NULL group yields 0 of
// the attribute's numeric type; avg stays NULL.
func aggregateExpr(a dispatch.AggSpec) string {
	col := a.Attr.ColumnName()
	switch a.Aggregator {
	case descriptor.AggAvg:
		return fmt.Sprintf("AVG(%s)", col)
	case descriptor.AggCount:
		return fmt.Sprintf("COUNT(%s)", col)
	default:
		return fmt.Sprintf("COALESCE(SUM(%s), 0)", col)
	}
}

// mapEngineError classifies engine failures: an undefined-table error means
// the backing view is missing; anything else is surfaced verbatim with a
// request id for log correlation.
func (r *ViewRepo) mapEngineError(ctx context.Context, entity string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return apperror.NewSchemaMissing(entity).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperror.NewEngineFailure(appctx.GetRequestID(ctx), err).
		WithDetail("entity", entity)
}

// normalizeValue converts driver-level values to the runtime's value types.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid {
			return nil
		}
		dv, err := n.Value()
		if err != nil {
			return nil
		}
		if s, ok := dv.(string); ok {
			if d, err := decimal.NewFromString(s); err == nil {
				return d
			}
		}
		return dv
	case int32:
		return int64(n)
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
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

// Ensure interface compliance
var _ dispatch.Repository = (*ViewRepo)(nil)
