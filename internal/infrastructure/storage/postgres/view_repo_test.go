package postgres

import (
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/dispatch"
	"analytica/internal/domain/predicate"
)

func viewDescriptor() *descriptor.Descriptor {
	return descriptor.MustNew("membership_report", "",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "partner", Type: descriptor.TypeReference, Column: "partner_id", RefEntity: "partner"},
			{Name: "state", Type: descriptor.TypeEnum, Options: []descriptor.EnumOption{{Code: "paid"}}},
			{Name: "year", Type: descriptor.TypeText},
			{Name: "joined", Type: descriptor.TypeDate},
			{Name: "amount", Type: descriptor.TypeDecimal},
		}, "")
}

func TestConditionToSqlizer_Operators(t *testing.T) {
	d := viewDescriptor()

	tests := []struct {
		name     string
		cond     predicate.Condition
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "eq",
			cond:     predicate.Condition{Attr: "year", Op: predicate.Eq, Value: "2026"},
			wantSQL:  "year = ?",
			wantArgs: []any{"2026"},
		},
		{
			name:     "not eq",
			cond:     predicate.Condition{Attr: "year", Op: predicate.NotEq, Value: "2026"},
			wantSQL:  "year <> ?",
			wantArgs: []any{"2026"},
		},
		{
			name:     "greater",
			cond:     predicate.Condition{Attr: "amount", Op: predicate.Gt, Value: 100},
			wantSQL:  "amount > ?",
			wantArgs: []any{100},
		},
		{
			name:     "at most",
			cond:     predicate.Condition{Attr: "amount", Op: predicate.LtEq, Value: 100},
			wantSQL:  "amount <= ?",
			wantArgs: []any{100},
		},
		{
			name:     "in list",
			cond:     predicate.Condition{Attr: "year", Op: predicate.In, Value: []any{"2025", "2026"}},
			wantSQL:  "year IN (?,?)",
			wantArgs: []any{"2025", "2026"},
		},
		{
			name:     "not in list",
			cond:     predicate.Condition{Attr: "year", Op: predicate.NotIn, Value: []any{"2024"}},
			wantSQL:  "year NOT IN (?)",
			wantArgs: []any{"2024"},
		},
		{
			name:     "ilike wraps value",
			cond:     predicate.Condition{Attr: "year", Op: predicate.ILike, Value: "202"},
			wantSQL:  "year ILIKE ?",
			wantArgs: []any{"%202%"},
		},
		{
			name:     "reference by logical name",
			cond:     predicate.Condition{Attr: "partner", Op: predicate.Eq, Value: int64(7)},
			wantSQL:  "partner_id = ?",
			wantArgs: []any{int64(7)},
		},
		{
			name:     "reference by substituted column",
			cond:     predicate.Condition{Attr: "partner_id", Op: predicate.Eq, Value: int64(7)},
			wantSQL:  "partner_id = ?",
			wantArgs: []any{int64(7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := conditionToSqlizer(d, tt.cond)
			require.NoError(t, err)

			sql, args, err := s.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestConditionToSqlizer_UnknownAttribute(t *testing.T) {
	_, err := conditionToSqlizer(viewDescriptor(),
		predicate.Condition{Attr: "ghost", Op: predicate.Eq, Value: 1})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownAttribute))
}

func TestPredicateToSqlizer_Combinators(t *testing.T) {
	d := viewDescriptor()

	n := predicate.Or(
		predicate.Cmp("state", predicate.Eq, "paid"),
		predicate.Not(predicate.Cmp("amount", predicate.Lt, 10)),
	)

	s, err := predicateToSqlizer(d, n)
	require.NoError(t, err)

	sql, args, err := s.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(state = ? OR NOT (amount < ?))", sql)
	assert.Equal(t, []any{"paid", 10}, args)
}

func TestPredicateToSqlizer_EmptyChildrenSkipped(t *testing.T) {
	d := viewDescriptor()

	n := predicate.And(
		predicate.And(), // matches all, contributes nothing
		predicate.Cmp("year", predicate.Eq, "2026"),
	)

	s, err := predicateToSqlizer(d, n)
	require.NoError(t, err)

	sql, _, err := s.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(year = ?)", sql)
}

func TestSearchSQLShape(t *testing.T) {
	d := viewDescriptor()
	builder := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	pred, err := predicateToSqlizer(d, predicate.Cmp("year", predicate.Eq, "2026"))
	require.NoError(t, err)

	sql, args, err := builder.
		Select("id").
		From(d.Name()).
		Where(pred).
		OrderBy("year ASC", "id ASC").
		Offset(20).
		Limit(10).
		ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id FROM membership_report WHERE year = $1 ORDER BY year ASC, id ASC LIMIT 10 OFFSET 20",
		sql)
	assert.Equal(t, []any{"2026"}, args)
}

func TestGroupKeyExpr_Buckets(t *testing.T) {
	joined := descriptor.Attribute{Name: "joined", Type: descriptor.TypeDate}

	tests := []struct {
		bucket dispatch.DateBucket
		want   string
	}{
		{"", "joined"},
		{dispatch.BucketYear, "to_char(joined, 'YYYY')"},
		{dispatch.BucketQuarter, `to_char(joined, 'YYYY-"Q"Q')`},
		{dispatch.BucketMonth, "to_char(joined, 'YYYY-MM')"},
		{dispatch.BucketWeek, "to_char(joined, 'IYYY-IW')"},
		{dispatch.BucketDay, "to_char(joined, 'YYYY-MM-DD')"},
	}

	for _, tt := range tests {
		got, err := groupKeyExpr(joined, tt.bucket)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := groupKeyExpr(joined, "decade")
	require.Error(t, err)
}

func TestAggregateExpr(t *testing.T) {
	amount := descriptor.Attribute{Name: "amount", Type: descriptor.TypeDecimal}

	assert.Equal(t, "COALESCE(SUM(amount), 0)",
		aggregateExpr(dispatch.AggSpec{Attr: amount, Aggregator: descriptor.AggSum}))
	assert.Equal(t, "AVG(amount)",
		aggregateExpr(dispatch.AggSpec{Attr: amount, Aggregator: descriptor.AggAvg}))
	assert.Equal(t, "COUNT(amount)",
		aggregateExpr(dispatch.AggSpec{Attr: amount, Aggregator: descriptor.AggCount}))
}

func TestGroupBySQLShape(t *testing.T) {
	d := viewDescriptor()
	builder := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	keyExpr, err := groupKeyExpr(descriptor.Attribute{Name: "joined", Type: descriptor.TypeDate},
		dispatch.BucketMonth)
	require.NoError(t, err)

	agg := aggregateExpr(dispatch.AggSpec{
		Attr:       descriptor.Attribute{Name: "amount", Type: descriptor.TypeDecimal},
		Aggregator: descriptor.AggSum,
	})

	sql, _, err := builder.
		Select(keyExpr+" AS group_key", "COUNT(*) AS row_count", agg+" AS agg_amount").
		From(d.Name()).
		GroupBy(keyExpr).
		OrderBy(keyExpr + " ASC NULLS LAST").
		ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT to_char(joined, 'YYYY-MM') AS group_key, COUNT(*) AS row_count, "+
			"COALESCE(SUM(amount), 0) AS agg_amount "+
			"FROM membership_report "+
			"GROUP BY to_char(joined, 'YYYY-MM') "+
			"ORDER BY to_char(joined, 'YYYY-MM') ASC NULLS LAST",
		sql)
}
