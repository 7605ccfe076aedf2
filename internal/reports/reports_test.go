package reports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytica/internal/domain/predicate"
	"analytica/internal/domain/rewrite"
	"analytica/internal/infrastructure/storage/postgres"
)

type recordingExecer struct {
	mu    sync.Mutex
	stmts []string
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, sql)
	return pgconn.CommandTag{}, nil
}

func TestRegister_AllBuiltins(t *testing.T) {
	registrar := postgres.NewRegistrar(&recordingExecer{}, ReservedTables)
	rewriter := rewrite.New()

	require.NoError(t, Register(registrar, rewriter, NewCalendarService()))

	names := make([]string, 0, 3)
	for _, d := range registrar.Descriptors() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"asset_report", "membership_report", "leave_report"}, names)

	// Registration is idempotent over identical templates.
	require.NoError(t, Register(registrar, rewriter, NewCalendarService()))
	assert.Len(t, registrar.Descriptors(), 3)
}

func TestRegister_MaterialisesCleanly(t *testing.T) {
	db := &recordingExecer{}
	registrar := postgres.NewRegistrar(db, ReservedTables)

	require.NoError(t, Register(registrar, rewrite.New(), NewCalendarService()))
	require.NoError(t, registrar.MaterialiseAll(context.Background()))

	// One DROP plus one CREATE per entity.
	assert.Len(t, db.stmts, 6)
	assert.Contains(t, db.stmts[1], "CREATE VIEW asset_report")
	assert.Contains(t, db.stmts[1], "account_asset a JOIN asset_depreciation_line l")
}

func TestRegister_CurrentYearSentinel(t *testing.T) {
	registrar := postgres.NewRegistrar(&recordingExecer{}, ReservedTables)
	rewriter := rewrite.New()

	calendar := NewCalendarService()
	calendar.Now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, Register(registrar, rewriter, calendar))

	d, err := registrar.Descriptor("membership_report")
	require.NoError(t, err)

	out, err := rewriter.Rewrite(context.Background(), d,
		predicate.Cmp("year", predicate.Eq, "current_year"))
	require.NoError(t, err)
	assert.Equal(t, predicate.In, out.Cond.Op)
	assert.Equal(t, []any{"2026"}, out.Cond.Value)
}

func TestCalendarService_Expand(t *testing.T) {
	c := NewCalendarService()
	c.Now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	tests := []struct {
		sentinel string
		want     []any
	}{
		{"current_year", []any{"2026"}},
		{"previous_year", []any{"2025"}},
		{"current_month", []any{"2026-08"}},
	}
	for _, tt := range tests {
		got, err := c.Expand(context.Background(), tt.sentinel)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := c.Expand(context.Background(), "fiscal_epoch")
	assert.Error(t, err)
}

func TestNameSources_CoverReferencedEntities(t *testing.T) {
	sources := NameSources()
	registrar := postgres.NewRegistrar(&recordingExecer{}, ReservedTables)
	require.NoError(t, Register(registrar, rewrite.New(), NewCalendarService()))

	for _, d := range registrar.Descriptors() {
		for _, a := range d.Attributes() {
			if a.RefEntity == "" {
				continue
			}
			_, ok := sources[a.RefEntity]
			assert.True(t, ok, "no display-name source for %s.%s → %s", d.Name(), a.Name, a.RefEntity)
		}
	}
}
