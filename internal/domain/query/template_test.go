package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
)

func testDescriptor(t *testing.T) *descriptor.Descriptor {
	t.Helper()
	return descriptor.MustNew("leave_report", "Leaves",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "employee", Type: descriptor.TypeReference, Column: "employee_id", RefEntity: "employee"},
			{Name: "period_start", Type: descriptor.TypeDate},
			{Name: "number_of_days", Type: descriptor.TypeDecimal},
		}, "")
}

func testTemplate() Template {
	return Template{
		Projection: []Column{
			{Name: "id", Expr: "min(h.id)", Type: descriptor.TypeInteger},
			{Name: "employee_id", Expr: "h.employee_id", Type: descriptor.TypeInteger},
			{Name: "period_start", Expr: "h.date_from::date", Type: descriptor.TypeDate},
			{Name: "number_of_days", Expr: "h.number_of_days", Type: descriptor.TypeDecimal},
		},
		From:    "hr_leave h",
		GroupBy: []string{"h.employee_id", "h.date_from::date", "h.number_of_days"},
	}
}

func TestText(t *testing.T) {
	got := testTemplate().Text()
	want := "SELECT\n" +
		"    min(h.id) AS id,\n" +
		"    h.employee_id AS employee_id,\n" +
		"    h.date_from::date AS period_start,\n" +
		"    h.number_of_days AS number_of_days\n" +
		"FROM hr_leave h\n" +
		"GROUP BY h.employee_id, h.date_from::date, h.number_of_days"
	assert.Equal(t, want, got)
}

func TestEqual_ByRenderedText(t *testing.T) {
	a := testTemplate()
	b := testTemplate()
	b.Alias = "a different alias"
	assert.True(t, a.Equal(b), "alias must not affect equality")

	b.From = "hr_leave x"
	assert.False(t, a.Equal(b))
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, testTemplate().Validate(testDescriptor(t)))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{
			name:   "empty projection",
			mutate: func(tp *Template) { tp.Projection = nil },
		},
		{
			name: "first column not the key",
			mutate: func(tp *Template) {
				tp.Projection[0], tp.Projection[1] = tp.Projection[1], tp.Projection[0]
			},
		},
		{
			name:   "key column not integer",
			mutate: func(tp *Template) { tp.Projection[0].Type = descriptor.TypeText },
		},
		{
			name:   "column count mismatch",
			mutate: func(tp *Template) { tp.Projection = tp.Projection[:3] },
		},
		{
			name:   "column name does not match attribute",
			mutate: func(tp *Template) { tp.Projection[2].Name = "start" },
		},
		{
			name:   "incompatible column type",
			mutate: func(tp *Template) { tp.Projection[3].Type = descriptor.TypeBoolean },
		},
		{
			name: "non-aggregate column uncovered by grouping key",
			mutate: func(tp *Template) {
				tp.GroupBy = []string{"h.employee_id", "h.date_from::date"}
			},
		},
		{
			name:   "mutation token in from",
			mutate: func(tp *Template) { tp.From = "hr_leave h; DROP TABLE hr_leave" },
		},
		{
			name:   "mutation token in where",
			mutate: func(tp *Template) { tp.Where = "1=1; DELETE FROM hr_leave" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := testTemplate()
			tt.mutate(&tmpl)
			err := tmpl.Validate(testDescriptor(t))
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, apperror.CodeColumnMismatch), err)
		})
	}
}

func TestValidate_TypeCompatibility(t *testing.T) {
	d := descriptor.MustNew("r", "",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "amount", Type: descriptor.TypeMonetary, Currency: "EUR"},
			{Name: "when", Type: descriptor.TypeTimestamp},
			{Name: "state", Type: descriptor.TypeEnum, Options: []descriptor.EnumOption{{Code: "a"}}},
		}, "")

	tmpl := Template{
		Projection: []Column{
			{Name: "id", Expr: "min(t.id)", Type: descriptor.TypeInteger},
			// integer feeding a monetary attribute is allowed
			{Name: "amount", Expr: "t.cents", Type: descriptor.TypeInteger},
			// date feeding a timestamp attribute is allowed
			{Name: "when", Expr: "t.day", Type: descriptor.TypeDate},
			// enums are projected as text
			{Name: "state", Expr: "t.state", Type: descriptor.TypeText},
		},
		From:    "t",
		GroupBy: []string{"t.cents", "t.day", "t.state"},
	}
	require.NoError(t, tmpl.Validate(d))
}
