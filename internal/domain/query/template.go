// Package query represents the SQL behind a backing view.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
)

// Column is one projected output column with its source expression.
type Column struct {
	// Name must match an entity attribute 1-to-1.
	Name string
	// Expr is the SQL expression producing the column, e.g. "min(l.id)".
	Expr string
	// Type is the semantic type the expression yields.
	Type descriptor.AttrType
}

// Template is the value type holding the query that defines a backing view.
// Two templates with equal rendered text are interchangeable.
type Template struct {
	// Projection lists the output columns. The first column is mandated to be
	// the synthetic integer key.
	Projection []Column

	// From is the joined-tables clause, without the FROM keyword.
	From string

	// Where holds analytical-level filtering, not caller filters. Optional.
	Where string

	// GroupBy lists grouping keys guaranteeing the projection is well-defined.
	GroupBy []string

	// Alias names the template for debugging only.
	Alias string
}

// Text renders the full SELECT statement.
func (t Template) Text() string {
	var b strings.Builder
	b.WriteString("SELECT\n")
	for i, c := range t.Projection {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("    ")
		b.WriteString(c.Expr)
		b.WriteString(" AS ")
		b.WriteString(c.Name)
	}
	b.WriteString("\nFROM ")
	b.WriteString(t.From)
	if t.Where != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(t.Where)
	}
	if len(t.GroupBy) > 0 {
		b.WriteString("\nGROUP BY ")
		b.WriteString(strings.Join(t.GroupBy, ", "))
	}
	return b.String()
}

// Equal compares templates by rendered text.
func (t Template) Equal(other Template) bool {
	return t.Text() == other.Text()
}

var aggregateExpr = regexp.MustCompile(`(?i)\b(sum|min|max|avg|count)\s*\(`)

var mutationToken = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate)\b`)

// Validate checks the template against the descriptor it is registered for.
// Performed at register time, before any view is materialised.
func (t Template) Validate(d *descriptor.Descriptor) error {
	if len(t.Projection) == 0 {
		return apperror.NewColumnMismatch(d.Name(), "projection is empty")
	}
	if t.Projection[0].Name != descriptor.KeyAttr {
		return apperror.NewColumnMismatch(d.Name(),
			fmt.Sprintf("first column must be %q, got %q", descriptor.KeyAttr, t.Projection[0].Name))
	}
	if t.Projection[0].Type != descriptor.TypeInteger {
		return apperror.NewColumnMismatch(d.Name(), "synthetic key column must be integer")
	}

	attrs := d.Attributes()
	if len(t.Projection) != len(attrs) {
		return apperror.NewColumnMismatch(d.Name(),
			fmt.Sprintf("projection has %d columns, descriptor declares %d attributes",
				len(t.Projection), len(attrs)))
	}

	for i, c := range t.Projection {
		attr := attrs[i]
		if c.Name != attr.ColumnName() {
			return apperror.NewColumnMismatch(d.Name(),
				fmt.Sprintf("column %d is %q, attribute declares column %q", i, c.Name, attr.ColumnName()))
		}
		if !typeCompatible(c.Type, attr.Type) {
			return apperror.NewColumnMismatch(d.Name(),
				fmt.Sprintf("column %q projects %s, attribute %q is %s", c.Name, c.Type, attr.Name, attr.Type))
		}
	}

	if len(t.GroupBy) > 0 {
		keys := make(map[string]bool, len(t.GroupBy))
		for _, k := range t.GroupBy {
			keys[strings.TrimSpace(k)] = true
		}
		for _, c := range t.Projection {
			if aggregateExpr.MatchString(c.Expr) {
				continue
			}
			if !keys[strings.TrimSpace(c.Expr)] && !keys[c.Name] {
				return apperror.NewColumnMismatch(d.Name(),
					fmt.Sprintf("non-aggregate column %q is not covered by a grouping key", c.Name))
			}
		}
	}

	if mutationToken.MatchString(t.From) || mutationToken.MatchString(t.Where) {
		return apperror.NewColumnMismatch(d.Name(), "template contains a mutation statement")
	}

	return nil
}

// typeCompatible permits the projected type to populate the attribute type.
// Temporal types are interchangeable; an integer expression may populate a
// decimal or monetary attribute.
func typeCompatible(col, attr descriptor.AttrType) bool {
	if col == attr {
		return true
	}
	temporal := func(t descriptor.AttrType) bool {
		return t == descriptor.TypeDate || t == descriptor.TypeDateTime || t == descriptor.TypeTimestamp
	}
	if temporal(col) && temporal(attr) {
		return true
	}
	if col == descriptor.TypeInteger &&
		(attr == descriptor.TypeDecimal || attr == descriptor.TypeMonetary) {
		return true
	}
	if col == descriptor.TypeDecimal && attr == descriptor.TypeMonetary {
		return true
	}
	// Enumerations and references are projected as their storage types.
	if col == descriptor.TypeText && attr == descriptor.TypeEnum {
		return true
	}
	if col == descriptor.TypeInteger && attr == descriptor.TypeReference {
		return true
	}
	return false
}
