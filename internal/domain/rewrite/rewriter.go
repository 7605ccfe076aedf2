// Package rewrite pre-processes predicate trees before they are translated
// to SQL: sentinel expansion, type coercion and reference alias resolution.
//
// Every rewrite is a pure function of the predicate tree; the rewriter holds
// no per-request state.
package rewrite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"analytica/internal/core/apperror"
	"analytica/internal/core/types"
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/predicate"
)

// PeriodService resolves symbolic period sentinels (e.g. "current_year") to
// concrete period keys. The calendar implementation is a host collaborator.
type PeriodService interface {
	Expand(ctx context.Context, sentinel string) ([]any, error)
}

// Expander produces the concrete value list for one sentinel.
type Expander func(ctx context.Context) ([]any, error)

type sentinelKey struct {
	entity   string
	attr     string
	sentinel string
}

// Rewriter expands sentinels and coerces predicate values to the attribute's
// semantic type. Sentinel rules are registered at module load, before any
// dispatch; afterwards the registry is read-only.
type Rewriter struct {
	sentinels map[sentinelKey]Expander
}

// New creates an empty Rewriter.
func New() *Rewriter {
	return &Rewriter{sentinels: make(map[sentinelKey]Expander)}
}

// RegisterSentinel attaches an expander to (entity, attribute, sentinel).
// Replaces the source pattern of overriding search per model with a
// registered rewrite rule.
func (r *Rewriter) RegisterSentinel(entity, attr, sentinel string, exp Expander) {
	r.sentinels[sentinelKey{entity, attr, sentinel}] = exp
}

// RegisterPeriodSentinel wires a PeriodService as the expander for a sentinel.
func (r *Rewriter) RegisterPeriodSentinel(entity, attr, sentinel string, svc PeriodService) {
	r.RegisterSentinel(entity, attr, sentinel, func(ctx context.Context) ([]any, error) {
		return svc.Expand(ctx, sentinel)
	})
}

// Rewrite performs a single pass over the predicate tree. An empty predicate
// passes through unchanged and matches all rows.
func (r *Rewriter) Rewrite(ctx context.Context, d *descriptor.Descriptor, n *predicate.Node) (*predicate.Node, error) {
	if n.IsEmpty() {
		return n, nil
	}

	return n.Map(func(c predicate.Condition) (*predicate.Node, error) {
		if !c.Op.Valid() {
			return nil, apperror.NewValidation(fmt.Sprintf("unknown operator %q", c.Op))
		}
		attr, err := d.Attribute(c.Attr)
		if err != nil {
			return nil, err
		}

		// Sentinel expansion replaces the symbolic triple with a concrete
		// "in" triple over the expanded key list.
		if s, ok := c.Value.(string); ok && (c.Op == predicate.In || c.Op == predicate.Eq) {
			if exp, found := r.sentinels[sentinelKey{d.Name(), c.Attr, s}]; found {
				keys, err := exp(ctx)
				if err != nil {
					return nil, fmt.Errorf("expand sentinel %q on %s.%s: %w", s, d.Name(), c.Attr, err)
				}
				c = predicate.Condition{Attr: c.Attr, Op: predicate.In, Value: keys}
			}
		}

		coerced, err := coerceValue(attr, c.Op, c.Value)
		if err != nil {
			return nil, err
		}

		// Reference attributes addressed by logical name resolve to the
		// underlying join column.
		name := c.Attr
		if attr.Type == descriptor.TypeReference {
			name = attr.ColumnName()
		}

		return predicate.Cmp(name, c.Op, coerced), nil
	})
}

// coerceValue converts the caller-supplied value to the attribute's semantic
// type. List operators coerce element-wise.
func coerceValue(attr descriptor.Attribute, op predicate.Op, value any) (any, error) {
	if op == predicate.In || op == predicate.NotIn {
		list, ok := asList(value)
		if !ok {
			return nil, apperror.NewTypeConflict(attr.Name, value,
				fmt.Sprintf("operator %q requires a list", op))
		}
		out := make([]any, len(list))
		for i, v := range list {
			c, err := coerceScalar(attr, v)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return coerceScalar(attr, value)
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func coerceScalar(attr descriptor.Attribute, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch attr.Type {
	case descriptor.TypeInteger, descriptor.TypeReference:
		return coerceInteger(attr, value)

	case descriptor.TypeDecimal:
		return coerceDecimal(attr, value)

	case descriptor.TypeMonetary:
		if m, ok := value.(types.Monetary); ok {
			if !m.SameCurrency(attr.Currency) {
				return nil, apperror.NewTypeConflict(attr.Name, value,
					fmt.Sprintf("currency %q does not match attribute currency %q; the backing view carries no conversion logic",
						m.Currency, attr.Currency))
			}
			return m.Amount, nil
		}
		return coerceDecimal(attr, value)

	case descriptor.TypeDate, descriptor.TypeDateTime, descriptor.TypeTimestamp:
		return coerceTime(attr, value)

	case descriptor.TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, apperror.NewTypeConflict(attr.Name, value, "not a boolean")
			}
			return b, nil
		}
		return nil, apperror.NewTypeConflict(attr.Name, value, "not a boolean")

	case descriptor.TypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, apperror.NewTypeConflict(attr.Name, value, "enumeration code must be a string")
		}
		for _, opt := range attr.Options {
			if opt.Code == s {
				return s, nil
			}
		}
		return nil, apperror.NewTypeConflict(attr.Name, value,
			fmt.Sprintf("%q is not a declared enumeration code", s))

	case descriptor.TypeText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	}

	return value, nil
}

func coerceInteger(attr descriptor.Attribute, value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, apperror.NewTypeConflict(attr.Name, value, "not a whole number")
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, apperror.NewTypeConflict(attr.Name, value, "not an integer")
		}
		return n, nil
	}
	return nil, apperror.NewTypeConflict(attr.Name, value, "not an integer")
}

func coerceDecimal(attr descriptor.Attribute, value any) (any, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, apperror.NewTypeConflict(attr.Name, value, "not a decimal")
		}
		return d, nil
	}
	return nil, apperror.NewTypeConflict(attr.Name, value, "not a decimal")
}

// dateLayouts are the textual date representations accepted from callers.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

func coerceTime(attr descriptor.Attribute, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, apperror.NewTypeConflict(attr.Name, value, "not a date")
	}
	return nil, apperror.NewTypeConflict(attr.Name, value, "not a date")
}
