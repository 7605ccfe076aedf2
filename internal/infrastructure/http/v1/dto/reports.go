// Package dto holds request and response shapes of the HTTP API.
package dto

import (
	"encoding/json"
	"fmt"

	"analytica/internal/domain/dispatch"
	"analytica/internal/domain/predicate"
)

// SearchRequest selects row keys matched by a predicate.
type SearchRequest struct {
	Predicate json.RawMessage  `json:"predicate,omitempty"`
	Order     []dispatch.Order `json:"order,omitempty"`
	Offset    int              `json:"offset,omitempty"`
	Limit     int              `json:"limit,omitempty"`
}

// SearchResponse returns the matched keys in order.
type SearchResponse struct {
	Keys  []int64 `json:"keys"`
	Count int     `json:"count"`
}

// ReadRequest fetches attribute values for known keys.
type ReadRequest struct {
	Keys  []int64  `json:"keys"`
	Attrs []string `json:"attrs,omitempty"`
}

// ReadResponse returns one row per found key, in request order.
type ReadResponse struct {
	Rows []dispatch.Row `json:"rows"`
}

// GroupRequest aggregates matched rows by one or more group keys.
type GroupRequest struct {
	Predicate json.RawMessage     `json:"predicate,omitempty"`
	GroupBy   []dispatch.GroupKey `json:"group_by"`
	Aggregate []string            `json:"aggregate,omitempty"`
}

// GroupResponse returns one bucket per distinct first-key value.
type GroupResponse struct {
	Buckets []dispatch.Bucket `json:"buckets"`
}

// CountRequest counts rows matched by a predicate.
type CountRequest struct {
	Predicate json.RawMessage `json:"predicate,omitempty"`
}

// CountResponse returns the matched row count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// EntityInfo describes one registered analytical entity.
type EntityInfo struct {
	Name         string          `json:"name"`
	ReadOnly     bool            `json:"read_only"`
	DefaultOrder string          `json:"default_order"`
	Attributes   []AttributeInfo `json:"attributes"`
}

// AttributeInfo describes one declared attribute.
type AttributeInfo struct {
	Name       string       `json:"name"`
	Label      string       `json:"label,omitempty"`
	Type       string       `json:"type"`
	RefEntity  string       `json:"ref_entity,omitempty"`
	Options    []EnumOption `json:"options,omitempty"`
	Aggregator string       `json:"aggregator,omitempty"`
}

// EnumOption is one declared enum code with its display label.
type EnumOption struct {
	Code  string `json:"code"`
	Label string `json:"label,omitempty"`
}

// ParsePredicate decodes the wire form of a predicate: an empty or absent
// list matches everything, a three-element list [attr, op, value] is a
// comparison, a list whose head is "and", "or" or "not" combines its tail,
// and a plain list of sub-lists is an implicit conjunction.
func ParsePredicate(raw json.RawMessage) (*predicate.Node, error) {
	if len(raw) == 0 {
		return predicate.And(), nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("predicate is not valid JSON: %w", err)
	}
	if v == nil {
		return predicate.And(), nil
	}
	return parseNode(v)
}

func parseNode(v any) (*predicate.Node, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("predicate element must be a list, got %T", v)
	}
	if len(list) == 0 {
		return predicate.And(), nil
	}

	if head, ok := list[0].(string); ok {
		switch head {
		case string(predicate.CombAnd), string(predicate.CombOr):
			children, err := parseChildren(list[1:])
			if err != nil {
				return nil, err
			}
			if head == string(predicate.CombAnd) {
				return predicate.And(children...), nil
			}
			return predicate.Or(children...), nil
		case string(predicate.CombNot):
			if len(list) != 2 {
				return nil, fmt.Errorf("not takes exactly one operand, got %d", len(list)-1)
			}
			child, err := parseNode(list[1])
			if err != nil {
				return nil, err
			}
			return predicate.Not(child), nil
		default:
			// A triple: [attr, op, value].
			if len(list) != 3 {
				return nil, fmt.Errorf("condition must be [attr, op, value], got %d elements", len(list))
			}
			op, ok := list[1].(string)
			if !ok {
				return nil, fmt.Errorf("condition operator must be a string, got %T", list[1])
			}
			return predicate.Cmp(head, predicate.Op(op), list[2]), nil
		}
	}

	// A bare list of sub-predicates combines with an implicit "and".
	children, err := parseChildren(list)
	if err != nil {
		return nil, err
	}
	return predicate.And(children...), nil
}

func parseChildren(items []any) ([]*predicate.Node, error) {
	children := make([]*predicate.Node, 0, len(items))
	for _, item := range items {
		child, err := parseNode(item)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
