// Package descriptor declares the logical shape of analytical entities.
//
// An analytical entity is a virtual model backed by a database view. Its
// descriptor is registered once at module load, lives for the process lifetime
// and is read-only afterwards.
package descriptor

import (
	"fmt"

	"analytica/internal/core/apperror"
)

// AttrType defines the semantic type of an attribute.
type AttrType string

const (
	TypeInteger   AttrType = "integer"
	TypeDecimal   AttrType = "decimal"
	TypeMonetary  AttrType = "monetary"
	TypeDate      AttrType = "date"
	TypeDateTime  AttrType = "datetime"
	TypeTimestamp AttrType = "timestamp" // aggregated into text year/month buckets
	TypeText      AttrType = "text"
	TypeBoolean   AttrType = "boolean"
	TypeReference AttrType = "reference"
	TypeEnum      AttrType = "enum"
)

// Aggregator defines how an attribute is rolled up by group-by.
type Aggregator string

const (
	AggSum   Aggregator = "sum"
	AggAvg   Aggregator = "avg"
	AggCount Aggregator = "count"
	AggNone  Aggregator = ""
)

// EnumOption is one code of a closed enumeration with its display label.
type EnumOption struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Attribute describes one column of the analytical entity.
type Attribute struct {
	Name  string   `json:"name"`
	Label string   `json:"label,omitempty"`
	Type  AttrType `json:"type"`

	// Column overrides the backing view column when it differs from Name.
	// Used for reference attributes addressed by logical name.
	Column string `json:"-"`

	// RefEntity names the referenced entity for TypeReference. Advisory only,
	// no foreign key is enforced.
	RefEntity string `json:"referenceEntity,omitempty"`

	// CurrencyAttr names the sibling attribute carrying the currency code
	// for TypeMonetary.
	CurrencyAttr string `json:"currencyAttr,omitempty"`

	// Currency pins the attribute to a fixed currency code. Advisory; used to
	// reject cross-currency predicate comparisons.
	Currency string `json:"currency,omitempty"`

	// Scale is the precision hint for TypeDecimal.
	Scale int `json:"scale,omitempty"`

	// Size bounds TypeText, zero means unbounded.
	Size int `json:"size,omitempty"`

	Options []EnumOption `json:"options,omitempty"`

	// ReadOnly is always true for analytical entities.
	ReadOnly bool `json:"readOnly"`

	// Aggregator overrides the per-type default group aggregator.
	Aggregator Aggregator `json:"aggregator,omitempty"`
}

// ColumnName returns the backing view column for this attribute.
func (a Attribute) ColumnName() string {
	if a.Column != "" {
		return a.Column
	}
	return a.Name
}

// GroupAggregator resolves the effective aggregator: the explicit declaration
// when present, otherwise the per-type default (numeric types sum, everything
// else is not aggregated).
func (a Attribute) GroupAggregator() Aggregator {
	if a.Aggregator != AggNone {
		return a.Aggregator
	}
	switch a.Type {
	case TypeInteger, TypeDecimal, TypeMonetary:
		return AggSum
	default:
		return AggNone
	}
}

// IsNumeric reports whether the attribute can be summed or averaged.
func (a Attribute) IsNumeric() bool {
	switch a.Type {
	case TypeInteger, TypeDecimal, TypeMonetary:
		return true
	}
	return false
}

// IsTemporal reports whether the attribute supports date-bucket grouping.
func (a Attribute) IsTemporal() bool {
	switch a.Type {
	case TypeDate, TypeDateTime, TypeTimestamp:
		return true
	}
	return false
}

// KeyAttr is the mandatory synthetic primary key of every analytical entity.
// Its value is distinct per result row within a single materialisation only.
const KeyAttr = "id"

// Descriptor declares an analytical entity: its logical name, attributes in
// declaration order and default order key. Analytical entities are never
// writable.
type Descriptor struct {
	name         string
	label        string
	attrs        []Attribute
	index        map[string]int
	defaultOrder string
}

// New builds a Descriptor and validates its declaration.
func New(name, label string, attrs []Attribute, defaultOrder string) (*Descriptor, error) {
	if name == "" {
		return nil, apperror.NewValidation("entity name must not be empty")
	}
	if len(attrs) == 0 {
		return nil, apperror.NewValidation(fmt.Sprintf("entity %q declares no attributes", name))
	}
	if attrs[0].Name != KeyAttr || attrs[0].Type != TypeInteger {
		return nil, apperror.NewValidation(
			fmt.Sprintf("entity %q must declare integer attribute %q first", name, KeyAttr))
	}

	index := make(map[string]int, len(attrs))
	for i, a := range attrs {
		if a.Name == "" {
			return nil, apperror.NewValidation(fmt.Sprintf("entity %q declares an unnamed attribute", name))
		}
		if _, dup := index[a.Name]; dup {
			return nil, apperror.NewValidation(
				fmt.Sprintf("entity %q declares attribute %q twice", name, a.Name))
		}
		switch a.Type {
		case TypeEnum:
			if len(a.Options) == 0 {
				return nil, apperror.NewValidation(
					fmt.Sprintf("enum attribute %q of %q has no options", a.Name, name))
			}
		case TypeReference:
			if a.RefEntity == "" {
				return nil, apperror.NewValidation(
					fmt.Sprintf("reference attribute %q of %q names no target entity", a.Name, name))
			}
		}
		attrs[i].ReadOnly = true
		index[a.Name] = i
	}

	for _, a := range attrs {
		if a.Type == TypeMonetary && a.CurrencyAttr != "" {
			if _, ok := index[a.CurrencyAttr]; !ok {
				return nil, apperror.NewValidation(
					fmt.Sprintf("monetary attribute %q of %q references undeclared currency attribute %q",
						a.Name, name, a.CurrencyAttr))
			}
		}
	}

	if defaultOrder == "" {
		defaultOrder = KeyAttr
	}
	if _, ok := index[defaultOrder]; !ok {
		return nil, apperror.NewValidation(
			fmt.Sprintf("entity %q orders by undeclared attribute %q", name, defaultOrder))
	}

	return &Descriptor{
		name:         name,
		label:        label,
		attrs:        attrs,
		index:        index,
		defaultOrder: defaultOrder,
	}, nil
}

// MustNew builds a Descriptor, panicking on a declaration error.
// Use only for static registrations and tests.
func MustNew(name, label string, attrs []Attribute, defaultOrder string) *Descriptor {
	d, err := New(name, label, attrs, defaultOrder)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the unique logical name of the entity. The backing view shares
// this name.
func (d *Descriptor) Name() string { return d.name }

// Label returns the display label of the entity.
func (d *Descriptor) Label() string { return d.label }

// Attribute returns the semantic descriptor of the named attribute.
func (d *Descriptor) Attribute(name string) (Attribute, error) {
	i, ok := d.index[name]
	if !ok {
		return Attribute{}, apperror.NewUnknownAttribute(d.name, name)
	}
	return d.attrs[i], nil
}

// Has reports whether the attribute is declared.
func (d *Descriptor) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Attributes returns all attributes in declaration order.
func (d *Descriptor) Attributes() []Attribute {
	out := make([]Attribute, len(d.attrs))
	copy(out, d.attrs)
	return out
}

// DefaultOrder returns the attribute the entity sorts by when the caller
// supplies none. Ties are broken by the synthetic key ascending.
func (d *Descriptor) DefaultOrder() string { return d.defaultOrder }

// IsReadOnly always reports true: backing views are never mutation targets.
func (d *Descriptor) IsReadOnly() bool { return true }
