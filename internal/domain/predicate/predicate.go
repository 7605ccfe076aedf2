// Package predicate defines the filter expressions callers submit to the
// query dispatcher: comparison triples combined with and/or/not.
package predicate

// Op defines the comparison operators accepted in a triple.
type Op string

const (
	Eq     Op = "="
	NotEq  Op = "!="
	Lt     Op = "<"
	LtEq   Op = "<="
	Gt     Op = ">"
	GtEq   Op = ">="
	In     Op = "in"
	NotIn  Op = "not in"
	Like   Op = "like"
	ILike  Op = "ilike"
)

// Valid reports whether op is a recognised comparison operator.
func (o Op) Valid() bool {
	switch o {
	case Eq, NotEq, Lt, LtEq, Gt, GtEq, In, NotIn, Like, ILike:
		return true
	}
	return false
}

// Combinator joins child predicates.
type Combinator string

const (
	CombAnd Combinator = "and"
	CombOr  Combinator = "or"
	CombNot Combinator = "not"
)

// Condition is one comparison triple (attribute, operator, value).
type Condition struct {
	Attr  string `json:"attr"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Node is one node of a predicate tree: either a leaf condition or a
// combinator over children. The zero-value And node with no children matches
// all rows.
type Node struct {
	Comb     Combinator `json:"comb,omitempty"`
	Cond     *Condition `json:"cond,omitempty"`
	Children []*Node    `json:"children,omitempty"`
}

// Cmp builds a leaf comparison node.
func Cmp(attr string, op Op, value any) *Node {
	return &Node{Cond: &Condition{Attr: attr, Op: op, Value: value}}
}

// And combines children conjunctively. And() matches all rows.
func And(children ...*Node) *Node {
	return &Node{Comb: CombAnd, Children: children}
}

// Or combines children disjunctively.
func Or(children ...*Node) *Node {
	return &Node{Comb: CombOr, Children: children}
}

// Not negates a child.
func Not(child *Node) *Node {
	return &Node{Comb: CombNot, Children: []*Node{child}}
}

// IsLeaf reports whether the node is a comparison triple.
func (n *Node) IsLeaf() bool {
	return n != nil && n.Cond != nil
}

// IsEmpty reports whether the predicate matches all rows.
func (n *Node) IsEmpty() bool {
	if n == nil {
		return true
	}
	if n.IsLeaf() {
		return false
	}
	for _, c := range n.Children {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// Map rebuilds the tree bottom-up, replacing each leaf with fn's result.
// Returning nil from fn removes the leaf. Map never mutates the input: the
// rewriter relies on rewrites being pure functions of the predicate tree.
func (n *Node) Map(fn func(c Condition) (*Node, error)) (*Node, error) {
	if n == nil {
		return nil, nil
	}
	if n.IsLeaf() {
		return fn(*n.Cond)
	}
	out := &Node{Comb: n.Comb}
	for _, c := range n.Children {
		mapped, err := c.Map(fn)
		if err != nil {
			return nil, err
		}
		if mapped != nil {
			out.Children = append(out.Children, mapped)
		}
	}
	return out, nil
}

// Walk visits every leaf condition. Traversal stops on the first error.
func (n *Node) Walk(fn func(c Condition) error) error {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return fn(*n.Cond)
	}
	for _, c := range n.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}
