package query

// Spec 运行时组合的查询条件
type Spec struct {
	node Node
}

func Where(n Node) Spec {
	return Spec{node: n}
}

func (s Spec) And(o Spec) Spec {
	return Spec{node: AllOf(s.node, o.node)}
}

func (s Spec) Or(o Spec) Spec {
	return Spec{node: AnyOf(s.node, o.node)}
}

// Node 没有任何条件时返回 nil
func (s Spec) Node() Node {
	return s.node
}

// AllOf 忽略 nil，只有一个节点时直接返回该节点
func AllOf(nodes ...Node) Node {
	nodes = compact(nodes)
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	}
	return &And{Nodes: nodes}
}

// AnyOf 忽略 nil，只有一个节点时直接返回该节点
func AnyOf(nodes ...Node) Node {
	nodes = compact(nodes)
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	}
	return &Or{Nodes: nodes}
}

func compact(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func compare(field string, op Operator, values ...any) *Comparison {
	refs := make([]Ref, len(values))
	for i, v := range values {
		refs[i] = Value(v)
	}
	return &Comparison{Field: field, Operator: op, Values: refs}
}

func Eq(field string, v any) Node  { return compare(field, OpEq, v) }
func Ne(field string, v any) Node  { return compare(field, OpNe, v) }
func Gt(field string, v any) Node  { return compare(field, OpGt, v) }
func Gte(field string, v any) Node { return compare(field, OpGte, v) }
func Lt(field string, v any) Node  { return compare(field, OpLt, v) }
func Lte(field string, v any) Node { return compare(field, OpLte, v) }
func IsNull(field string) Node     { return compare(field, OpIsNull) }
func IsNotNull(field string) Node  { return compare(field, OpIsNotNull) }

func Like(field string, pattern string) Node {
	return compare(field, OpLike, pattern)
}

func Between(field string, lo, hi any) Node {
	return compare(field, OpBetween, lo, hi)
}

// InValues values 必须是 slice 或 array
func InValues(field string, values any) Node {
	if items, ok := Collection(values); ok {
		return &In{Field: field, Values: Value(items)}
	}
	return &In{Field: field, Values: Value(values)}
}
