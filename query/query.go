package query

// NodeType 谓词节点类型
type NodeType string

const (
	NodeTypeComparison NodeType = "comparison"
	NodeTypeAnd        NodeType = "and"
	NodeTypeOr         NodeType = "or"
	NodeTypeIn         NodeType = "in"
)

// Operator 比较运算符
type Operator string

const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpLike      Operator = "like"
	OpNotLike   Operator = "notLike"
	OpIsNull    Operator = "isNull"
	OpIsNotNull Operator = "isNotNull"
	OpBetween   Operator = "between"
)

// Arity 运算符需要的值个数
func (o Operator) Arity() int {
	switch o {
	case OpIsNull, OpIsNotNull:
		return 0
	case OpBetween:
		return 2
	}
	return 1
}

// Mapper 把字段路径映射成后端的列名或者文档路径
type Mapper func(field string) (string, error)

// FieldPath 原样使用字段路径
func FieldPath(field string) (string, error) {
	return field, nil
}

// Node 谓词树节点，只有本包中的 Comparison、And、Or、In 四种实现
type Node interface {
	Type() NodeType
	Children() []Node

	ToSQL(m Mapper) (string, []any, error)
	ToMongo(m Mapper) (map[string]any, error)
	ToES(m Mapper) (map[string]any, error)

	isNode()
}

// Comparison 字段与值的比较
type Comparison struct {
	Field    string
	Operator Operator
	Values   []Ref
}

// And 所有子节点都成立
type And struct {
	Nodes []Node
}

// Or 任意子节点成立
type Or struct {
	Nodes []Node
}

// In 字段值属于集合
type In struct {
	Field  string
	Values Ref
}

func (*Comparison) Type() NodeType { return NodeTypeComparison }
func (*And) Type() NodeType        { return NodeTypeAnd }
func (*Or) Type() NodeType         { return NodeTypeOr }
func (*In) Type() NodeType         { return NodeTypeIn }

func (*Comparison) Children() []Node { return nil }
func (n *And) Children() []Node      { return n.Nodes }
func (n *Or) Children() []Node       { return n.Nodes }
func (*In) Children() []Node         { return nil }

func (*Comparison) isNode() {}
func (*And) isNode()        {}
func (*Or) isNode()         {}
func (*In) isNode()         {}

// Walk 深度优先遍历，fn 返回错误时停止
func Walk(n Node, fn func(Node) error) error {
	if n == nil {
		return nil
	}
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range n.Children() {
		if err := Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Fields 返回谓词引用的所有字段路径，按出现顺序去重
func Fields(n Node) []string {
	var fields []string
	seen := map[string]bool{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	_ = Walk(n, func(node Node) error {
		switch v := node.(type) {
		case *Comparison:
			add(v.Field)
		case *In:
			add(v.Field)
		}
		return nil
	})
	return fields
}

// Refs 返回谓词中所有未绑定的参数引用
func Refs(n Node) []Ref {
	var refs []Ref
	_ = Walk(n, func(node Node) error {
		switch v := node.(type) {
		case *Comparison:
			for _, r := range v.Values {
				if !r.Bound() {
					refs = append(refs, r)
				}
			}
		case *In:
			if !v.Values.Bound() {
				refs = append(refs, v.Values)
			}
		}
		return nil
	})
	return refs
}
