package query

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var mongoOperators = map[Operator]string{
	OpNe:  "$ne",
	OpGt:  "$gt",
	OpGte: "$gte",
	OpLt:  "$lt",
	OpLte: "$lte",
}

func (q *Comparison) ToMongo(m Mapper) (map[string]any, error) {
	path, err := m(q.Field)
	if err != nil {
		return nil, err
	}
	values, err := comparisonValues(q)
	if err != nil {
		return nil, err
	}

	switch q.Operator {
	case OpEq:
		return map[string]any{path: values[0]}, nil
	case OpIsNull:
		return map[string]any{path: nil}, nil
	case OpIsNotNull:
		return map[string]any{path: map[string]any{"$ne": nil}}, nil
	case OpBetween:
		return map[string]any{path: map[string]any{"$gte": values[0], "$lte": values[1]}}, nil
	case OpLike:
		pattern, err := likeString(q, values[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{path: map[string]any{"$regex": LikeToRegexp(pattern)}}, nil
	case OpNotLike:
		pattern, err := likeString(q, values[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{path: map[string]any{"$not": map[string]any{"$regex": LikeToRegexp(pattern)}}}, nil
	}

	op, ok := mongoOperators[q.Operator]
	if !ok {
		return nil, errors.Errorf("unsupported operator %s", q.Operator)
	}
	return map[string]any{path: map[string]any{op: values[0]}}, nil
}

func (q *In) ToMongo(m Mapper) (map[string]any, error) {
	path, err := m(q.Field)
	if err != nil {
		return nil, err
	}
	items, err := inValues(q)
	if err != nil {
		return nil, err
	}
	return map[string]any{path: map[string]any{"$in": items}}, nil
}

func (q *And) ToMongo(m Mapper) (map[string]any, error) {
	return joinMongo(q.Nodes, m, "$and")
}

func (q *Or) ToMongo(m Mapper) (map[string]any, error) {
	if len(q.Nodes) == 0 {
		// 空的 Or 不匹配任何文档
		return map[string]any{"_id": map[string]any{"$exists": false}}, nil
	}
	return joinMongo(q.Nodes, m, "$or")
}

func joinMongo(nodes []Node, m Mapper, op string) (map[string]any, error) {
	if len(nodes) == 0 {
		return map[string]any{}, nil
	}
	var parts []any
	for _, n := range nodes {
		doc, err := n.ToMongo(m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, doc)
	}
	if len(parts) == 1 {
		return parts[0].(map[string]any), nil
	}
	return map[string]any{op: parts}, nil
}

// LikeToRegexp 把 LIKE 模式转换成锚定的正则表达式，% 匹配任意串，_ 匹配单个字符
func LikeToRegexp(pattern string) string {
	var buf strings.Builder
	buf.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			buf.WriteString(".*")
		case '_':
			buf.WriteString(".")
		default:
			buf.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	buf.WriteString("$")
	return buf.String()
}

func comparisonValues(q *Comparison) ([]any, error) {
	if len(q.Values) != q.Operator.Arity() {
		return nil, errors.Errorf("%s %s expects %d values, got %d", q.Field, q.Operator, q.Operator.Arity(), len(q.Values))
	}
	values := make([]any, len(q.Values))
	for i, r := range q.Values {
		v, err := boundValue(r)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func inValues(q *In) ([]any, error) {
	value, err := boundValue(q.Values)
	if err != nil {
		return nil, err
	}
	if items, ok := value.([]any); ok {
		return items, nil
	}
	items, ok := Collection(value)
	if !ok {
		return nil, errors.Errorf("%s in expects a collection, got %T", q.Field, value)
	}
	return items, nil
}

func likeString(q *Comparison, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("%s %s expects a string pattern, got %T", q.Field, q.Operator, v)
	}
	return s, nil
}
