package query

import (
	"strings"

	"github.com/pkg/errors"
)

var esRanges = map[Operator]string{
	OpGt:  "gt",
	OpGte: "gte",
	OpLt:  "lt",
	OpLte: "lte",
}

func (q *Comparison) ToES(m Mapper) (map[string]any, error) {
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
		if values[0] == nil {
			return mustNot(exists(path)), nil
		}
		return map[string]any{"term": map[string]any{path: values[0]}}, nil
	case OpNe:
		if values[0] == nil {
			return exists(path), nil
		}
		return mustNot(map[string]any{"term": map[string]any{path: values[0]}}), nil
	case OpIsNull:
		return mustNot(exists(path)), nil
	case OpIsNotNull:
		return exists(path), nil
	case OpBetween:
		return map[string]any{"range": map[string]any{path: map[string]any{"gte": values[0], "lte": values[1]}}}, nil
	case OpLike, OpNotLike:
		pattern, err := likeString(q, values[0])
		if err != nil {
			return nil, err
		}
		wildcard := map[string]any{"wildcard": map[string]any{path: map[string]any{"value": likeToWildcard(pattern)}}}
		if q.Operator == OpNotLike {
			return mustNot(wildcard), nil
		}
		return wildcard, nil
	}

	op, ok := esRanges[q.Operator]
	if !ok {
		return nil, errors.Errorf("unsupported operator %s", q.Operator)
	}
	return map[string]any{"range": map[string]any{path: map[string]any{op: values[0]}}}, nil
}

func (q *In) ToES(m Mapper) (map[string]any, error) {
	path, err := m(q.Field)
	if err != nil {
		return nil, err
	}
	items, err := inValues(q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"terms": map[string]any{path: items}}, nil
}

func (q *And) ToES(m Mapper) (map[string]any, error) {
	if len(q.Nodes) == 0 {
		return map[string]any{"match_all": map[string]any{}}, nil
	}
	clauses, err := esClauses(q.Nodes, m)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bool": map[string]any{"must": clauses}}, nil
}

func (q *Or) ToES(m Mapper) (map[string]any, error) {
	if len(q.Nodes) == 0 {
		return map[string]any{"match_none": map[string]any{}}, nil
	}
	clauses, err := esClauses(q.Nodes, m)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bool": map[string]any{"should": clauses, "minimum_should_match": 1}}, nil
}

func esClauses(nodes []Node, m Mapper) ([]any, error) {
	clauses := make([]any, 0, len(nodes))
	for _, n := range nodes {
		clause, err := n.ToES(m)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

func exists(path string) map[string]any {
	return map[string]any{"exists": map[string]any{"field": path}}
}

func mustNot(clause map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"must_not": []any{clause}}}
}

func likeToWildcard(pattern string) string {
	return strings.NewReplacer("*", `\*`, "?", `\?`, "%", "*", "_", "?").Replace(pattern)
}
