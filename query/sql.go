package query

import (
	"strings"

	"github.com/pkg/errors"
)

var sqlOperators = map[Operator]string{
	OpEq:      "=",
	OpNe:      "<>",
	OpGt:      ">",
	OpGte:     ">=",
	OpLt:      "<",
	OpLte:     "<=",
	OpLike:    "LIKE",
	OpNotLike: "NOT LIKE",
}

func (q *Comparison) ToSQL(m Mapper) (string, []any, error) {
	column, err := m(q.Field)
	if err != nil {
		return "", nil, err
	}
	if len(q.Values) != q.Operator.Arity() {
		return "", nil, errors.Errorf("%s %s expects %d values, got %d", q.Field, q.Operator, q.Operator.Arity(), len(q.Values))
	}
	values := make([]any, len(q.Values))
	for i, r := range q.Values {
		if values[i], err = boundValue(r); err != nil {
			return "", nil, err
		}
	}

	switch q.Operator {
	case OpIsNull:
		return column + " IS NULL", nil, nil
	case OpIsNotNull:
		return column + " IS NOT NULL", nil, nil
	case OpBetween:
		return column + " BETWEEN ? AND ?", values, nil
	case OpEq:
		if values[0] == nil {
			return column + " IS NULL", nil, nil
		}
	case OpNe:
		if values[0] == nil {
			return column + " IS NOT NULL", nil, nil
		}
	}

	op, ok := sqlOperators[q.Operator]
	if !ok {
		return "", nil, errors.Errorf("unsupported operator %s", q.Operator)
	}
	return column + " " + op + " ?", values, nil
}

func (q *In) ToSQL(m Mapper) (string, []any, error) {
	column, err := m(q.Field)
	if err != nil {
		return "", nil, err
	}
	value, err := boundValue(q.Values)
	if err != nil {
		return "", nil, err
	}
	items, ok := value.([]any)
	if !ok {
		if items, ok = Collection(value); !ok {
			return "", nil, errors.Errorf("%s in expects a collection, got %T", q.Field, value)
		}
	}
	if len(items) == 0 {
		return "1=0", nil, nil
	}
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(items)), ", ") + ")", items, nil
}

func (q *And) ToSQL(m Mapper) (string, []any, error) {
	return joinSQL(q.Nodes, m, " AND ", "1=1")
}

func (q *Or) ToSQL(m Mapper) (string, []any, error) {
	return joinSQL(q.Nodes, m, " OR ", "1=0")
}

func joinSQL(nodes []Node, m Mapper, sep string, empty string) (string, []any, error) {
	if len(nodes) == 0 {
		return empty, nil, nil
	}
	var parts []string
	var args []any
	for _, n := range nodes {
		sql, nodeArgs, err := n.ToSQL(m)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, nodeArgs...)
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}
