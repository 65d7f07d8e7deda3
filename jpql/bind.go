package jpql

import (
	"sort"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
)

// Check 校验占位符和声明的参数一一对应。params 是按声明顺序排列的值参数名，
// ?N 对应第 N 个参数。lenient 时允许有未使用的参数，用于计数查询
func Check(stmt *Statement, params []string, lenient bool) error {
	index := map[string]int{}
	for i, name := range params {
		index[name] = i
	}
	used := make([]bool, len(params))
	for _, r := range stmt.Refs() {
		switch r.Kind {
		case query.RefNamed:
			i, ok := index[r.Name]
			if !ok {
				return errors.Wrapf(errs.ErrUnboundParameter, "%s in %q", r, stmt.Text)
			}
			used[i] = true
		case query.RefPositional:
			if r.Position >= len(params) {
				return errors.Wrapf(errs.ErrUnboundParameter, "%s in %q", r, stmt.Text)
			}
			used[r.Position] = true
		}
	}
	if lenient {
		return nil
	}
	for i, ok := range used {
		if !ok {
			return errors.Wrapf(errs.ErrUnusedParameter, "parameter %s not referenced by %q", params[i], stmt.Text)
		}
	}
	return nil
}

// Bind 用参数绑定语句，返回新的语句。每个参数都必须被引用
func Bind(stmt *Statement, args query.Args) (*Statement, error) {
	return bind(stmt, args, false)
}

// BindLenient 和 Bind 一样，但是允许有未使用的参数
func BindLenient(stmt *Statement, args query.Args) (*Statement, error) {
	return bind(stmt, args, true)
}

func bind(stmt *Statement, args query.Args, lenient bool) (*Statement, error) {
	if !lenient {
		if err := unused(stmt, args); err != nil {
			return nil, err
		}
	}
	where, err := query.Bind(stmt.Where, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "bind %q", stmt.Text)
	}

	bound := *stmt
	bound.Where = where
	if stmt.Assignments != nil {
		bound.Assignments = make([]plan.Assignment, len(stmt.Assignments))
		for i, a := range stmt.Assignments {
			v, ok := args.Lookup(a.Value)
			if !ok {
				return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s in %q", a.Value, stmt.Text)
			}
			a.Value = query.Value(v)
			bound.Assignments[i] = a
		}
	}
	return &bound, nil
}

func unused(stmt *Statement, args query.Args) error {
	named := map[string]bool{}
	positional := map[int]bool{}
	for _, r := range stmt.Refs() {
		switch r.Kind {
		case query.RefNamed:
			named[r.Name] = true
		case query.RefPositional:
			positional[r.Position] = true
		}
	}
	var names []string
	for name := range args.Named {
		if !named[name] {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return errors.Wrapf(errs.ErrUnusedParameter, "parameters %v not referenced by %q", names, stmt.Text)
	}
	for i := range args.Positional {
		if !positional[i] {
			return errors.Wrapf(errs.ErrUnusedParameter, "parameter ?%d not referenced by %q", i+1, stmt.Text)
		}
	}
	return nil
}
