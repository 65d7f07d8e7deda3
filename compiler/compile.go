package compiler

import (
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
)

// Compile 按声明顺序绑定调用参数，生成查询计划。不做任何 I/O
func (c *Compiler) Compile(tpl *plan.Template, args ...any) (*plan.QueryPlan, error) {
	if len(args) < len(tpl.Params) {
		return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s expects %d arguments, got %d", tpl.Entity, len(tpl.Params), len(args))
	}
	if len(args) > len(tpl.Params) {
		return nil, errors.Wrapf(errs.ErrUnusedParameter, "%s expects %d arguments, got %d", tpl.Entity, len(tpl.Params), len(args))
	}

	bindings := query.Args{Named: map[string]any{}}
	var page *plan.PageRequest
	var sort plan.Sort
	for i, p := range tpl.Params {
		switch p.Kind {
		case plan.ParamPage:
			pr, err := pageRequest(p, args[i])
			if err != nil {
				return nil, err
			}
			page = pr
		case plan.ParamSort:
			s, err := sortOf(p, args[i])
			if err != nil {
				return nil, err
			}
			sort = s
		case plan.ParamCollection:
			if args[i] != nil && !query.IsCollection(args[i]) {
				return nil, errors.Wrapf(errs.ErrTypeMismatch, "parameter %s expects a collection, got %T", p.Name, args[i])
			}
			fallthrough
		default:
			bindings.Positional = append(bindings.Positional, args[i])
			if p.Name != "" {
				bindings.Named[p.Name] = args[i]
			}
		}
	}

	qp, err := c.bind(tpl, bindings)
	if err != nil {
		return nil, err
	}

	if page != nil {
		qp.Offset = page.Offset
		qp.Limit = page.Limit
		if len(page.Sort) > 0 {
			qp.Sort = page.Sort
		}
	}
	if len(sort) > 0 {
		qp.Sort = sort
	}
	if len(qp.Sort) > 0 {
		if qp.Joins, err = c.sortJoins(tpl, qp.Sort); err != nil {
			return nil, err
		}
	}

	if tpl.Count != nil {
		if qp.Count, err = c.bind(tpl.Count, bindings); err != nil {
			return nil, err
		}
	}
	return qp, nil
}

func (c *Compiler) bind(tpl *plan.Template, bindings query.Args) (*plan.QueryPlan, error) {
	predicate, err := query.Bind(tpl.Predicate, bindings)
	if err != nil {
		return nil, errors.WithMessagef(err, "bind %s", tpl.Entity)
	}
	qp := &plan.QueryPlan{
		Entity:             tpl.Entity,
		Predicate:          predicate,
		Sort:               tpl.Sort,
		Shape:              tpl.Shape,
		Projection:         tpl.Projection,
		Fetch:              tpl.Fetch,
		Joins:              tpl.Joins,
		IsBulkModification: tpl.IsBulkModification,
	}
	if tpl.Modification != nil {
		m := &plan.Modification{Kind: tpl.Modification.Kind}
		for _, a := range tpl.Modification.Assignments {
			v, ok := bindings.Lookup(a.Value)
			if !ok {
				return nil, errors.Wrapf(errs.ErrUnboundParameter, "assignment %s = %s", a.Field, a.Value)
			}
			a.Value = query.Value(v)
			m.Assignments = append(m.Assignments, a)
		}
		qp.Modification = m
	}
	return qp, nil
}

// sortJoins 调用方指定的排序字段需要重新校验，并补充连接
func (c *Compiler) sortJoins(tpl *plan.Template, sort plan.Sort) ([]plan.Join, error) {
	e, err := c.reg.Resolve(tpl.Entity)
	if err != nil {
		return nil, err
	}
	js := &joinSet{joins: append([]plan.Join(nil), tpl.Joins...)}
	for _, o := range sort {
		if err := c.require(e, js, o.Field, plan.JoinLeft); err != nil {
			return nil, err
		}
	}
	return js.joins, nil
}

func pageRequest(p plan.Param, v any) (*plan.PageRequest, error) {
	var pr *plan.PageRequest
	switch r := v.(type) {
	case plan.PageRequest:
		pr = &r
	case *plan.PageRequest:
		pr = r
	}
	if pr == nil {
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "parameter %s expects a page request, got %T", p.Name, v)
	}
	if pr.Offset < 0 || pr.Limit < 0 {
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "parameter %s: negative offset %d or limit %d", p.Name, pr.Offset, pr.Limit)
	}
	return pr, nil
}

func sortOf(p plan.Param, v any) (plan.Sort, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case plan.Sort:
		return s, nil
	case []plan.Order:
		return s, nil
	case plan.Order:
		return plan.Sort{s}, nil
	}
	return nil, errors.Wrapf(errs.ErrTypeMismatch, "parameter %s expects a sort, got %T", p.Name, v)
}
