// Package compiler 启动时把方法名或者查询语句编译成模板，调用时绑定参数生成查询计划
package compiler

import (
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/fetch"
	"github.com/hatlonely/repox/jpql"
	"github.com/hatlonely/repox/method"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// Options 模板的静态提示
type Options struct {
	Fetch fetch.Hints
	// 只返回这些字段，实体查询时生效
	Fields []string
}

type Compiler struct {
	reg      *schema.Registry
	resolver *fetch.Resolver
}

func New(reg *schema.Registry, resolver *fetch.Resolver) *Compiler {
	return &Compiler{reg: reg, resolver: resolver}
}

// FromDeclaration 从方法名解析结果构建模板
func (c *Compiler) FromDeclaration(decl *method.Declaration, opts Options) (*plan.Template, error) {
	tpl := &plan.Template{
		Entity:     decl.Entity,
		Predicate:  decl.Predicate,
		Sort:       decl.Sort,
		Shape:      decl.Shape,
		Projection: plan.Projection{Kind: plan.ProjectEntity},
		Params:     decl.Params,
	}
	if decl.Delete() {
		tpl.IsBulkModification = true
		tpl.Modification = &plan.Modification{Kind: plan.ModifyDelete}
	}
	if err := c.finish(tpl, nil, nil, opts); err != nil {
		return nil, err
	}
	return tpl, nil
}

// FromStatement 从查询语句构建模板，count 是可选的显式计数语句
func (c *Compiler) FromStatement(stmt *jpql.Statement, count *jpql.Statement, params []plan.Param, shape plan.ResultShape, opts Options) (*plan.Template, error) {
	var names []string
	hasPage := false
	for _, p := range params {
		if p.Bindable() {
			names = append(names, p.Name)
		}
		hasPage = hasPage || p.Kind == plan.ParamPage
	}
	if err := jpql.Check(stmt, names, false); err != nil {
		return nil, err
	}

	tpl, err := c.statement(stmt, params, shape, opts)
	if err != nil {
		return nil, err
	}
	if (tpl.Shape == plan.ShapePage || tpl.Shape == plan.ShapeSlice) && !hasPage {
		return nil, errors.Wrapf(errs.ErrMalformedQuery, "%s result of %q requires a page parameter", tpl.Shape, stmt.Text)
	}

	if count != nil {
		if err := jpql.Check(count, names, true); err != nil {
			return nil, err
		}
		if count.Entity != stmt.Entity {
			return nil, errors.Wrapf(errs.ErrTypeMismatch, "count query entity %s differs from %s", count.Entity, stmt.Entity)
		}
		if tpl.Count, err = c.statement(count, params, plan.ShapeCount, Options{}); err != nil {
			return nil, err
		}
	}
	return tpl, nil
}

func (c *Compiler) statement(stmt *jpql.Statement, params []plan.Param, shape plan.ResultShape, opts Options) (*plan.Template, error) {
	tpl := &plan.Template{
		Entity:     stmt.Entity,
		Predicate:  stmt.Where,
		Sort:       stmt.OrderBy,
		Shape:      shape,
		Projection: stmt.Projection,
		Params:     params,
	}
	if stmt.Count {
		tpl.Shape = plan.ShapeCount
	}
	if m := stmt.Modification(); m != nil {
		tpl.IsBulkModification = true
		tpl.Modification = m
		tpl.Shape = plan.ShapeCount
	}

	joins := make([]plan.Join, 0, len(stmt.Joins))
	var directives []string
	for _, j := range stmt.Joins {
		joins = append(joins, plan.Join{Path: j.Path, Kind: j.Kind, Fetch: j.Fetch})
		if j.Fetch {
			directives = append(directives, j.Path)
		}
	}
	if err := c.finish(tpl, joins, directives, opts); err != nil {
		return nil, err
	}
	return tpl, nil
}

// FromPredicate 运行时组合的条件，例如 Specification 和 CRUD 查询
func (c *Compiler) FromPredicate(entity string, n query.Node, shape plan.ResultShape, params []plan.Param, opts Options) (*plan.Template, error) {
	tpl := &plan.Template{
		Entity:     entity,
		Predicate:  n,
		Shape:      shape,
		Projection: plan.Projection{Kind: plan.ProjectEntity},
		Params:     params,
	}
	if err := c.finish(tpl, nil, nil, opts); err != nil {
		return nil, err
	}
	return tpl, nil
}

// FromModification 运行时构造的批量修改，例如按主键更新和删除
func (c *Compiler) FromModification(entity string, n query.Node, m *plan.Modification, params []plan.Param) (*plan.Template, error) {
	if m == nil {
		return nil, errors.Errorf("%s: modification cannot be nil", entity)
	}
	tpl := &plan.Template{
		Entity:             entity,
		Predicate:          n,
		Shape:              plan.ShapeCount,
		Projection:         plan.Projection{Kind: plan.ProjectEntity},
		IsBulkModification: true,
		Modification:       m,
		Params:             params,
	}
	if err := c.finish(tpl, nil, nil, Options{}); err != nil {
		return nil, err
	}
	return tpl, nil
}

// finish 校验所有字段路径，计算连接和抓取计划
func (c *Compiler) finish(tpl *plan.Template, declared []plan.Join, directives []string, opts Options) error {
	e, err := c.reg.Resolve(tpl.Entity)
	if err != nil {
		return err
	}
	js := &joinSet{}

	for _, j := range declared {
		f, _, err := c.reg.ResolveRelation(e, j.Path)
		if err != nil {
			return err
		}
		if f.Relation == schema.ToMany {
			if !j.Fetch {
				return errors.Wrapf(errs.ErrUnsupported, "%s.%s: join on a to-many relation", e.Name, j.Path)
			}
			continue
		}
		js.add(j.Path, j.Kind, j.Fetch)
	}

	if err := predicateFields(tpl.Predicate, false, func(field string, underOr bool) error {
		// Or 分支里的关联可能不存在，内连接会丢掉满足其他分支的行
		kind := plan.JoinInner
		if underOr {
			kind = plan.JoinLeft
		}
		return c.require(e, js, field, kind)
	}); err != nil {
		return err
	}
	for _, o := range tpl.Sort {
		if err := c.require(e, js, o.Field, plan.JoinLeft); err != nil {
			return err
		}
	}

	if len(opts.Fields) > 0 && tpl.Projection.Kind == plan.ProjectEntity {
		tpl.Projection = plan.Projection{Kind: plan.ProjectFields, Paths: opts.Fields}
	}
	if tpl.Projection.Kind != plan.ProjectEntity {
		for _, path := range tpl.Projection.Paths {
			if err := c.require(e, js, path, plan.JoinLeft); err != nil {
				return err
			}
		}
	}

	if tpl.Modification != nil {
		for _, a := range tpl.Modification.Assignments {
			for _, path := range []string{a.Field, a.Source} {
				if path == "" {
					continue
				}
				p, err := c.reg.ResolveScalar(e, path)
				if err != nil {
					return err
				}
				if !p.Direct() {
					return errors.Wrapf(errs.ErrUnsupported, "%s.%s: assignment through a relation", e.Name, path)
				}
			}
		}
	}

	// 批量修改不返回行，不需要抓取
	if tpl.IsBulkModification {
		tpl.Joins = js.joins
		return nil
	}
	if tpl.Fetch, err = c.resolver.Resolve(e.Name, opts.Fetch, directives...); err != nil {
		return err
	}
	for _, path := range tpl.Fetch.Paths {
		f, _ := e.Field(path)
		if f.Relation == schema.ToOne {
			js.add(path, plan.JoinLeft, true)
		}
	}
	tpl.Joins = js.joins
	return nil
}

// require 校验值路径，经过关联的路径需要连接。关联的主键就是外键，不需要连接
func (c *Compiler) require(e *schema.Entity, js *joinSet, path string, kind plan.JoinKind) error {
	p, err := c.reg.ResolveScalar(e, path)
	if err != nil {
		return err
	}
	if p.Direct() || p.Field.Name == p.Owner.ID {
		return nil
	}
	js.add(p.Relation.Name, kind, false)
	return nil
}

// predicateFields 按出现顺序访问谓词中的字段，underOr 表示字段位于某个 Or 之下
func predicateFields(n query.Node, underOr bool, fn func(field string, underOr bool) error) error {
	switch q := n.(type) {
	case nil:
		return nil
	case *query.Comparison:
		return fn(q.Field, underOr)
	case *query.In:
		return fn(q.Field, underOr)
	case *query.And:
		for _, child := range q.Nodes {
			if err := predicateFields(child, underOr, fn); err != nil {
				return err
			}
		}
		return nil
	case *query.Or:
		for _, child := range q.Nodes {
			if err := predicateFields(child, true, fn); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("unknown node type %T", n)
}

type joinSet struct {
	joins []plan.Join
}

// add 同一路径只连接一次，inner 优先于 left
func (s *joinSet) add(path string, kind plan.JoinKind, fetch bool) {
	for i := range s.joins {
		j := &s.joins[i]
		if j.Path != path {
			continue
		}
		if kind == plan.JoinInner {
			j.Kind = plan.JoinInner
		}
		j.Fetch = j.Fetch || fetch
		return
	}
	s.joins = append(s.joins, plan.Join{Path: path, Kind: kind, Fetch: fetch})
}
