// Package repository 按实体组织查询方法：启动时编译所有方法，调用时只绑定参数并执行
package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hatlonely/repox/compiler"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/fetch"
	"github.com/hatlonely/repox/jpql"
	"github.com/hatlonely/repox/log"
	"github.com/hatlonely/repox/method"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/hatlonely/repox/result"
	"github.com/hatlonely/repox/schema"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
)

var ErrUnknownMethod = errors.New("unknown repository method")

// Engine 持有注册表、抓取图和存储，所有仓库共用
type Engine struct {
	reg       *schema.Registry
	resolver  *fetch.Resolver
	compiler  *compiler.Compiler
	storage   storage.Storage
	assembler *result.Assembler
	logger    log.Logger

	mu           sync.RWMutex
	repositories map[string]*Repository
}

type Option func(*Engine)

func WithLogger(l log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine 注册表没有 Seal 时先 Seal
func NewEngine(reg *schema.Registry, resolver *fetch.Resolver, s storage.Storage, opts ...Option) (*Engine, error) {
	if reg == nil || s == nil {
		return nil, errors.New("registry and storage cannot be nil")
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = fetch.NewResolver(reg)
	}

	e := &Engine{
		reg:          reg,
		resolver:     resolver,
		compiler:     compiler.New(reg, resolver),
		storage:      s,
		logger:       log.Discard(),
		repositories: map[string]*Repository{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.assembler = result.NewAssembler(s, result.WithLogger(e.logger))
	return e, nil
}

func (e *Engine) Registry() *schema.Registry {
	return e.reg
}

func (e *Engine) Storage() storage.Storage {
	return e.storage
}

func (e *Engine) Close() error {
	return storage.Close(e.storage)
}

// Register 编译定义中的所有方法，任何一个方法编译失败都不会注册
func (e *Engine) Register(def Definition) (*Repository, error) {
	r, err := newRepository(e, def)
	if err != nil {
		return nil, errors.WithMessagef(err, "repository %s", def.Entity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.repositories[def.Entity]; ok {
		return nil, errors.Errorf("repository %s already registered", def.Entity)
	}
	e.repositories[def.Entity] = r
	return r, nil
}

func (e *Engine) MustRegister(def Definition) *Repository {
	r, err := e.Register(def)
	if err != nil {
		panic(err)
	}
	return r
}

// Repository 按实体名查找仓库
func (e *Engine) Repository(entity string) (*Repository, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.repositories[entity]
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownEntity, "no repository for %q", entity)
	}
	return r, nil
}

// Invoke 调用实体仓库上的方法
func (e *Engine) Invoke(ctx context.Context, entity string, name string, args ...any) (result.Result, error) {
	r, err := e.Repository(entity)
	if err != nil {
		return nil, err
	}
	return r.Invoke(ctx, name, args...)
}

// Derive 从方法签名推导查询并执行，不需要预先注册
func (e *Engine) Derive(ctx context.Context, entity string, sig method.Signature, args ...any) (result.Result, error) {
	tpl, err := e.compileMethod(entity, Method{Name: sig.Name, Params: sig.Params, Returns: sig.Returns})
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, tpl, args...)
}

// Request 一次性的查询语句请求。Params 是具名参数，Args 按 ?1, ?2 的顺序绑定
type Request struct {
	Query      string
	CountQuery string
	Params     map[string]any
	Args       []any
	Page       *plan.PageRequest
	Sort       plan.Sort
	Shape      plan.ResultShape
	Hints      fetch.Hints
	Fields     []string
}

// Query 编译并执行查询语句
func (e *Engine) Query(ctx context.Context, req Request) (result.Result, error) {
	stmt, err := jpql.Parse(req.Query)
	if err != nil {
		return nil, err
	}
	var count *jpql.Statement
	if req.CountQuery != "" {
		if count, err = jpql.Parse(req.CountQuery); err != nil {
			return nil, err
		}
	}

	if err := checkRequest(stmt, req, false); err != nil {
		return nil, err
	}
	if count != nil {
		if err := checkRequest(count, req, true); err != nil {
			return nil, err
		}
	}

	params := make([]plan.Param, 0, len(req.Args)+len(req.Params)+2)
	args := make([]any, 0, cap(params))
	for _, v := range req.Args {
		params = append(params, paramOf("", v))
		args = append(args, v)
	}
	names := make([]string, 0, len(req.Params))
	for name := range req.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		params = append(params, paramOf(name, req.Params[name]))
		args = append(args, req.Params[name])
	}
	if req.Page != nil {
		params = append(params, plan.Pageable("page"))
		args = append(args, req.Page)
	}
	if len(req.Sort) > 0 {
		params = append(params, plan.Sorting("sort"))
		args = append(args, req.Sort)
	}

	tpl, err := e.compiler.FromStatement(stmt, count, params, req.Shape, compiler.Options{Fetch: req.Hints, Fields: req.Fields})
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, tpl, args...)
}

// checkRequest ?N 只对应 Args 中的第 N 个值，:name 只对应 Params 中的同名值
func checkRequest(stmt *jpql.Statement, req Request, lenient bool) error {
	used := make([]bool, len(req.Args))
	named := map[string]bool{}
	for _, r := range stmt.Refs() {
		switch r.Kind {
		case query.RefPositional:
			if r.Position < 0 || r.Position >= len(req.Args) {
				return errors.Wrapf(errs.ErrUnboundParameter, "%s in %q, %d positional arguments given", r, stmt.Text, len(req.Args))
			}
			used[r.Position] = true
		case query.RefNamed:
			if _, ok := req.Params[r.Name]; !ok {
				return errors.Wrapf(errs.ErrUnboundParameter, "%s in %q", r, stmt.Text)
			}
			named[r.Name] = true
		}
	}
	if lenient {
		return nil
	}
	for i, ok := range used {
		if !ok {
			return errors.Wrapf(errs.ErrUnusedParameter, "argument ?%d not referenced by %q", i+1, stmt.Text)
		}
	}
	names := make([]string, 0, len(req.Params))
	for name := range req.Params {
		if !named[name] {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return errors.Wrapf(errs.ErrUnusedParameter, "parameter %s not referenced by %q", names[0], stmt.Text)
	}
	return nil
}

func paramOf(name string, v any) plan.Param {
	if query.IsCollection(v) {
		return plan.Collection(name)
	}
	return plan.Scalar(name)
}

// compileMethod 声明了查询语句时编译语句，否则解析方法名
func (e *Engine) compileMethod(entity string, m Method) (*plan.Template, error) {
	opts := compiler.Options{Fetch: m.Hints, Fields: m.Fields}

	if m.Query == "" {
		if m.CountQuery != "" {
			return nil, errors.Wrapf(errs.ErrMalformedQuery, "%s: count query without query", m.Name)
		}
		decl, err := method.Parse(e.reg, entity, method.Signature{Name: m.Name, Params: m.Params, Returns: m.Returns})
		if err != nil {
			return nil, err
		}
		return e.compiler.FromDeclaration(decl, opts)
	}

	stmt, err := jpql.Parse(m.Query)
	if err != nil {
		return nil, err
	}
	if stmt.Entity != entity {
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "%s: query selects %s, repository is %s", m.Name, stmt.Entity, entity)
	}
	var count *jpql.Statement
	if m.CountQuery != "" {
		if count, err = jpql.Parse(m.CountQuery); err != nil {
			return nil, err
		}
	}

	shape := method.ShapeFor(m.Returns)
	params := m.Params
	if len(params) == 0 {
		params = inferParams(stmt, shape)
	}
	return e.compiler.FromStatement(stmt, count, params, shape, opts)
}

// inferParams 没有声明参数时按语句推断：先是位置参数，再是按出现顺序的具名参数，
// in 右侧的参数是集合。Page 和 Slice 结果在最后追加分页参数
func inferParams(stmt *jpql.Statement, shape plan.ResultShape) []plan.Param {
	collections := map[string]bool{}
	_ = query.Walk(stmt.Where, func(n query.Node) error {
		if in, ok := n.(*query.In); ok && in.Values.Kind == query.RefNamed {
			collections[in.Values.Name] = true
		}
		return nil
	})

	positional := 0
	var names []string
	seen := map[string]bool{}
	for _, r := range stmt.Refs() {
		switch r.Kind {
		case query.RefPositional:
			if r.Position+1 > positional {
				positional = r.Position + 1
			}
		case query.RefNamed:
			if !seen[r.Name] {
				seen[r.Name] = true
				names = append(names, r.Name)
			}
		}
	}

	params := make([]plan.Param, 0, positional+len(names)+1)
	for i := 0; i < positional; i++ {
		params = append(params, plan.Scalar(""))
	}
	for _, name := range names {
		if collections[name] {
			params = append(params, plan.Collection(name))
		} else {
			params = append(params, plan.Scalar(name))
		}
	}
	if shape == plan.ShapePage || shape == plan.ShapeSlice {
		params = append(params, plan.Pageable("page"))
	}
	return params
}

// execute 绑定参数并执行，每次调用都生成新的计划
func (e *Engine) execute(ctx context.Context, tpl *plan.Template, args ...any) (result.Result, error) {
	p, err := e.compiler.Compile(tpl, args...)
	if err != nil {
		return nil, err
	}
	return e.assembler.Execute(ctx, p)
}
