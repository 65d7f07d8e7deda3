package repository

import (
	"context"
	"sort"

	"github.com/hatlonely/repox/compiler"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/hatlonely/repox/result"
	"github.com/hatlonely/repox/schema"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
)

// Repository 一个实体的仓库。方法在创建时全部编译成模板，之后只读
type Repository struct {
	engine  *Engine
	entity  *schema.Entity
	methods map[string]*plan.Template
	custom  map[string]CustomFunc

	findByID   *plan.Template
	existsByID *plan.Template
	findAll    *plan.Template
	countAll   *plan.Template
	deleteByID *plan.Template
	deleteAll  *plan.Template
}

func newRepository(e *Engine, def Definition) (*Repository, error) {
	entity, err := e.reg.Resolve(def.Entity)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		engine:  e,
		entity:  entity,
		methods: make(map[string]*plan.Template, len(def.Methods)),
		custom:  make(map[string]CustomFunc, len(def.Custom)),
	}
	for name, fn := range def.Custom {
		if fn == nil {
			return nil, errors.Errorf("custom method %s is nil", name)
		}
		r.custom[name] = fn
	}

	for _, m := range def.Methods {
		if _, ok := r.methods[m.Name]; ok {
			return nil, errors.Errorf("duplicate method %s", m.Name)
		}
		tpl, err := e.compileMethod(entity.Name, m)
		if err != nil {
			return nil, errors.WithMessagef(err, "method %s", m.Name)
		}
		r.methods[m.Name] = tpl
		e.logger.Debug("compile method", "entity", entity.Name, "method", m.Name, "shape", tpl.Shape.String(),
			"joins", len(tpl.Joins), "fetch", tpl.Fetch.Paths, "bulk", tpl.IsBulkModification)
	}

	if err := r.compileBasics(); err != nil {
		return nil, err
	}
	return r, nil
}

// compileBasics 编译 CRUD 用到的模板
func (r *Repository) compileBasics() error {
	c := r.engine.compiler
	name := r.entity.Name
	byID := &query.Comparison{Field: r.entity.ID, Operator: query.OpEq, Values: []query.Ref{query.Named("id")}}
	idParams := []plan.Param{plan.Scalar("id")}

	var err error
	if r.findByID, err = c.FromPredicate(name, byID, plan.ShapeSingleOptional, idParams, compiler.Options{}); err != nil {
		return err
	}
	if r.existsByID, err = c.FromPredicate(name, byID, plan.ShapeCount, idParams, compiler.Options{}); err != nil {
		return err
	}
	if r.findAll, err = c.FromPredicate(name, nil, plan.ShapeManyList, []plan.Param{plan.Sorting("sort")}, compiler.Options{}); err != nil {
		return err
	}
	if r.countAll, err = c.FromPredicate(name, nil, plan.ShapeCount, nil, compiler.Options{}); err != nil {
		return err
	}
	if r.deleteByID, err = c.FromModification(name, byID, &plan.Modification{Kind: plan.ModifyDelete}, idParams); err != nil {
		return err
	}
	if r.deleteAll, err = c.FromModification(name, nil, &plan.Modification{Kind: plan.ModifyDelete}, nil); err != nil {
		return err
	}
	return nil
}

func (r *Repository) Entity() *schema.Entity {
	return r.entity
}

func (r *Repository) Engine() *Engine {
	return r.engine
}

// Methods 声明方法和自定义方法的名字，按字典序
func (r *Repository) Methods() []string {
	names := make([]string, 0, len(r.methods)+len(r.custom))
	for name := range r.methods {
		names = append(names, name)
	}
	for name := range r.custom {
		if _, ok := r.methods[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Template 方法编译后的模板
func (r *Repository) Template(name string) (*plan.Template, bool) {
	tpl, ok := r.methods[name]
	return tpl, ok
}

// Invoke 先查自定义方法，再查声明的方法
func (r *Repository) Invoke(ctx context.Context, name string, args ...any) (result.Result, error) {
	if fn, ok := r.custom[name]; ok {
		return fn(ctx, r, args...)
	}
	tpl, ok := r.methods[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "%s.%s", r.entity.Name, name)
	}
	res, err := r.engine.execute(ctx, tpl, args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.%s", r.entity.Name, name)
	}
	return res, nil
}

// Save 主键已存在时按主键更新标量字段，否则插入。返回主键。
// v 可以是 storage.Row、map[string]any 或者结构体指针，插入结构体时生成的主键会写回结构体
func (r *Repository) Save(ctx context.Context, v any) (any, error) {
	row, err := r.encode(v)
	if err != nil {
		return nil, err
	}

	if id := row[r.entity.ID]; id != nil {
		exists, err := r.ExistsByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return id, r.update(ctx, id, row)
		}
	}

	w, ok := r.engine.storage.(storage.Writer)
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnsupported, "%T cannot insert", r.engine.storage)
	}
	id, err := w.Insert(ctx, r.entity, row)
	if err != nil {
		return nil, err
	}
	if err := r.writeBackID(v, id); err != nil {
		return nil, err
	}
	r.engine.logger.DebugContext(ctx, "insert", "entity", r.entity.Name, "id", id)
	return id, nil
}

// update 外键属于关联，按主键更新时不修改
func (r *Repository) update(ctx context.Context, id any, row storage.Row) error {
	var names []string
	for _, f := range r.entity.Scalars() {
		if _, ok := row[f.Name]; ok && f.Name != r.entity.ID {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	m := &plan.Modification{Kind: plan.ModifyUpdate}
	for _, name := range names {
		m.Assignments = append(m.Assignments, plan.Assignment{Field: name, Value: query.Value(row[name])})
	}
	tpl, err := r.engine.compiler.FromModification(r.entity.Name, query.Eq(r.entity.ID, id), m, nil)
	if err != nil {
		return err
	}
	_, err = r.engine.execute(ctx, tpl)
	return err
}

// FindByID 返回 *result.Optional
func (r *Repository) FindByID(ctx context.Context, id any) (result.Result, error) {
	return r.engine.execute(ctx, r.findByID, id)
}

func (r *Repository) ExistsByID(ctx context.Context, id any) (bool, error) {
	n, err := count(r.engine.execute(ctx, r.existsByID, id))
	return n > 0, err
}

// FindAll 实体的默认图在这里生效，orders 为空时不排序
func (r *Repository) FindAll(ctx context.Context, orders plan.Sort) (result.Result, error) {
	return r.engine.execute(ctx, r.findAll, orders)
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	return count(r.engine.execute(ctx, r.countAll))
}

// Delete v 可以是主键，也可以是带主键的行或者结构体
func (r *Repository) Delete(ctx context.Context, v any) error {
	id, err := r.idOf(v)
	if err != nil {
		return err
	}
	_, err = count(r.engine.execute(ctx, r.deleteByID, id))
	return err
}

func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	return count(r.engine.execute(ctx, r.deleteAll))
}

// FindAllSpec 按运行时组合的条件查询，page 为 nil 时返回 *result.List，否则返回 *result.Page
func (r *Repository) FindAllSpec(ctx context.Context, spec query.Spec, page *plan.PageRequest) (result.Result, error) {
	shape := plan.ShapeManyList
	var params []plan.Param
	var args []any
	if page != nil {
		shape = plan.ShapePage
		params = append(params, plan.Pageable("page"))
		args = append(args, page)
	}
	tpl, err := r.engine.compiler.FromPredicate(r.entity.Name, spec.Node(), shape, params, compiler.Options{})
	if err != nil {
		return nil, err
	}
	return r.engine.execute(ctx, tpl, args...)
}

func (r *Repository) CountSpec(ctx context.Context, spec query.Spec) (int64, error) {
	tpl, err := r.engine.compiler.FromPredicate(r.entity.Name, spec.Node(), plan.ShapeCount, nil, compiler.Options{})
	if err != nil {
		return 0, err
	}
	return count(r.engine.execute(ctx, tpl))
}

func (r *Repository) idOf(v any) (any, error) {
	switch v.(type) {
	case storage.Row, map[string]any:
	default:
		if _, ok := structValue(v); !ok {
			return v, nil
		}
	}
	row, err := r.encode(v)
	if err != nil {
		return nil, err
	}
	id := row[r.entity.ID]
	if id == nil {
		return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s has no id", r.entity.Name)
	}
	return id, nil
}

func count(res result.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case *result.Count:
		return v.Value, nil
	case *result.Modified:
		return v.Rows, nil
	}
	return 0, errors.Wrapf(errs.ErrTypeMismatch, "expected count, got %s result", res.Shape())
}
