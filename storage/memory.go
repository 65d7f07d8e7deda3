package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// MemoryOptions 内存存储选项，Data 按实体名预置数据
type MemoryOptions struct {
	Data map[string][]map[string]any `cfg:"data"`
}

// Memory 内存存储，表按实体名组织，行只保存根字段和外键
type Memory struct {
	mu     sync.RWMutex
	reg    *schema.Registry
	tables map[string][]Row
	seq    map[string]int64

	seed map[string][]map[string]any
}

func NewMemory(reg *schema.Registry) *Memory {
	return &Memory{reg: reg, tables: map[string][]Row{}, seq: map[string]int64{}}
}

func NewMemoryWithOptions(options *MemoryOptions) (*Memory, error) {
	m := &Memory{tables: map[string][]Row{}, seq: map[string]int64{}}
	if options != nil {
		m.seed = options.Data
	}
	return m, nil
}

func (m *Memory) attach(reg *schema.Registry) error {
	m.reg = reg
	for entity, rows := range m.seed {
		if err := m.Load(entity, rows); err != nil {
			return err
		}
	}
	m.seed = nil
	return nil
}

// Load 追加数据，值按字段类型归一化
func (m *Memory) Load(entity string, rows []map[string]any) error {
	e, err := m.reg.Resolve(entity)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := m.Insert(context.Background(), e, Row(r)); err != nil {
			return err
		}
	}
	return nil
}

// Rows 返回实体的全部行，按插入顺序
func (m *Memory) Rows(entity string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]Row, 0, len(m.tables[entity]))
	for _, r := range m.tables[entity] {
		rows = append(rows, r.Clone())
	}
	return rows
}

func (m *Memory) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	columns, err := rootColumns(m.reg, e)
	if err != nil {
		return nil, err
	}
	stored := Row{}
	for _, c := range columns {
		v, err := normalize(c.Field, row[c.Key])
		if err != nil {
			return nil, err
		}
		stored[c.Key] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := stored[e.ID]
	if id == nil {
		if e.IDField().Type != schema.TypeInt && e.IDField().Type != schema.TypeAny {
			return nil, errors.Errorf("%s: id is required", e.Name)
		}
		m.seq[e.Name]++
		id = m.seq[e.Name]
		stored[e.ID] = id
	}
	for _, r := range m.tables[e.Name] {
		if c, err := query.Compare(r[e.ID], id); err == nil && c == 0 {
			return nil, errs.Storage("insert", errors.Errorf("%s: duplicate id %v", e.Name, id))
		}
	}
	if n, ok := id.(int64); ok && n > m.seq[e.Name] {
		m.seq[e.Name] = n
	}
	m.tables[e.Name] = append(m.tables[e.Name], stored)
	return id, nil
}

func (m *Memory) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	e, err := m.reg.Resolve(p.Entity)
	if err != nil {
		return nil, err
	}
	columns, err := outputColumns(m.reg, e, p)
	if err != nil {
		return nil, err
	}
	toMany, err := toManyFetches(m.reg, e, p)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	views, err := m.filter(e, p)
	if err != nil {
		return nil, err
	}
	if err := sortRows(views, p.Sort); err != nil {
		return nil, err
	}
	views = window(views, p.Offset, p.Limit)

	rows := make([]Row, 0, len(views))
	for _, v := range views {
		row := Row{}
		for _, c := range columns {
			row[c.Key] = v.row[c.Key]
		}
		for _, f := range toMany {
			children, err := m.children(e, f, v.row[e.ID])
			if err != nil {
				return nil, err
			}
			row[f.Name] = children
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *Memory) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	e, err := m.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	views, err := m.filter(e, p)
	if err != nil {
		return 0, err
	}
	if p.Projection.Kind == plan.ProjectScalar && len(p.Projection.Paths) == 1 {
		var n int64
		for _, v := range views {
			if v.row[p.Projection.Paths[0]] != nil {
				n++
			}
		}
		return n, nil
	}
	return int64(len(views)), nil
}

func (m *Memory) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	if !p.IsBulkModification || p.Modification == nil {
		return 0, errors.Errorf("%s: plan is not a bulk modification", p.Entity)
	}
	e, err := m.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	views, err := m.filter(e, p)
	if err != nil {
		return 0, err
	}
	matched := map[int]bool{}
	for _, v := range views {
		matched[v.index] = true
	}

	table := m.tables[e.Name]
	switch p.Modification.Kind {
	case plan.ModifyDelete:
		kept := table[:0]
		for i, r := range table {
			if !matched[i] {
				kept = append(kept, r)
			}
		}
		m.tables[e.Name] = kept
	case plan.ModifyUpdate:
		updated := make(map[int]Row, len(matched))
		for i := range matched {
			r := table[i].Clone()
			for _, a := range p.Modification.Assignments {
				v, err := assign(e, r, a)
				if err != nil {
					return 0, err
				}
				r[a.Field] = v
			}
			updated[i] = r
		}
		// 全部计算成功之后再写回
		for i, r := range updated {
			table[i] = r
		}
	}
	return int64(len(matched)), nil
}

type view struct {
	index int
	row   Row
}

// filter 连接 to-one 关联之后按谓词过滤，调用方持有锁
func (m *Memory) filter(e *schema.Entity, p *plan.QueryPlan) ([]view, error) {
	var views []view
	for i, r := range m.tables[e.Name] {
		joined, ok, err := m.join(e, r, p.Joins)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		match, err := query.Eval(p.Predicate, joined.Get)
		if err != nil {
			return nil, err
		}
		if match {
			views = append(views, view{index: i, row: joined})
		}
	}
	return views, nil
}

// join 把关联目标的字段展开成 relation.field，内连接找不到目标时丢弃该行
func (m *Memory) join(e *schema.Entity, r Row, joins []plan.Join) (Row, bool, error) {
	if len(joins) == 0 {
		return r, true, nil
	}
	joined := r.Clone()
	for _, j := range joins {
		f, target, err := m.reg.ResolveRelation(e, j.Path)
		if err != nil {
			return nil, false, err
		}
		if f.Relation != schema.ToOne {
			return nil, false, errors.Wrapf(errs.ErrUnsupported, "%s.%s: join on a to-many relation", e.Name, j.Path)
		}
		fk := r[f.Name+"."+target.ID]
		var found Row
		if fk != nil {
			for _, t := range m.tables[target.Name] {
				if c, err := query.Compare(t[target.ID], fk); err == nil && c == 0 {
					found = t
					break
				}
			}
		}
		if found == nil {
			if j.Kind == plan.JoinInner {
				return nil, false, nil
			}
			continue
		}
		for k, v := range found {
			if k != target.ID {
				joined[f.Name+"."+k] = v
			}
		}
	}
	return joined, true, nil
}

// children 反向外键等于 id 的目标行
func (m *Memory) children(e *schema.Entity, f schema.Field, id any) ([]Row, error) {
	target, err := m.reg.Resolve(f.Target)
	if err != nil {
		return nil, err
	}
	key := f.MappedBy + "." + e.ID
	children := []Row{}
	for _, r := range m.tables[target.Name] {
		if c, err := query.Compare(r[key], id); err == nil && c == 0 {
			children = append(children, r.Clone())
		}
	}
	return children, nil
}

func assign(e *schema.Entity, r Row, a plan.Assignment) (any, error) {
	value, ok := a.Value.Value, a.Value.Bound()
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s.%s = %s", e.Name, a.Field, a.Value)
	}
	f, _ := e.Field(a.Field)
	if a.Source == "" {
		return normalize(f, value)
	}
	result, err := arithmetic(r[a.Source], value, a.Operator)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.%s = %s %s %s", e.Name, a.Field, a.Source, a.Operator, a.Value)
	}
	return normalize(f, result)
}

func arithmetic(a, b any, op string) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	ai, aok := integer(a)
	bi, bok := integer(b)
	if aok && bok {
		switch op {
		case "+":
			return ai + bi, nil
		case "-":
			return ai - bi, nil
		}
		return nil, errors.Errorf("unsupported operator %q", op)
	}
	af, aok := float(a)
	bf, bok := float(b)
	if !aok || !bok {
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "%T %s %T", a, op, b)
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	}
	return nil, errors.Errorf("unsupported operator %q", op)
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func float(v any) (float64, bool) {
	if n, ok := integer(v); ok {
		return float64(n), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// sortRows 稳定排序，nil 排在最前
func sortRows(views []view, orders plan.Sort) error {
	if len(orders) == 0 {
		return nil
	}
	var sortErr error
	sort.SliceStable(views, func(i, j int) bool {
		for _, o := range orders {
			a, b := views[i].row[o.Field], views[j].row[o.Field]
			c, err := compareNullable(a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if o.Direction == plan.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

func compareNullable(a, b any) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	return query.Compare(a, b)
}

func window(views []view, offset, limit int) []view {
	if offset >= len(views) {
		return nil
	}
	if offset > 0 {
		views = views[offset:]
	}
	if limit > 0 && limit < len(views) {
		views = views[:limit]
	}
	return views
}
