package storage

import (
	"fmt"
	"strings"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// statement 生成的 SQL，Columns 按位置对应结果列
type statement struct {
	Text    string
	Args    []any
	Columns []column
}

// builder 把查询计划翻译成 SQL，根表别名为 r，连接依次为 j0, j1...
type builder struct {
	reg     *schema.Registry
	dialect Dialect

	// 由客户端格式化参数时保留 ? 占位符
	interpolated bool
}

func (b *builder) bind(text string) string {
	if b.interpolated {
		return text
	}
	return b.dialect.rebind(text)
}

func (b *builder) q(name string) string {
	return b.dialect.quote(name)
}

// from 生成 FROM 和 JOIN 子句，返回关联名到别名的映射
func (b *builder) from(e *schema.Entity, joins []plan.Join) (string, map[string]string, error) {
	var sb strings.Builder
	sb.WriteString(" FROM " + b.q(e.Table) + " r")
	aliases := map[string]string{}
	for i, j := range joins {
		f, target, err := b.reg.ResolveRelation(e, j.Path)
		if err != nil {
			return "", nil, err
		}
		if f.Relation != schema.ToOne {
			return "", nil, errors.Wrapf(errs.ErrUnsupported, "%s.%s: join on a to-many relation", e.Name, j.Path)
		}
		alias := fmt.Sprintf("j%d", i)
		aliases[j.Path] = alias
		kind := "INNER JOIN"
		if j.Kind == plan.JoinLeft {
			kind = "LEFT JOIN"
		}
		sb.WriteString(fmt.Sprintf(" %s %s %s ON %s.%s = r.%s",
			kind, b.q(target.Table), alias, alias, b.q(target.IDField().Column), b.q(f.JoinColumn)))
	}
	return sb.String(), aliases, nil
}

func (b *builder) mapper(e *schema.Entity, aliases map[string]string) query.Mapper {
	return func(field string) (string, error) {
		c, err := resolveColumn(b.reg, e, field)
		if err != nil {
			return "", err
		}
		return b.qualify(e, c, aliases)
	}
}

func (b *builder) qualify(e *schema.Entity, c column, aliases map[string]string) (string, error) {
	if c.Relation == "" {
		return "r." + b.q(c.Column), nil
	}
	alias, ok := aliases[c.Relation]
	if !ok {
		return "", errors.Wrapf(errs.ErrUnsupported, "%s.%s: relation %s is not joined", e.Name, c.Key, c.Relation)
	}
	return alias + "." + b.q(c.Column), nil
}

func (b *builder) where(e *schema.Entity, n query.Node, m query.Mapper) (string, []any, error) {
	if n == nil {
		return "", nil, nil
	}
	cond, args, err := n.ToSQL(m)
	if err != nil {
		return "", nil, errors.WithMessagef(err, "render %s predicate", e.Name)
	}
	return " WHERE " + cond, args, nil
}

func (b *builder) selectStatement(e *schema.Entity, p *plan.QueryPlan) (*statement, error) {
	columns, err := outputColumns(b.reg, e, p)
	if err != nil {
		return nil, err
	}
	from, aliases, err := b.from(e, p.Joins)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, 0, len(columns))
	for i, c := range columns {
		expr, err := b.qualify(e, c, aliases)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, fmt.Sprintf("%s AS c%d", expr, i))
	}

	where, args, err := b.where(e, p.Predicate, b.mapper(e, aliases))
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(exprs, ", "))
	sb.WriteString(from)
	sb.WriteString(where)
	if len(p.Sort) > 0 {
		m := b.mapper(e, aliases)
		orders := make([]string, 0, len(p.Sort))
		for _, o := range p.Sort {
			expr, err := m(o.Field)
			if err != nil {
				return nil, err
			}
			direction := "ASC"
			if o.Direction == plan.Desc {
				direction = "DESC"
			}
			orders = append(orders, expr+" "+direction)
		}
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	sb.WriteString(b.dialect.limit(p.Offset, p.Limit))
	sb.WriteString(b.dialect.lock(p.Fetch.Lock, "r"))

	return &statement{Text: b.bind(sb.String()), Args: args, Columns: columns}, nil
}

func (b *builder) countStatement(e *schema.Entity, p *plan.QueryPlan) (*statement, error) {
	from, aliases, err := b.from(e, p.Joins)
	if err != nil {
		return nil, err
	}
	where, args, err := b.where(e, p.Predicate, b.mapper(e, aliases))
	if err != nil {
		return nil, err
	}
	expr := "COUNT(*)"
	if p.Projection.Kind == plan.ProjectScalar && len(p.Projection.Paths) == 1 {
		path, err := b.mapper(e, aliases)(p.Projection.Paths[0])
		if err != nil {
			return nil, err
		}
		expr = "COUNT(" + path + ")"
	}
	return &statement{Text: b.bind("SELECT " + expr + from + where), Args: args}, nil
}

// modificationStatement 批量修改只支持根表上的条件，不能经过连接
func (b *builder) modificationStatement(e *schema.Entity, p *plan.QueryPlan) (*statement, error) {
	if !p.IsBulkModification || p.Modification == nil {
		return nil, errors.Errorf("%s: plan is not a bulk modification", p.Entity)
	}
	if len(p.Joins) > 0 {
		return nil, errors.Wrapf(errs.ErrUnsupported, "%s: bulk modification with joins", e.Name)
	}
	bare := func(field string) (string, error) {
		c, err := resolveColumn(b.reg, e, field)
		if err != nil {
			return "", err
		}
		if c.Relation != "" {
			return "", errors.Wrapf(errs.ErrUnsupported, "%s.%s: bulk modification through a relation", e.Name, field)
		}
		return b.q(c.Column), nil
	}
	where, whereArgs, err := b.where(e, p.Predicate, bare)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	var args []any
	switch p.Modification.Kind {
	case plan.ModifyDelete:
		sb.WriteString("DELETE FROM " + b.q(e.Table))
	case plan.ModifyUpdate:
		sets := make([]string, 0, len(p.Modification.Assignments))
		for _, a := range p.Modification.Assignments {
			if !a.Value.Bound() {
				return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s.%s = %s", e.Name, a.Field, a.Value)
			}
			target, err := bare(a.Field)
			if err != nil {
				return nil, err
			}
			if a.Source == "" {
				sets = append(sets, target+" = ?")
			} else {
				source, err := bare(a.Source)
				if err != nil {
					return nil, err
				}
				sets = append(sets, fmt.Sprintf("%s = %s %s ?", target, source, a.Operator))
			}
			args = append(args, a.Value.Value)
		}
		sb.WriteString("UPDATE " + b.q(e.Table) + " SET " + strings.Join(sets, ", "))
	}
	sb.WriteString(where)
	args = append(args, whereArgs...)
	return &statement{Text: b.bind(sb.String()), Args: args}, nil
}

// childrenStatement 查询外键属于 ids 的 to-many 关联目标
func (b *builder) childrenStatement(e *schema.Entity, f schema.Field, ids []any) (*statement, error) {
	target, err := b.reg.Resolve(f.Target)
	if err != nil {
		return nil, err
	}
	back, ok := target.Field(f.MappedBy)
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s", target.Name, f.MappedBy)
	}
	columns, err := rootColumns(b.reg, target)
	if err != nil {
		return nil, err
	}
	exprs := make([]string, 0, len(columns))
	for i, c := range columns {
		exprs = append(exprs, fmt.Sprintf("r.%s AS c%d", b.q(c.Column), i))
	}
	text := fmt.Sprintf("SELECT %s FROM %s r WHERE r.%s IN (%s) ORDER BY r.%s",
		strings.Join(exprs, ", "), b.q(target.Table), b.q(back.JoinColumn),
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), b.q(target.IDField().Column))
	return &statement{Text: b.bind(text), Args: ids, Columns: columns}, nil
}

// insertStatement 主键为空时交给数据库生成
func (b *builder) insertStatement(e *schema.Entity, row Row) (*statement, error) {
	columns, err := rootColumns(b.reg, e)
	if err != nil {
		return nil, err
	}
	var names, marks []string
	var args []any
	for _, c := range columns {
		v, err := normalize(c.Field, row[c.Key])
		if err != nil {
			return nil, err
		}
		if c.Key == e.ID && v == nil {
			continue
		}
		names = append(names, b.q(c.Column))
		marks = append(marks, "?")
		args = append(args, v)
	}
	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", b.q(e.Table), strings.Join(names, ", "), strings.Join(marks, ", "))
	if b.dialect == DialectPostgres {
		text += " RETURNING " + b.q(e.IDField().Column)
	}
	return &statement{Text: b.bind(text), Args: args}, nil
}

// createTable 按实体描述建表，外键列不建约束
func (b *builder) createTable(e *schema.Entity) (string, error) {
	columns, err := rootColumns(b.reg, e)
	if err != nil {
		return "", err
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, b.q(c.Column)+" "+b.dialect.columnType(c.Field, c.Key == e.ID))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", b.q(e.Table), strings.Join(defs, ", ")), nil
}
