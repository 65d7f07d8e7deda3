package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// queryer *sql.DB、*sql.Tx、bun.IDB 以及 gorm 的适配器都满足
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executor SQL 系存储共用的查询执行逻辑
type executor struct {
	builder
}

func (x *executor) query(ctx context.Context, q queryer, p *plan.QueryPlan) ([]Row, error) {
	e, err := x.reg.Resolve(p.Entity)
	if err != nil {
		return nil, err
	}
	stmt, err := x.selectStatement(e, p)
	if err != nil {
		return nil, err
	}
	rows, err := x.scan(ctx, q, stmt)
	if err != nil {
		return nil, err
	}

	toMany, err := toManyFetches(x.reg, e, p)
	if err != nil {
		return nil, err
	}
	if len(toMany) == 0 || len(rows) == 0 {
		return rows, nil
	}
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[e.ID])
	}
	for _, f := range toMany {
		if err := x.fetchChildren(ctx, q, e, f, ids, rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// fetchChildren 用一条 IN 查询取回所有行的 to-many 关联
func (x *executor) fetchChildren(ctx context.Context, q queryer, e *schema.Entity, f schema.Field, ids []any, rows []Row) error {
	stmt, err := x.childrenStatement(e, f, ids)
	if err != nil {
		return err
	}
	children, err := x.scan(ctx, q, stmt)
	if err != nil {
		return err
	}
	key := f.MappedBy + "." + e.ID
	groups := map[string][]Row{}
	for _, c := range children {
		k := fmt.Sprint(c[key])
		groups[k] = append(groups[k], c)
	}
	for _, r := range rows {
		group := groups[fmt.Sprint(r[e.ID])]
		if group == nil {
			group = []Row{}
		}
		r[f.Name] = group
	}
	return nil
}

func (x *executor) count(ctx context.Context, q queryer, p *plan.QueryPlan) (int64, error) {
	e, err := x.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}
	stmt, err := x.countStatement(e, p)
	if err != nil {
		return 0, err
	}
	rows, err := q.QueryContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return 0, errs.Storage("count", err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, errs.Storage("count", err)
		}
	}
	return n, errs.Storage("count", rows.Err())
}

func (x *executor) scan(ctx context.Context, q queryer, stmt *statement) ([]Row, error) {
	rows, err := q.QueryContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, errs.Storage("execute", err)
	}
	defer rows.Close()

	var result []Row
	values := make([]any, len(stmt.Columns))
	pointers := make([]any, len(stmt.Columns))
	for rows.Next() {
		for i := range values {
			values[i] = nil
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errs.Storage("execute", err)
		}
		row := make(Row, len(stmt.Columns))
		for i, c := range stmt.Columns {
			v, err := normalize(c.Field, values[i])
			if err != nil {
				return nil, err
			}
			row[c.Key] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("execute", err)
	}
	return result, nil
}

// modification 生成批量修改语句，执行交给具体的存储
func (x *executor) modification(p *plan.QueryPlan) (*statement, error) {
	e, err := x.reg.Resolve(p.Entity)
	if err != nil {
		return nil, err
	}
	return x.modificationStatement(e, p)
}

// migrate 为注册表中的所有实体建表
func (x *executor) migrate(fn func(text string) error) error {
	for _, e := range x.reg.Entities() {
		text, err := x.createTable(e)
		if err != nil {
			return err
		}
		if err := fn(text); err != nil {
			return errs.Storage("migrate", errors.WithMessagef(err, "create table %s", e.Table))
		}
	}
	return nil
}
