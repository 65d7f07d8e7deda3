package storage

import (
	"context"

	"github.com/hatlonely/repox/compiler"
	"github.com/hatlonely/repox/fetch"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/jpql"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
)

type env struct {
	reg *schema.Registry
	c   *compiler.Compiler
}

func newEnv() *env {
	reg := fixture.Registry()
	return &env{reg: reg, c: compiler.New(reg, fetch.NewResolver(reg))}
}

// compile 编译并绑定一条查询，测试里出错直接 panic
func (e *env) compile(text string, params []plan.Param, opts compiler.Options, args ...any) *plan.QueryPlan {
	tpl, err := e.c.FromStatement(jpql.MustParse(text), nil, params, plan.ShapeManyList, opts)
	if err != nil {
		panic(err)
	}
	p, err := e.c.Compile(tpl, args...)
	if err != nil {
		panic(err)
	}
	return p
}

func (e *env) entity(name string) *schema.Entity {
	entity, err := e.reg.Resolve(name)
	if err != nil {
		panic(err)
	}
	return entity
}

// seed 通过 Writer 写入 teamA、teamB 和 5 个成员
func (e *env) seed(w Writer, members []map[string]any) {
	ctx := context.Background()
	for _, r := range fixture.Teams() {
		if _, err := w.Insert(ctx, e.entity("Team"), Row(r)); err != nil {
			panic(err)
		}
	}
	for _, r := range members {
		if _, err := w.Insert(ctx, e.entity("Member"), Row(r)); err != nil {
			panic(err)
		}
	}
}

func usernames(rows []Row) []any {
	var names []any
	for _, r := range rows {
		names = append(names, r["username"])
	}
	return names
}

func ages(rows []Row) []any {
	var values []any
	for _, r := range rows {
		values = append(values, r["age"])
	}
	return values
}
