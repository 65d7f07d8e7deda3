// Package jpql 解析 select/update/delete 查询语句
package jpql

import (
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
)

// Kind 语句种类
type Kind int

const (
	KindSelect Kind = iota
	KindUpdate
	KindDelete
)

// JoinClause 语句中的 join，Path 是相对根实体的关联路径
type JoinClause struct {
	Path  string
	Alias string
	Kind  plan.JoinKind
	Fetch bool
}

// Statement 解析后的语句，字段路径都已经去掉别名，相对根实体
type Statement struct {
	Text   string
	Kind   Kind
	Entity string
	Alias  string

	// select count(...)
	Count      bool
	Projection plan.Projection
	Joins      []JoinClause
	Where      query.Node
	OrderBy    plan.Sort

	Assignments []plan.Assignment
}

// FetchPaths join fetch 声明的关联
func (s *Statement) FetchPaths() []string {
	var paths []string
	for _, j := range s.Joins {
		if j.Fetch {
			paths = append(paths, j.Path)
		}
	}
	return paths
}

// Refs 按出现顺序返回所有占位符
func (s *Statement) Refs() []query.Ref {
	refs := query.Refs(s.Where)
	for _, a := range s.Assignments {
		if !a.Value.Bound() {
			refs = append(refs, a.Value)
		}
	}
	return refs
}

// Modification 把 update/delete 语句转换成批量修改
func (s *Statement) Modification() *plan.Modification {
	switch s.Kind {
	case KindUpdate:
		return &plan.Modification{Kind: plan.ModifyUpdate, Assignments: s.Assignments}
	case KindDelete:
		return &plan.Modification{Kind: plan.ModifyDelete}
	}
	return nil
}
