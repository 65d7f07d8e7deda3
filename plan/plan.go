// Package plan 查询计划模型：启动时编译的 Template 和每次调用绑定后的 QueryPlan
package plan

import (
	"fmt"
	"strings"

	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
)

// ResultShape 结果形态
type ResultShape int

const (
	ShapeManyList ResultShape = iota
	ShapeSingle
	ShapeSingleOptional
	ShapePage
	ShapeSlice
	ShapeCount
)

var shapeNames = []string{"list", "single", "optional", "page", "slice", "count"}

func (s ResultShape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

func (s *ResultShape) UnmarshalText(text []byte) error {
	for i, name := range shapeNames {
		if strings.EqualFold(name, string(text)) {
			*s = ResultShape(i)
			return nil
		}
	}
	return errors.Errorf("unknown result shape %q", text)
}

// ProjectionKind 投影种类
type ProjectionKind int

const (
	ProjectEntity ProjectionKind = iota
	ProjectScalar
	ProjectConstructor
	ProjectFields
)

// Projection 结果投影。Scalar 只有一个 Path，Constructor 按位置对应构造参数
type Projection struct {
	Kind   ProjectionKind
	Target string
	Paths  []string
}

// JoinKind 连接方式
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

func (k JoinKind) String() string {
	if k == JoinLeft {
		return "left"
	}
	return "inner"
}

// Join 经过一次关联的连接，Fetch 为 true 时关联数据需要出现在结果中
type Join struct {
	Path  string
	Kind  JoinKind
	Fetch bool
}

// LockMode 悲观锁模式
type LockMode int

const (
	LockNone LockMode = iota
	LockPessimisticRead
	LockPessimisticWrite
)

func (m LockMode) String() string {
	switch m {
	case LockPessimisticRead:
		return "pessimisticRead"
	case LockPessimisticWrite:
		return "pessimisticWrite"
	}
	return "none"
}

func (m *LockMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*m = LockNone
	case "pessimisticread", "pessimistic_read", "read":
		*m = LockPessimisticRead
	case "pessimisticwrite", "pessimistic_write", "write":
		*m = LockPessimisticWrite
	default:
		return errors.Errorf("unknown lock mode %q", text)
	}
	return nil
}

// FetchPlan 需要立即加载的关联，以及只读和锁标记
type FetchPlan struct {
	Paths    []string
	ReadOnly bool
	Lock     LockMode
}

// Has 是否需要立即加载 path
func (f FetchPlan) Has(path string) bool {
	for _, p := range f.Paths {
		if p == path {
			return true
		}
	}
	return false
}

// ModificationKind 批量修改种类
type ModificationKind int

const (
	ModifyUpdate ModificationKind = iota
	ModifyDelete
)

// Assignment field = value 或者 field = source (+|-) value
type Assignment struct {
	Field    string
	Source   string
	Operator string
	Value    query.Ref
}

type Modification struct {
	Kind        ModificationKind
	Assignments []Assignment
}

// QueryPlan 一次调用的完整查询计划，所有引用都已绑定
type QueryPlan struct {
	Entity     string
	Predicate  query.Node
	Sort       Sort
	Shape      ResultShape
	Projection Projection
	Fetch      FetchPlan
	Joins      []Join
	Offset     int
	Limit      int

	IsBulkModification bool
	Modification       *Modification

	// 显式的计数查询，Page 结果优先使用
	Count *QueryPlan
}

// Unpaged 返回去掉 offset、limit、sort 的副本，用于计数
func (p *QueryPlan) Unpaged() *QueryPlan {
	c := *p
	c.Offset = 0
	c.Limit = 0
	c.Sort = nil
	return &c
}

// JoinFor 返回 path 对应的连接
func (p *QueryPlan) JoinFor(path string) (Join, bool) {
	return findJoin(p.Joins, path)
}

func findJoin(joins []Join, path string) (Join, bool) {
	for _, j := range joins {
		if j.Path == path {
			return j, true
		}
	}
	return Join{}, false
}

// ParamKind 参数种类
type ParamKind int

const (
	ParamScalar ParamKind = iota
	ParamCollection
	ParamPage
	ParamSort
)

func (k ParamKind) String() string {
	switch k {
	case ParamCollection:
		return "collection"
	case ParamPage:
		return "page"
	case ParamSort:
		return "sort"
	}
	return "scalar"
}

func (k *ParamKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "scalar":
		*k = ParamScalar
	case "collection":
		*k = ParamCollection
	case "page", "pageable":
		*k = ParamPage
	case "sort":
		*k = ParamSort
	default:
		return errors.Errorf("unknown param kind %q", text)
	}
	return nil
}

// Param 声明的方法参数
type Param struct {
	Name string    `cfg:"name"`
	Kind ParamKind `cfg:"kind"`
}

func Scalar(name string) Param     { return Param{Name: name, Kind: ParamScalar} }
func Collection(name string) Param { return Param{Name: name, Kind: ParamCollection} }
func Pageable(name string) Param   { return Param{Name: name, Kind: ParamPage} }
func Sorting(name string) Param    { return Param{Name: name, Kind: ParamSort} }

// Bindable 是否是绑定到谓词的值参数
func (p Param) Bindable() bool {
	return p.Kind == ParamScalar || p.Kind == ParamCollection
}

// Template 启动时编译好的查询模板，不含任何调用参数
type Template struct {
	Entity     string
	Predicate  query.Node
	Sort       Sort
	Shape      ResultShape
	Projection Projection
	Fetch      FetchPlan
	Joins      []Join

	IsBulkModification bool
	Modification       *Modification

	Params []Param
	// 显式计数查询的模板，只在 Page 形态下使用
	Count *Template
}

// ValueParams 返回绑定到谓词的参数
func (t *Template) ValueParams() []Param {
	var params []Param
	for _, p := range t.Params {
		if p.Bindable() {
			params = append(params, p)
		}
	}
	return params
}

// JoinFor 返回 path 对应的连接
func (t *Template) JoinFor(path string) (Join, bool) {
	return findJoin(t.Joins, path)
}
