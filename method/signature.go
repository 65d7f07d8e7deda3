// Package method 从方法名推导查询：find/count/delete + By + 条件 + OrderBy
package method

import (
	"strings"

	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
)

// ReturnKind 方法声明的返回类型
type ReturnKind int

const (
	ReturnUnspecified ReturnKind = iota
	ReturnSequence
	ReturnSingle
	ReturnOptional
	ReturnPage
	ReturnSlice
	ReturnCount
)

func (k *ReturnKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "":
		*k = ReturnUnspecified
	case "sequence", "list":
		*k = ReturnSequence
	case "single":
		*k = ReturnSingle
	case "optional":
		*k = ReturnOptional
	case "page":
		*k = ReturnPage
	case "slice":
		*k = ReturnSlice
	case "count":
		*k = ReturnCount
	default:
		return errors.Errorf("unknown return kind %q", text)
	}
	return nil
}

// Signature 查询方法签名。Params 为空时按方法名推断参数
type Signature struct {
	Name    string
	Params  []plan.Param
	Returns ReturnKind
}

// Subject 方法名的动作前缀
type Subject int

const (
	SubjectFind Subject = iota
	SubjectCount
	SubjectDelete
)

// Declaration 方法名解析的结果
type Declaration struct {
	Entity    string
	Subject   Subject
	Predicate query.Node
	Sort      plan.Sort
	Shape     plan.ResultShape
	Params    []plan.Param
}

// Delete 是否是批量删除
func (d *Declaration) Delete() bool {
	return d.Subject == SubjectDelete
}

// ShapeFor 显式查询语句没有形态关键字，只能按返回类型推断
func ShapeFor(returns ReturnKind) plan.ResultShape {
	switch returns {
	case ReturnSingle:
		return plan.ShapeSingle
	case ReturnOptional:
		return plan.ShapeSingleOptional
	case ReturnPage:
		return plan.ShapePage
	case ReturnSlice:
		return plan.ShapeSlice
	case ReturnCount:
		return plan.ShapeCount
	}
	return plan.ShapeManyList
}
