// Package result 执行查询计划并按结果形态组装返回值
package result

import (
	"github.com/hatlonely/repox/plan"
)

// Result 查询结果，取值为 *List, *Single, *Optional, *Page, *Slice, *Count, *Modified 之一
type Result interface {
	Shape() plan.ResultShape
	isResult()
}

// Tuple 构造器投影，Values 和 Paths 按位置对应
type Tuple struct {
	Target string
	Paths  []string
	Values []any
}

// Get 按路径取值
func (t Tuple) Get(path string) (any, bool) {
	for i, p := range t.Paths {
		if p == path {
			return t.Values[i], true
		}
	}
	return nil, false
}

type List struct {
	Content []any
}

type Single struct {
	Value any
}

// Optional 没有结果时 Present 为 false
type Optional struct {
	Value   any
	Present bool
}

// Page 带总数的分页结果
type Page struct {
	Content       []any
	TotalElements int64
	Number        int
	Size          int
}

// TotalPages ceil(total / size)，不分页时为 1
func (p *Page) TotalPages() int {
	if p.Size == 0 {
		return 1
	}
	return int((p.TotalElements + int64(p.Size) - 1) / int64(p.Size))
}

func (p *Page) IsFirst() bool {
	return p.Number == 0
}

func (p *Page) IsLast() bool {
	return !p.HasNext()
}

func (p *Page) HasNext() bool {
	if p.Size == 0 {
		return false
	}
	return int64(p.Number+1)*int64(p.Size) < p.TotalElements
}

func (p *Page) HasPrevious() bool {
	return p.Number > 0
}

// Map 转换内容，分页信息不变
func (p *Page) Map(fn func(any) (any, error)) (*Page, error) {
	content, err := mapContent(p.Content, fn)
	if err != nil {
		return nil, err
	}
	return &Page{Content: content, TotalElements: p.TotalElements, Number: p.Number, Size: p.Size}, nil
}

// Slice 不查询总数的分页结果，多取一行判断是否有下一页
type Slice struct {
	Content []any
	Number  int
	Size    int

	hasNext bool
}

func (s *Slice) IsFirst() bool {
	return s.Number == 0
}

func (s *Slice) HasNext() bool {
	return s.hasNext
}

func (s *Slice) Map(fn func(any) (any, error)) (*Slice, error) {
	content, err := mapContent(s.Content, fn)
	if err != nil {
		return nil, err
	}
	return &Slice{Content: content, Number: s.Number, Size: s.Size, hasNext: s.hasNext}, nil
}

type Count struct {
	Value int64
}

// Modified 批量修改影响的行数
type Modified struct {
	Rows int64
}

func (*List) Shape() plan.ResultShape     { return plan.ShapeManyList }
func (*Single) Shape() plan.ResultShape   { return plan.ShapeSingle }
func (*Optional) Shape() plan.ResultShape { return plan.ShapeSingleOptional }
func (*Page) Shape() plan.ResultShape     { return plan.ShapePage }
func (*Slice) Shape() plan.ResultShape    { return plan.ShapeSlice }
func (*Count) Shape() plan.ResultShape    { return plan.ShapeCount }
func (*Modified) Shape() plan.ResultShape { return plan.ShapeCount }

func (*List) isResult()     {}
func (*Single) isResult()   {}
func (*Optional) isResult() {}
func (*Page) isResult()     {}
func (*Slice) isResult()    {}
func (*Count) isResult()    {}
func (*Modified) isResult() {}

func mapContent(content []any, fn func(any) (any, error)) ([]any, error) {
	mapped := make([]any, 0, len(content))
	for _, v := range content {
		m, err := fn(v)
		if err != nil {
			return nil, err
		}
		mapped = append(mapped, m)
	}
	return mapped, nil
}
