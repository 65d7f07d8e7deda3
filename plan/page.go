package plan

import (
	"strings"

	"github.com/pkg/errors"
)

// Direction 排序方向
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "asc":
		*d = Asc
	case "desc":
		*d = Desc
	default:
		return errors.Errorf("unknown direction %q", text)
	}
	return nil
}

type Order struct {
	Field     string    `cfg:"field"`
	Direction Direction `cfg:"direction"`
}

func By(field string) Order {
	return Order{Field: field, Direction: Asc}
}

func ByDesc(field string) Order {
	return Order{Field: field, Direction: Desc}
}

// Sort 有序的排序字段列表
type Sort []Order

func SortBy(orders ...Order) Sort {
	return Sort(orders)
}

// PageRequest 分页请求，Limit 为 0 表示不分页
type PageRequest struct {
	Offset int  `cfg:"offset"`
	Limit  int  `cfg:"limit"`
	Sort   Sort `cfg:"sort"`
}

// PageOf 第 page 页（从 0 开始），每页 size 条
func PageOf(page int, size int, orders ...Order) PageRequest {
	if page < 0 {
		page = 0
	}
	return PageRequest{Offset: page * size, Limit: size, Sort: orders}
}

// PageNumber 当前页码，从 0 开始
func (p PageRequest) PageNumber() int {
	if p.Limit <= 0 {
		return 0
	}
	return p.Offset / p.Limit
}

// Next 下一页
func (p PageRequest) Next() PageRequest {
	return PageRequest{Offset: p.Offset + p.Limit, Limit: p.Limit, Sort: p.Sort}
}
