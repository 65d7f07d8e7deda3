package result

import (
	"context"
	"time"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/log"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
)

// Assembler 通过 Storage 执行计划，按结果形态组装
type Assembler struct {
	storage storage.Storage
	logger  log.Logger
}

type Option func(*Assembler)

func WithLogger(l log.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

func NewAssembler(s storage.Storage, opts ...Option) *Assembler {
	a := &Assembler{storage: s, logger: log.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Storage 底层存储
func (a *Assembler) Storage() storage.Storage {
	return a.storage
}

func (a *Assembler) Execute(ctx context.Context, p *plan.QueryPlan) (Result, error) {
	start := time.Now()
	r, err := a.execute(ctx, p)
	if err != nil {
		a.logger.DebugContext(ctx, "execute plan failed", "entity", p.Entity, "shape", p.Shape.String(), "error", err)
		return nil, err
	}
	a.logger.DebugContext(ctx, "execute plan", "entity", p.Entity, "shape", p.Shape.String(),
		"joins", len(p.Joins), "offset", p.Offset, "limit", p.Limit, "duration_ms", time.Since(start).Milliseconds())
	return r, nil
}

func (a *Assembler) execute(ctx context.Context, p *plan.QueryPlan) (Result, error) {
	if p.Offset < 0 || p.Limit < 0 {
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "%s: negative offset %d or limit %d", p.Entity, p.Offset, p.Limit)
	}
	if p.IsBulkModification {
		n, err := a.storage.ExecuteModification(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Modified{Rows: n}, nil
	}

	switch p.Shape {
	case plan.ShapeManyList:
		content, err := a.content(ctx, p)
		if err != nil {
			return nil, err
		}
		return &List{Content: content}, nil
	case plan.ShapeSingle:
		v, ok, err := a.unique(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(errs.ErrNoResult, "%s", p.Entity)
		}
		return &Single{Value: v}, nil
	case plan.ShapeSingleOptional:
		v, ok, err := a.unique(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Optional{Value: v, Present: ok}, nil
	case plan.ShapePage:
		return a.page(ctx, p)
	case plan.ShapeSlice:
		return a.slice(ctx, p)
	case plan.ShapeCount:
		n, err := a.storage.ExecuteCount(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Count{Value: n}, nil
	}
	return nil, errors.Errorf("unknown result shape %d", p.Shape)
}

func (a *Assembler) content(ctx context.Context, p *plan.QueryPlan) ([]any, error) {
	rows, err := a.storage.Execute(ctx, p)
	if err != nil {
		return nil, err
	}
	return project(p.Projection, rows), nil
}

// unique 多于一行时返回 ErrNonUniqueResult，没有限制行数时只取两行
func (a *Assembler) unique(ctx context.Context, p *plan.QueryPlan) (any, bool, error) {
	probe := p
	if p.Limit == 0 {
		c := *p
		c.Limit = 2
		probe = &c
	}
	content, err := a.content(ctx, probe)
	if err != nil {
		return nil, false, err
	}
	switch len(content) {
	case 0:
		return nil, false, nil
	case 1:
		return content[0], true, nil
	}
	return nil, false, errors.Wrapf(errs.ErrNonUniqueResult, "%s returned more than one row", p.Entity)
}

// page 先查内容再查总数，有显式计数计划时优先使用
func (a *Assembler) page(ctx context.Context, p *plan.QueryPlan) (*Page, error) {
	content, err := a.content(ctx, p)
	if err != nil {
		return nil, err
	}
	countPlan := p.Count
	if countPlan == nil {
		countPlan = p.Unpaged()
		countPlan.Shape = plan.ShapeCount
	}
	total, err := a.storage.ExecuteCount(ctx, countPlan)
	if err != nil {
		return nil, err
	}
	size := p.Limit
	if size == 0 {
		size = len(content)
	}
	return &Page{Content: content, TotalElements: total, Number: pageNumber(p), Size: size}, nil
}

func (a *Assembler) slice(ctx context.Context, p *plan.QueryPlan) (*Slice, error) {
	if p.Limit == 0 {
		content, err := a.content(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Slice{Content: content, Size: len(content)}, nil
	}
	probe := *p
	probe.Limit = p.Limit + 1
	content, err := a.content(ctx, &probe)
	if err != nil {
		return nil, err
	}
	hasNext := len(content) > p.Limit
	if hasNext {
		content = content[:p.Limit]
	}
	return &Slice{Content: content, Number: pageNumber(p), Size: p.Limit, hasNext: hasNext}, nil
}

func pageNumber(p *plan.QueryPlan) int {
	if p.Limit == 0 {
		return 0
	}
	return p.Offset / p.Limit
}

// project 按投影转换行：实体返回整行，标量返回值，构造器返回 Tuple，字段投影只保留投影路径
func project(projection plan.Projection, rows []storage.Row) []any {
	content := make([]any, 0, len(rows))
	for _, r := range rows {
		switch projection.Kind {
		case plan.ProjectScalar:
			content = append(content, r[projection.Paths[0]])
		case plan.ProjectConstructor:
			values := make([]any, len(projection.Paths))
			for i, path := range projection.Paths {
				values[i] = r[path]
			}
			content = append(content, Tuple{Target: projection.Target, Paths: projection.Paths, Values: values})
		case plan.ProjectFields:
			row := make(storage.Row, len(projection.Paths))
			for _, path := range projection.Paths {
				row[path] = r[path]
			}
			content = append(content, row)
		default:
			content = append(content, r)
		}
	}
	return content
}
