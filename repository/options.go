package repository

import (
	"context"

	"github.com/hatlonely/repox/fetch"
	"github.com/hatlonely/repox/log"
	"github.com/hatlonely/repox/method"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/ref"
	"github.com/hatlonely/repox/result"
	"github.com/hatlonely/repox/schema"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
)

// Options 引擎配置
type Options struct {
	Entities []schema.Entity `cfg:"entities" validate:"dive"`
	Graphs   []fetch.Graph   `cfg:"graphs" validate:"dive"`
	// 实体名 -> 默认图
	Defaults     map[string][]fetch.Attribute `cfg:"defaults"`
	Storage      *ref.TypeOptions             `cfg:"storage" validate:"required"`
	Logger       *log.Options                 `cfg:"logger"`
	Repositories []Definition                 `cfg:"repositories" validate:"dive"`
}

// Method 查询方法声明。Query 为空时从方法名推导
type Method struct {
	Name       string            `cfg:"name" validate:"required"`
	Query      string            `cfg:"query"`
	CountQuery string            `cfg:"countQuery"`
	Params     []plan.Param      `cfg:"params"`
	Returns    method.ReturnKind `cfg:"returns"`
	Hints      fetch.Hints       `cfg:"hints"`
	// 只返回这些字段
	Fields []string `cfg:"fields"`
}

// CustomFunc 自定义方法，优先于同名的声明方法
type CustomFunc func(ctx context.Context, repo *Repository, args ...any) (result.Result, error)

// Definition 一个实体的仓库定义
type Definition struct {
	Entity  string                `cfg:"entity" validate:"required"`
	Methods []Method              `cfg:"methods" validate:"dive"`
	Custom  map[string]CustomFunc `cfg:"-"`
}

// NewEngineWithOptions 按配置创建注册表、抓取图、存储和所有仓库。entities 是代码中声明的实体
func NewEngineWithOptions(options *Options, entities ...*schema.Entity) (*Engine, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	reg, err := schema.NewRegistryWithOptions(&schema.Options{Entities: options.Entities}, entities...)
	if err != nil {
		return nil, errors.WithMessage(err, "schema.NewRegistryWithOptions failed")
	}

	resolver := fetch.NewResolver(reg)
	for _, g := range options.Graphs {
		if err := resolver.Register(g); err != nil {
			return nil, err
		}
	}
	for entity, attrs := range options.Defaults {
		if err := resolver.SetDefault(entity, attrs...); err != nil {
			return nil, errors.WithMessagef(err, "default graph of %s", entity)
		}
	}

	logger := log.Default()
	if options.Logger != nil {
		l, err := log.NewLoggerWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
		}
		logger = l
	}

	s, err := storage.NewStorageWithOptions(reg, options.Storage)
	if err != nil {
		return nil, errors.WithMessage(err, "storage.NewStorageWithOptions failed")
	}

	e, err := NewEngine(reg, resolver, s, WithLogger(logger))
	if err != nil {
		_ = storage.Close(s)
		return nil, err
	}
	for _, def := range options.Repositories {
		if _, err := e.Register(def); err != nil {
			_ = storage.Close(s)
			return nil, err
		}
	}
	return e, nil
}
