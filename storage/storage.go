// Package storage 执行查询计划的存储后端
package storage

import (
	"context"

	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/ref"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// Row 一行结果，按字段路径索引
//
// 根实体的标量字段直接用字段名，to-one 关联的字段用 relation.field，
// 外键总是以 relation.<目标主键> 出现。抓取的 to-many 关联以 []Row 放在关联名下
type Row map[string]any

// Get 按路径取值，路径不存在时返回 false
func (r Row) Get(path string) (any, bool) {
	v, ok := r[path]
	return v, ok
}

// Clone 浅拷贝
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Storage 执行已绑定的查询计划
type Storage interface {
	// Execute 执行查询，返回按排序、offset、limit 处理之后的行
	Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error)
	// ExecuteCount 返回满足谓词的总行数，忽略 offset、limit、sort
	ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error)
	// ExecuteModification 执行批量修改，返回影响的行数
	ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error)
}

// Writer 支持插入的存储
type Writer interface {
	// Insert 插入一行，返回主键。行中没有主键时由存储生成
	Insert(ctx context.Context, entity *schema.Entity, row Row) (any, error)
}

// attachable 按名字创建的后端在创建之后才拿到实体注册表
type attachable interface {
	attach(reg *schema.Registry) error
}

func register() {
	ref.MustRegister("storage", "Memory", NewMemoryWithOptions)
	ref.MustRegister("storage", "SQL", NewSQLWithOptions)
	ref.MustRegister("storage", "Gorm", NewGormWithOptions)
	ref.MustRegister("storage", "Bun", NewBunWithOptions)
	ref.MustRegister("storage", "Mongo", NewMongoWithOptions)
	ref.MustRegister("storage", "ES", NewESWithOptions)
	ref.MustRegister("storage", "Observable", NewObservableWithOptions)
}

// NewStorageWithOptions 按类型名创建存储，类型名不区分命名空间
func NewStorageWithOptions(reg *schema.Registry, options *ref.TypeOptions) (Storage, error) {
	if options == nil {
		return nil, errors.New("storage options cannot be nil")
	}
	register()

	typeOptions := *options
	if typeOptions.Namespace == "" {
		typeOptions.Namespace = "storage"
	}
	s, err := ref.NewWithTypeOptions[Storage](&typeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithTypeOptions failed")
	}
	if a, ok := s.(attachable); ok {
		if err := a.attach(reg); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close 关闭存储持有的连接
func Close(s Storage) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
