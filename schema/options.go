package schema

import (
	"github.com/pkg/errors"
)

// Options 配置文件中声明的实体
type Options struct {
	Entities []Entity `cfg:"entities" validate:"dive"`
}

// NewEntityWithOptions 从配置创建实体描述，options 不会被修改
func NewEntityWithOptions(options *Entity) (*Entity, error) {
	if options == nil {
		return nil, errors.New("entity options cannot be nil")
	}
	e := options.clone()
	if err := e.normalize(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewRegistryWithOptions 注册配置中的实体和 entities，然后 Seal
func NewRegistryWithOptions(options *Options, entities ...*Entity) (*Registry, error) {
	r := NewRegistry()
	if options != nil {
		for i := range options.Entities {
			e, err := NewEntityWithOptions(&options.Entities[i])
			if err != nil {
				return nil, errors.WithMessagef(err, "entities[%d]", i)
			}
			if err := r.Register(e); err != nil {
				return nil, err
			}
		}
	}
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	if err := r.Seal(); err != nil {
		return nil, err
	}
	return r, nil
}
