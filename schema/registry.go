package schema

import (
	"strings"
	"sync"

	"github.com/hatlonely/repox/errs"
	"github.com/pkg/errors"
)

var ErrRegistrySealed = errors.New("registry sealed")

// Registry 实体元数据注册表，启动时填充，Seal 之后只读
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
	sealed   bool
}

func NewRegistry() *Registry {
	return &Registry{entities: map[string]*Entity{}}
}

// Register 注册实体，保存的是副本
func (r *Registry) Register(e *Entity) error {
	if e == nil {
		return errors.New("entity cannot be nil")
	}
	c := e.clone()
	if err := c.normalize(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.Wrapf(ErrRegistrySealed, "register %s", c.Name)
	}
	if _, ok := r.entities[c.Name]; ok {
		return errors.Errorf("entity %s already registered", c.Name)
	}
	r.entities[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

func (r *Registry) MustRegister(entities ...*Entity) {
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

// Seal 校验关联关系完整性，之后不再接受注册
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil
	}
	for _, name := range r.order {
		e := r.entities[name]
		for _, f := range e.Relations() {
			target, ok := r.entities[f.Target]
			if !ok {
				return errors.Wrapf(errs.ErrUnknownEntity, "%s.%s targets %s", e.Name, f.Name, f.Target)
			}
			if f.Relation != ToMany {
				continue
			}
			back, ok := target.Field(f.MappedBy)
			if !ok || back.Relation != ToOne || back.Target != e.Name {
				return errors.Wrapf(errs.ErrUnknownField, "%s.%s mappedBy %s.%s is not a to-one relation to %s",
					e.Name, f.Name, target.Name, f.MappedBy, e.Name)
			}
		}
	}
	r.sealed = true
	return nil
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Resolve 按名字查找实体
func (r *Registry) Resolve(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownEntity, "entity %q", name)
	}
	return e, nil
}

// Entities 按注册顺序返回所有实体
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		entities = append(entities, r.entities[name])
	}
	return entities
}

// Path 解析后的字段路径，最多经过一次关联
type Path struct {
	Root     *Entity
	Relation *Field
	Owner    *Entity
	Field    Field
}

func (p *Path) String() string {
	if p.Relation == nil {
		return p.Field.Name
	}
	return p.Relation.Name + "." + p.Field.Name
}

// Direct 路径是否直接落在根实体上
func (p *Path) Direct() bool {
	return p.Relation == nil
}

// ResolvePath 解析 field 或 relation.field
func (r *Registry) ResolvePath(root *Entity, path string) (*Path, error) {
	parts := strings.Split(path, ".")
	if len(parts) > 2 {
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s: more than one relation hop", root.Name, path)
	}

	f, ok := root.Field(parts[0])
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s", root.Name, parts[0])
	}
	if len(parts) == 1 {
		return &Path{Root: root, Owner: root, Field: f}, nil
	}

	switch f.Relation {
	case None:
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s is not a relation", root.Name, f.Name)
	case ToMany:
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s: to-many relation cannot be traversed", root.Name, f.Name)
	}

	target, err := r.Resolve(f.Target)
	if err != nil {
		return nil, err
	}
	sub, ok := target.Field(parts[1])
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s", target.Name, parts[1])
	}
	if sub.IsRelation() {
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s: more than one relation hop", root.Name, path)
	}
	rel := f
	return &Path{Root: root, Relation: &rel, Owner: target, Field: sub}, nil
}

// ResolveScalar 解析路径并要求落在标量字段上
func (r *Registry) ResolveScalar(root *Entity, path string) (*Path, error) {
	p, err := r.ResolvePath(root, path)
	if err != nil {
		return nil, err
	}
	if p.Field.IsRelation() {
		return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s is a relation, not a value", root.Name, path)
	}
	return p, nil
}

// ResolveRelation 解析关联路径，用于抓取计划
func (r *Registry) ResolveRelation(root *Entity, path string) (Field, *Entity, error) {
	f, ok := root.Field(path)
	if !ok || !f.IsRelation() {
		return Field{}, nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s is not a relation", root.Name, path)
	}
	target, err := r.Resolve(f.Target)
	if err != nil {
		return Field{}, nil, err
	}
	return f, target, nil
}
