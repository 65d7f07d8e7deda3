// Package fetch 合并实体默认图、命名图和调用方指定的关联，得到抓取计划
package fetch

import (
	"sync"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

var ErrUnknownGraph = errors.New("unknown entity graph")

// Mode 关联的加载方式
type Mode int

const (
	ModeEager Mode = iota
	ModeLazy
)

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "eager", "EAGER":
		*m = ModeEager
	case "lazy", "LAZY":
		*m = ModeLazy
	default:
		return errors.Errorf("unknown fetch mode %q", text)
	}
	return nil
}

type Attribute struct {
	Path string `cfg:"path" validate:"required"`
	Mode Mode   `cfg:"mode"`
}

func Eager(path string) Attribute {
	return Attribute{Path: path, Mode: ModeEager}
}

func Lazy(path string) Attribute {
	return Attribute{Path: path, Mode: ModeLazy}
}

// Graph 命名的实体图
type Graph struct {
	Name       string      `cfg:"name" validate:"required"`
	Entity     string      `cfg:"entity" validate:"required"`
	Attributes []Attribute `cfg:"attributes"`
}

// Hints 调用方指定的抓取提示
type Hints struct {
	Graph      string        `cfg:"graph"`
	Attributes []string      `cfg:"attributes"`
	ReadOnly   bool          `cfg:"readOnly"`
	Lock       plan.LockMode `cfg:"lock"`
}

// Resolver 启动时注册默认图和命名图，之后只读
type Resolver struct {
	reg *schema.Registry

	mu       sync.RWMutex
	defaults map[string][]Attribute
	graphs   map[string]Graph
}

func NewResolver(reg *schema.Registry) *Resolver {
	return &Resolver{
		reg:      reg,
		defaults: map[string][]Attribute{},
		graphs:   map[string]Graph{},
	}
}

// SetDefault 设置实体的默认图
func (r *Resolver) SetDefault(entity string, attrs ...Attribute) error {
	e, err := r.reg.Resolve(entity)
	if err != nil {
		return err
	}
	if err := r.validate(e, attrs); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[entity] = append([]Attribute(nil), attrs...)
	return nil
}

// Register 注册命名图，同名覆盖
func (r *Resolver) Register(g Graph) error {
	e, err := r.reg.Resolve(g.Entity)
	if err != nil {
		return err
	}
	if err := r.validate(e, g.Attributes); err != nil {
		return errors.WithMessagef(err, "graph %s", g.Name)
	}
	g.Attributes = append([]Attribute(nil), g.Attributes...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[g.Name] = g
	return nil
}

func (r *Resolver) validate(e *schema.Entity, attrs []Attribute) error {
	for _, a := range attrs {
		if _, _, err := r.reg.ResolveRelation(e, a.Path); err != nil {
			return err
		}
	}
	return nil
}

// Resolve 按默认图、命名图、调用方属性的顺序合并，后者覆盖前者在同一路径上的加载方式。
// directives 是查询语句中 join fetch 的关联，总是立即加载
func (r *Resolver) Resolve(entity string, hints Hints, directives ...string) (plan.FetchPlan, error) {
	e, err := r.reg.Resolve(entity)
	if err != nil {
		return plan.FetchPlan{}, err
	}

	r.mu.RLock()
	defaults := r.defaults[entity]
	graph, ok := r.graphs[hints.Graph]
	r.mu.RUnlock()

	m := &merger{modes: map[string]Mode{}}
	m.add(defaults...)
	if hints.Graph != "" {
		if !ok {
			return plan.FetchPlan{}, errors.Wrapf(ErrUnknownGraph, "%q", hints.Graph)
		}
		if graph.Entity != entity {
			return plan.FetchPlan{}, errors.Wrapf(errs.ErrTypeMismatch, "graph %s is declared for %s, not %s", graph.Name, graph.Entity, entity)
		}
		m.add(graph.Attributes...)
	}
	for _, path := range hints.Attributes {
		if _, _, err := r.reg.ResolveRelation(e, path); err != nil {
			return plan.FetchPlan{}, err
		}
		m.add(Eager(path))
	}

	paths := m.eager()
	for _, path := range directives {
		if _, _, err := r.reg.ResolveRelation(e, path); err != nil {
			return plan.FetchPlan{}, err
		}
		if !contains(paths, path) {
			paths = append(paths, path)
		}
	}
	return plan.FetchPlan{Paths: paths, ReadOnly: hints.ReadOnly, Lock: hints.Lock}, nil
}

type merger struct {
	order []string
	modes map[string]Mode
}

func (m *merger) add(attrs ...Attribute) {
	for _, a := range attrs {
		if _, ok := m.modes[a.Path]; !ok {
			m.order = append(m.order, a.Path)
		}
		m.modes[a.Path] = a.Mode
	}
}

func (m *merger) eager() []string {
	var paths []string
	for _, path := range m.order {
		if m.modes[path] == ModeEager {
			paths = append(paths, path)
		}
	}
	return paths
}

func contains(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
