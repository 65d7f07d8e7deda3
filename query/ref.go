package query

import (
	"fmt"
	"reflect"

	"github.com/hatlonely/repox/errs"
	"github.com/pkg/errors"
)

// RefKind 值引用的种类
type RefKind int

const (
	RefValue RefKind = iota
	RefNamed
	RefPositional
)

// Ref 值引用：已绑定的字面值，或者等待绑定的具名/位置参数
type Ref struct {
	Kind     RefKind
	Name     string
	Position int
	Value    any
}

func Value(v any) Ref {
	return Ref{Kind: RefValue, Value: v}
}

func Named(name string) Ref {
	return Ref{Kind: RefNamed, Name: name}
}

// Positional 位置参数，从 0 开始
func Positional(position int) Ref {
	return Ref{Kind: RefPositional, Position: position}
}

func (r Ref) Bound() bool {
	return r.Kind == RefValue
}

func (r Ref) String() string {
	switch r.Kind {
	case RefNamed:
		return ":" + r.Name
	case RefPositional:
		return fmt.Sprintf("?%d", r.Position+1)
	}
	return fmt.Sprintf("%v", r.Value)
}

// Args 一次调用的参数
type Args struct {
	Positional []any
	Named      map[string]any
}

// Lookup 查找引用对应的值
func (a Args) Lookup(r Ref) (any, bool) {
	switch r.Kind {
	case RefValue:
		return r.Value, true
	case RefNamed:
		v, ok := a.Named[r.Name]
		return v, ok
	case RefPositional:
		if r.Position < 0 || r.Position >= len(a.Positional) {
			return nil, false
		}
		return a.Positional[r.Position], true
	}
	return nil, false
}

// Bind 用参数替换谓词中的引用，返回新的谓词树
func Bind(n Node, args Args) (Node, error) {
	switch v := n.(type) {
	case nil:
		return nil, nil
	case *Comparison:
		values := make([]Ref, len(v.Values))
		for i, r := range v.Values {
			value, err := lookup(args, r)
			if err != nil {
				return nil, err
			}
			if IsCollection(value) {
				return nil, errors.Wrapf(errs.ErrTypeMismatch, "%s %s bound to collection %T", v.Field, v.Operator, value)
			}
			values[i] = Value(value)
		}
		return &Comparison{Field: v.Field, Operator: v.Operator, Values: values}, nil
	case *In:
		value, err := lookup(args, v.Values)
		if err != nil {
			return nil, err
		}
		items, ok := Collection(value)
		if !ok {
			return nil, errors.Wrapf(errs.ErrTypeMismatch, "%s in %s bound to scalar %T", v.Field, v.Values, value)
		}
		return &In{Field: v.Field, Values: Value(items)}, nil
	case *And:
		nodes, err := bindAll(v.Nodes, args)
		if err != nil {
			return nil, err
		}
		return &And{Nodes: nodes}, nil
	case *Or:
		nodes, err := bindAll(v.Nodes, args)
		if err != nil {
			return nil, err
		}
		return &Or{Nodes: nodes}, nil
	}
	return nil, errors.Errorf("unknown node type %T", n)
}

func bindAll(nodes []Node, args Args) ([]Node, error) {
	out := make([]Node, len(nodes))
	for i, child := range nodes {
		bound, err := Bind(child, args)
		if err != nil {
			return nil, err
		}
		out[i] = bound
	}
	return out, nil
}

func lookup(args Args, r Ref) (any, error) {
	v, ok := args.Lookup(r)
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnboundParameter, "parameter %s", r)
	}
	return v, nil
}

// IsCollection slice 和 array 视为集合，[]byte 除外
func IsCollection(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return rv.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}

// Collection 把集合展开成 []any
func Collection(v any) ([]any, bool) {
	if !IsCollection(v) {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func boundValue(r Ref) (any, error) {
	if !r.Bound() {
		return nil, errors.Wrapf(errs.ErrUnboundParameter, "parameter %s", r)
	}
	return r.Value, nil
}
