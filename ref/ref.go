package ref

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// TypeOptions 按名字创建对象的配置
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type" validate:"required"`
	Options   any    `cfg:"options"`
}

// Convertable 可以转换成任意选项结构体的配置数据
type Convertable interface {
	ConvertTo(object any) error
}

type constructor struct {
	fn           reflect.Value
	hasOptions   bool
	returnsError bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(fn any) (*constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, errors.New("constructor must be a function")
	}
	t := v.Type()
	if t.NumIn() > 1 {
		return nil, errors.Errorf("constructor must have 0 or 1 input parameters, got %d", t.NumIn())
	}
	if t.NumOut() != 1 && t.NumOut() != 2 {
		return nil, errors.Errorf("constructor must have 1 or 2 return values, got %d", t.NumOut())
	}
	if t.NumOut() == 2 && !t.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be error")
	}
	return &constructor{fn: v, hasOptions: t.NumIn() == 1, returnsError: t.NumOut() == 2}, nil
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.hasOptions {
		arg, err := c.options(options)
		if err != nil {
			return nil, err
		}
		args = []reflect.Value{arg}
	}

	out := c.fn.Call(args)
	if c.returnsError && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// options 把配置转换成构造函数需要的参数类型
func (c *constructor) options(options any) (reflect.Value, error) {
	paramType := c.fn.Type().In(0)

	if options == nil {
		return reflect.Value{}, errors.New("constructor requires options but got nil")
	}

	if convertable, ok := options.(Convertable); ok {
		elemType := paramType
		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		target := reflect.New(elemType)
		if err := convertable.ConvertTo(target.Interface()); err != nil {
			return reflect.Value{}, errors.Wrapf(err, "convert options to %v", paramType)
		}
		if paramType.Kind() == reflect.Ptr {
			return target, nil
		}
		return target.Elem(), nil
	}

	v := reflect.ValueOf(options)
	if !v.Type().AssignableTo(paramType) {
		return reflect.Value{}, errors.Errorf("options type %v is not assignable to %v", v.Type(), paramType)
	}
	return v, nil
}

var constructors sync.Map

func key(namespace, type_ string) string {
	return namespace + ":" + type_
}

// Register 注册构造函数，同名不同函数返回错误
func Register(namespace string, type_ string, fn any) error {
	c, err := newConstructor(fn)
	if err != nil {
		return errors.WithMessagef(err, "register %s:%s", namespace, type_)
	}
	if existing, ok := constructors.Load(key(namespace, type_)); ok {
		if existing.(*constructor).fn.Pointer() == c.fn.Pointer() {
			return nil
		}
		return errors.Errorf("constructor for %s:%s already registered with different function", namespace, type_)
	}
	constructors.Store(key(namespace, type_), c)
	return nil
}

func MustRegister(namespace string, type_ string, fn any) {
	if err := Register(namespace, type_, fn); err != nil {
		panic(err)
	}
}

// New 按名字创建对象
func New(namespace string, type_ string, options any) (any, error) {
	value, ok := constructors.Load(key(namespace, type_))
	if !ok {
		return nil, errors.Errorf("constructor not found for %s:%s", namespace, type_)
	}
	return value.(*constructor).call(options)
}

// NewWithTypeOptions 按 TypeOptions 创建对象，并校验结果类型
func NewWithTypeOptions[T any](options *TypeOptions) (T, error) {
	var zero T
	if options == nil {
		return zero, errors.New("type options cannot be nil")
	}
	obj, err := New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, errors.Errorf("%s:%s created %T, want %T", options.Namespace, options.Type, obj, zero)
	}
	return t, nil
}
