package cfg

import (
	"encoding"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Tree 解析后的配置树，可以按 cfg tag 转换成任意结构体
type Tree struct {
	data any
}

func NewTree(data any) *Tree {
	return &Tree{data: data}
}

func (t *Tree) Data() any {
	return t.data
}

// Sub 按点号分隔的 key 获取子树，不存在时返回空树
func (t *Tree) Sub(key string) *Tree {
	if key == "" {
		return t
	}
	current := t.data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return NewTree(nil)
		}
		current = m[part]
	}
	return NewTree(current)
}

// ConvertTo 将配置树转换成 object 指向的类型
func (t *Tree) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("object must be a non-nil pointer, got %T", object)
	}
	return convertValue(t.data, rv.Elem(), "")
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	timeType            = reflect.TypeOf(time.Time{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func convertValue(src any, dst reflect.Value, path string) error {
	if src == nil {
		return nil
	}
	if tree, ok := src.(*Tree); ok {
		return convertValue(tree.data, dst, path)
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem(), path)
	}

	sv := reflect.ValueOf(src)

	if s, ok := src.(string); ok && dst.CanAddr() && dst.Addr().Type().Implements(textUnmarshalerType) {
		if err := dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return errors.Wrapf(err, "convert %q", path)
		}
		return nil
	}

	switch dst.Type() {
	case durationType:
		return convertDuration(sv, dst, path)
	case timeType:
		return convertTime(sv, dst, path)
	}

	switch dst.Kind() {
	case reflect.Interface:
		if dst.Type().NumMethod() != 0 {
			break
		}
		// 嵌套的配置块保留成 Tree，后续由 ref 转换成具体的选项结构体
		if m, ok := src.(map[string]any); ok {
			dst.Set(reflect.ValueOf(NewTree(m)))
			return nil
		}
		dst.Set(sv)
		return nil
	case reflect.Struct:
		return convertStruct(sv, dst, path)
	case reflect.Map:
		return convertMap(sv, dst, path)
	case reflect.Slice:
		return convertSlice(sv, dst, path)
	}

	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if sv.Kind() == reflect.String {
		return convertString(sv.String(), dst, path)
	}
	if isNumber(sv.Kind()) && isNumber(dst.Kind()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("cannot convert %q from %v to %v", path, sv.Type(), dst.Type())
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// convertString ini 和环境变量只有字符串，需要按目标类型解析
func convertString(s string, dst reflect.Value, path string) error {
	var err error
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(s); err == nil {
			dst.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		if i, err = strconv.ParseInt(s, 0, dst.Type().Bits()); err == nil {
			dst.SetInt(i)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		if u, err = strconv.ParseUint(s, 0, dst.Type().Bits()); err == nil {
			dst.SetUint(u)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(s, dst.Type().Bits()); err == nil {
			dst.SetFloat(f)
		}
	default:
		return errors.Errorf("cannot convert %q from string to %v", path, dst.Type())
	}
	return errors.Wrapf(err, "convert %q", path)
}

func convertDuration(sv reflect.Value, dst reflect.Value, path string) error {
	switch {
	case sv.Kind() == reflect.String:
		d, err := time.ParseDuration(sv.String())
		if err != nil {
			return errors.Wrapf(err, "convert %q", path)
		}
		dst.SetInt(int64(d))
	case sv.CanInt():
		dst.SetInt(sv.Int())
	case sv.CanFloat():
		// 浮点数按秒处理
		dst.SetInt(int64(sv.Float() * float64(time.Second)))
	default:
		return errors.Errorf("cannot convert %q from %v to time.Duration", path, sv.Type())
	}
	return nil
}

func convertTime(sv reflect.Value, dst reflect.Value, path string) error {
	if t, ok := sv.Interface().(time.Time); ok {
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	if sv.Kind() != reflect.String {
		return errors.Errorf("cannot convert %q from %v to time.Time", path, sv.Type())
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, sv.String()); err == nil {
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}
	return errors.Errorf("cannot parse %q as time: %s", path, sv.String())
}

func convertStruct(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %q from %v to struct %v", path, sv.Type(), dst.Type())
	}

	values := map[string]reflect.Value{}
	for _, k := range sv.MapKeys() {
		values[strings.ToLower(k.String())] = sv.MapIndex(k)
	}

	dt := dst.Type()
	for i := 0; i < dt.NumField(); i++ {
		field := dt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("cfg"); tag != "" {
			if tag == "-" {
				continue
			}
			name = strings.Split(tag, ",")[0]
		}
		v, ok := values[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := convertValue(v.Interface(), dst.Field(i), join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func convertMap(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %q from %v to map", path, sv.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	for _, k := range sv.MapKeys() {
		item := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(sv.MapIndex(k).Interface(), item, join(path, k.String())); err != nil {
			return err
		}
		key := reflect.New(dst.Type().Key()).Elem()
		if err := convertValue(k.Interface(), key, path); err != nil {
			return err
		}
		dst.SetMapIndex(key, item)
	}
	return nil
}

func convertSlice(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() == reflect.String {
		// 逗号分隔的列表
		parts := strings.Split(sv.String(), ",")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		sv = reflect.ValueOf(items)
	}
	if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
		return errors.Errorf("cannot convert %q from %v to slice", path, sv.Type())
	}
	out := reflect.MakeSlice(dst.Type(), sv.Len(), sv.Len())
	for i := 0; i < sv.Len(); i++ {
		if err := convertValue(sv.Index(i).Interface(), out.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	dst.Set(out)
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
