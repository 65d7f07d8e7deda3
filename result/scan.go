package result

import (
	"reflect"
	"strings"
	"time"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/schema"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
)

var timeType = reflect.TypeOf(time.Time{})

// Scan 把结果值解码到 dst
//
// storage.Row 按字段名写入结构体，字段名取 rdb 标签的 name 选项或者 Go 字段名的 lowerCamel 形式，
// relation.field 写入嵌套结构体，[]storage.Row 写入结构体切片。Tuple 按位置写入结构体的导出字段。
// 其他值直接赋给 dst 指向的变量
func Scan(value any, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("dst must be a non-nil pointer, got %T", dst)
	}
	return assign(rv.Elem(), value)
}

// ScanAll 把内容依次解码到 dst 指向的切片
func ScanAll(content []any, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return errors.Errorf("dst must be a pointer to slice, got %T", dst)
	}
	slice := reflect.MakeSlice(rv.Elem().Type(), len(content), len(content))
	for i, v := range content {
		if err := assign(slice.Index(i), v); err != nil {
			return errors.WithMessagef(err, "element %d", i)
		}
	}
	rv.Elem().Set(slice)
	return nil
}

func assign(dst reflect.Value, value any) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), value); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch v := value.(type) {
	case storage.Row:
		if dst.Kind() == reflect.Struct && dst.Type() != timeType {
			return scanRow(dst, v)
		}
	case map[string]any:
		if dst.Kind() == reflect.Struct && dst.Type() != timeType {
			return scanRow(dst, storage.Row(v))
		}
	case Tuple:
		if dst.Kind() == reflect.Struct && dst.Type() != timeType {
			return scanTuple(dst, v)
		}
	case []storage.Row:
		if dst.Kind() == reflect.Slice {
			slice := reflect.MakeSlice(dst.Type(), len(v), len(v))
			for i, r := range v {
				if err := assign(slice.Index(i), r); err != nil {
					return err
				}
			}
			dst.Set(slice)
			return nil
		}
	}
	return setValue(dst, value)
}

func scanRow(dst reflect.Value, row storage.Row) error {
	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, ok := schema.FieldName(sf)
		if !ok {
			continue
		}

		if value, ok := row[name]; ok {
			if err := assign(dst.Field(i), value); err != nil {
				return errors.WithMessagef(err, "field %s", sf.Name)
			}
			continue
		}

		// 关联字段由 name.xxx 组成
		nested := storage.Row{}
		present := false
		prefix := name + "."
		for k, v := range row {
			if strings.HasPrefix(k, prefix) {
				nested[strings.TrimPrefix(k, prefix)] = v
				present = present || v != nil
			}
		}
		if !present {
			continue
		}
		if err := assign(dst.Field(i), nested); err != nil {
			return errors.WithMessagef(err, "field %s", sf.Name)
		}
	}
	return nil
}

// scanTuple 第 i 个值写入第 i 个导出字段
func scanTuple(dst reflect.Value, t Tuple) error {
	rt := dst.Type()
	n := 0
	for i := 0; i < rt.NumField() && n < len(t.Values); i++ {
		if !rt.Field(i).IsExported() {
			continue
		}
		if err := assign(dst.Field(i), t.Values[n]); err != nil {
			return errors.WithMessagef(err, "%s field %s", t.Target, rt.Field(i).Name)
		}
		n++
	}
	if n < len(t.Values) {
		return errors.Wrapf(errs.ErrTypeMismatch, "%s has %d values, %s has %d exported fields", t.Target, len(t.Values), rt.Name(), n)
	}
	return nil
}

func setValue(dst reflect.Value, value any) error {
	vv := reflect.ValueOf(value)
	if vv.Type().AssignableTo(dst.Type()) {
		dst.Set(vv)
		return nil
	}
	if isNumber(vv.Kind()) && isNumber(dst.Kind()) || vv.Kind() == reflect.String && dst.Kind() == reflect.String {
		dst.Set(vv.Convert(dst.Type()))
		return nil
	}
	return errors.Wrapf(errs.ErrTypeMismatch, "cannot assign %T to %s", value, dst.Type())
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
