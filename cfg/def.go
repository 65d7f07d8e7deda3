package cfg

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体的零值字段设置 def tag 指定的默认值
func SetDefaults(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("object must be a non-nil pointer, got %T", object)
	}
	return setDefaults(rv.Elem(), "")
}

func setDefaults(rv reflect.Value, path string) error {
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return setDefaults(rv.Elem(), path)
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := setDefaults(rv.Index(i), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
	default:
		return nil
	}

	rt := rv.Type()
	if rt == timeType {
		return nil
	}
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !field.IsExported() {
			continue
		}

		if err := setDefaults(fv, join(path, field.Name)); err != nil {
			return err
		}

		def, ok := field.Tag.Lookup("def")
		if !ok || !fv.IsZero() {
			continue
		}
		if fv.Kind() == reflect.Ptr {
			fv.Set(reflect.New(fv.Type().Elem()))
			fv = fv.Elem()
		}
		if err := setDefaultValue(fv, def, join(path, field.Name)); err != nil {
			return err
		}
	}
	return nil
}

func setDefaultValue(fv reflect.Value, def string, path string) error {
	var src any = def
	if fv.Kind() == reflect.Slice {
		parts := strings.Split(def, ",")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			items = append(items, strings.TrimSpace(p))
		}
		src = items
	}
	if err := convertValue(src, fv, path); err != nil {
		return errors.WithMessagef(err, "default value of %s", path)
	}
	return nil
}
