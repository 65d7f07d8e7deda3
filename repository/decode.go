package repository

import (
	"reflect"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/result"
	"github.com/hatlonely/repox/schema"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
)

// All 把结果内容解码成 []T，Single 和 Optional 看作最多一个元素
//
//	members, err := repository.All[Member](repo.Invoke(ctx, "findByUsername", "member1"))
func All[T any](res result.Result, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	var content []any
	switch v := res.(type) {
	case *result.List:
		content = v.Content
	case *result.Page:
		content = v.Content
	case *result.Slice:
		content = v.Content
	case *result.Single:
		content = []any{v.Value}
	case *result.Optional:
		if v.Present {
			content = []any{v.Value}
		}
	default:
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "%s result has no content", res.Shape())
	}
	var out []T
	if err := result.ScanAll(content, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// One 解码 Single 或 Optional 结果，没有结果时返回 false
func One[T any](res result.Result, err error) (T, bool, error) {
	var zero T
	if err != nil {
		return zero, false, err
	}
	var value any
	switch v := res.(type) {
	case *result.Single:
		value = v.Value
	case *result.Optional:
		if !v.Present {
			return zero, false, nil
		}
		value = v.Value
	default:
		return zero, false, errors.Wrapf(errs.ErrTypeMismatch, "expected single result, got %s", res.Shape())
	}
	var out T
	if err := result.Scan(value, &out); err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// Affected Count 和 Modified 结果的行数
func Affected(res result.Result, err error) (int64, error) {
	return count(res, err)
}

// encode 把要保存的值转换成行。to-one 关联写成外键 relation.<目标主键>，to-many 关联忽略，
// 零值主键看作没有设置
func (r *Repository) encode(v any) (storage.Row, error) {
	switch row := v.(type) {
	case storage.Row:
		return row.Clone(), nil
	case map[string]any:
		return storage.Row(row).Clone(), nil
	}

	rv, ok := structValue(v)
	if !ok {
		return nil, errors.Wrapf(errs.ErrTypeMismatch, "cannot save %T as %s", v, r.entity.Name)
	}
	row := storage.Row{}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, ok := schema.FieldName(sf)
		if !ok {
			continue
		}
		f, ok := r.entity.Field(name)
		if !ok {
			continue
		}
		fv := rv.Field(i)

		switch f.Relation {
		case schema.None:
			if f.Name == r.entity.ID && fv.IsZero() {
				continue
			}
			row[f.Name] = fv.Interface()
		case schema.ToOne:
			target, err := r.engine.reg.Resolve(f.Target)
			if err != nil {
				return nil, err
			}
			key := f.Name + "." + target.ID
			row[key] = nil
			if tv, ok := structValue(fv.Interface()); ok {
				if idv, ok := fieldByName(tv, target.ID); ok && !idv.IsZero() {
					row[key] = idv.Interface()
				}
			}
		}
	}
	return row, nil
}

// writeBackID 插入结构体指针时把生成的主键写回
func (r *Repository) writeBackID(v any, id any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil
	}
	fv, ok := fieldByName(rv.Elem(), r.entity.ID)
	if !ok || !fv.IsZero() || !fv.CanSet() {
		return nil
	}
	return result.Scan(id, fv.Addr().Interface())
}

func structValue(v any) (reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, rv.Kind() == reflect.Struct
}

func fieldByName(rv reflect.Value, name string) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		if !rt.Field(i).IsExported() {
			continue
		}
		if n, ok := schema.FieldName(rt.Field(i)); ok && n == name {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}
