package schema

import (
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Tabler 自定义表名
type Tabler interface {
	TableName() string
}

var timeType = reflect.TypeOf(time.Time{})

// FromStruct 从结构体构建实体描述
// 支持的 tag 格式：
//   - `rdb:"column,primary,type=int"` 标量字段
//   - `rdb:"team_id,target=Team"` 结构体或结构体指针字段为 to-one 关联，第一个值为外键列
//   - `rdb:",mappedBy=team"` 结构体切片字段为 to-many 关联
//   - `rdb:"-"` 忽略字段
func FromStruct(v any) (*Entity, error) {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return nil, errors.New("expected struct, got nil")
	}
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}

	e := &Entity{Name: rt.Name()}
	if t, ok := reflect.New(rt).Interface().(Tabler); ok {
		e.Table = t.TableName()
	}

	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("rdb")
		if tag == "-" {
			continue
		}

		f, primary, err := parseField(sf, tag)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s.%s", rt.Name(), sf.Name)
		}
		if primary || (e.ID == "" && f.Name == "id") {
			e.ID = f.Name
		}
		e.Fields = append(e.Fields, f)
	}

	if err := e.normalize(); err != nil {
		return nil, err
	}
	return e, nil
}

func MustFromStruct(v any) *Entity {
	e, err := FromStruct(v)
	if err != nil {
		panic(err)
	}
	return e
}

// FieldName 结构体字段对应的实体字段名：rdb tag 的 name 选项，否则是 Go 字段名的 lowerCamel 形式。
// rdb:"-" 返回 false
func FieldName(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("rdb")
	if tag == "-" {
		return "", false
	}
	for _, part := range strings.Split(tag, ",")[1:] {
		if key, value, _ := strings.Cut(strings.TrimSpace(part), "="); key == "name" && value != "" {
			return value, true
		}
	}
	return LowerCamel(sf.Name), true
}

func parseField(sf reflect.StructField, tag string) (Field, bool, error) {
	f := Field{Name: LowerCamel(sf.Name)}
	primary := false

	parts := strings.Split(tag, ",")
	column := strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "primary":
			primary = true
		case "type":
			f.Type = ScalarType(value)
		case "target":
			f.Target = value
		case "join":
			f.JoinColumn = value
		case "mappedBy":
			f.MappedBy = value
		case "name":
			f.Name = value
		case "":
		default:
			return f, false, errors.Errorf("unknown rdb tag option %q", key)
		}
	}

	ft := sf.Type
	for ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}

	switch {
	case ft.Kind() == reflect.Struct && ft != timeType:
		f.Relation = ToOne
		if f.Target == "" {
			f.Target = ft.Name()
		}
		if f.JoinColumn == "" {
			f.JoinColumn = column
		}
	case ft.Kind() == reflect.Slice && isStruct(ft.Elem()):
		f.Relation = ToMany
		if f.Target == "" {
			f.Target = indirect(ft.Elem()).Name()
		}
	default:
		f.Column = column
		if f.Type == "" {
			f.Type = scalarTypeOf(ft)
		}
	}
	return f, primary, nil
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func isStruct(t reflect.Type) bool {
	t = indirect(t)
	return t.Kind() == reflect.Struct && t != timeType
}

func scalarTypeOf(t reflect.Type) ScalarType {
	if t == timeType {
		return TypeTime
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt
	case reflect.Float32, reflect.Float64:
		return TypeFloat
	case reflect.Bool:
		return TypeBool
	}
	return TypeAny
}
