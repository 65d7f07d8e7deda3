package schema

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// ScalarType 标量字段的数据类型
type ScalarType string

const (
	TypeAny    ScalarType = "any"
	TypeString ScalarType = "string"
	TypeInt    ScalarType = "int"
	TypeFloat  ScalarType = "float"
	TypeBool   ScalarType = "bool"
	TypeTime   ScalarType = "time"
)

// Cardinality 关联字段的基数，标量字段为 None
type Cardinality int

const (
	None Cardinality = iota
	ToOne
	ToMany
)

func (c Cardinality) String() string {
	switch c {
	case ToOne:
		return "toOne"
	case ToMany:
		return "toMany"
	}
	return "none"
}

func (c *Cardinality) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*c = None
	case "toone", "to-one", "manytoone", "onetoone":
		*c = ToOne
	case "tomany", "to-many", "onetomany":
		*c = ToMany
	default:
		return errors.Errorf("unknown relation cardinality %q", text)
	}
	return nil
}

// Field 实体字段描述
type Field struct {
	Name   string     `cfg:"name" validate:"required"`
	Column string     `cfg:"column"`
	Type   ScalarType `cfg:"type"`

	// 关联字段
	Relation   Cardinality `cfg:"relation"`
	Target     string      `cfg:"target"`
	JoinColumn string      `cfg:"joinColumn"`
	MappedBy   string      `cfg:"mappedBy"`
}

func (f Field) IsRelation() bool {
	return f.Relation != None
}

// Entity 实体描述，注册之后不可修改
type Entity struct {
	Name   string  `cfg:"name" validate:"required"`
	Table  string  `cfg:"table"`
	ID     string  `cfg:"id" def:"id"`
	Fields []Field `cfg:"fields" validate:"required,dive"`

	index map[string]int
}

// NewEntity 创建实体描述，补全列名等默认值
func NewEntity(name string, table string, id string, fields ...Field) (*Entity, error) {
	e := &Entity{Name: name, Table: table, ID: id, Fields: fields}
	if err := e.normalize(); err != nil {
		return nil, err
	}
	return e, nil
}

func MustNewEntity(name string, table string, id string, fields ...Field) *Entity {
	e, err := NewEntity(name, table, id, fields...)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Entity) clone() *Entity {
	c := &Entity{Name: e.Name, Table: e.Table, ID: e.ID, Fields: make([]Field, len(e.Fields))}
	copy(c.Fields, e.Fields)
	return c
}

func (e *Entity) normalize() error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.Table == "" {
		e.Table = SnakeCase(e.Name)
	}
	if e.ID == "" {
		e.ID = "id"
	}

	e.index = make(map[string]int, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		if f.Name == "" {
			return errors.Errorf("entity %s: field %d has no name", e.Name, i)
		}
		if strings.Contains(f.Name, ".") {
			return errors.Errorf("entity %s: field name %q must not contain '.'", e.Name, f.Name)
		}
		if _, ok := e.index[f.Name]; ok {
			return errors.Errorf("entity %s: duplicate field %q", e.Name, f.Name)
		}
		e.index[f.Name] = i

		switch f.Relation {
		case None:
			if f.Column == "" {
				f.Column = SnakeCase(f.Name)
			}
			if f.Type == "" {
				f.Type = TypeAny
			}
		case ToOne:
			if f.Target == "" {
				return errors.Errorf("entity %s: relation %q has no target", e.Name, f.Name)
			}
			if f.JoinColumn == "" {
				f.JoinColumn = SnakeCase(f.Name) + "_id"
			}
		case ToMany:
			if f.Target == "" {
				return errors.Errorf("entity %s: relation %q has no target", e.Name, f.Name)
			}
			if f.MappedBy == "" {
				f.MappedBy = LowerCamel(e.Name)
			}
		}
	}

	id, ok := e.Field(e.ID)
	if !ok {
		return errors.Errorf("entity %s: id field %q not declared", e.Name, e.ID)
	}
	if id.IsRelation() {
		return errors.Errorf("entity %s: id field %q must be scalar", e.Name, e.ID)
	}
	return nil
}

// Field 按名字精确查找字段
func (e *Entity) Field(name string) (Field, bool) {
	i, ok := e.index[name]
	if !ok {
		return Field{}, false
	}
	return e.Fields[i], true
}

func (e *Entity) IDField() Field {
	f, _ := e.Field(e.ID)
	return f
}

// Scalars 返回所有标量字段，保持声明顺序
func (e *Entity) Scalars() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if !f.IsRelation() {
			fields = append(fields, f)
		}
	}
	return fields
}

// Relations 返回所有关联字段，保持声明顺序
func (e *Entity) Relations() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.IsRelation() {
			fields = append(fields, f)
		}
	}
	return fields
}

// SnakeCase teamName -> team_name, MemberDto -> member_dto
func SnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LowerCamel Username -> username, ID -> id, URLPath -> urlPath
func LowerCamel(s string) string {
	runes := []rune(s)
	for i := range runes {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// UpperCamel username -> Username
func UpperCamel(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
