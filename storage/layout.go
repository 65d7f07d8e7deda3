package storage

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// column 行中的一个键以及它在表中的位置
type column struct {
	Key      string
	Relation string
	Column   string
	Field    schema.Field
}

// rootColumns 根实体的标量字段，以及每个 to-one 关联的外键
func rootColumns(reg *schema.Registry, e *schema.Entity) ([]column, error) {
	var columns []column
	for _, f := range e.Fields {
		switch f.Relation {
		case schema.None:
			columns = append(columns, column{Key: f.Name, Column: f.Column, Field: f})
		case schema.ToOne:
			target, err := reg.Resolve(f.Target)
			if err != nil {
				return nil, err
			}
			id := target.IDField()
			columns = append(columns, column{Key: f.Name + "." + id.Name, Column: f.JoinColumn, Field: id})
		}
	}
	return columns, nil
}

// relationColumns to-one 关联目标的标量字段，主键已经由外键给出
func relationColumns(reg *schema.Registry, e *schema.Entity, relation string) ([]column, error) {
	f, target, err := reg.ResolveRelation(e, relation)
	if err != nil {
		return nil, err
	}
	if f.Relation != schema.ToOne {
		return nil, errors.Wrapf(errs.ErrUnsupported, "%s.%s is not a to-one relation", e.Name, relation)
	}
	var columns []column
	for _, sf := range target.Scalars() {
		if sf.Name == target.ID {
			continue
		}
		columns = append(columns, column{Key: relation + "." + sf.Name, Relation: relation, Column: sf.Column, Field: sf})
	}
	return columns, nil
}

// resolveColumn 值路径对应的列，关联主键落在根表的外键上
func resolveColumn(reg *schema.Registry, e *schema.Entity, path string) (column, error) {
	p, err := reg.ResolveScalar(e, path)
	if err != nil {
		return column{}, err
	}
	if p.Direct() {
		return column{Key: path, Column: p.Field.Column, Field: p.Field}, nil
	}
	if p.Field.Name == p.Owner.ID {
		return column{Key: path, Column: p.Relation.JoinColumn, Field: p.Field}, nil
	}
	return column{Key: path, Relation: p.Relation.Name, Column: p.Field.Column, Field: p.Field}, nil
}

// outputColumns 计划需要返回的列：实体投影返回根字段、外键和抓取的关联字段，其他投影只返回投影路径
func outputColumns(reg *schema.Registry, e *schema.Entity, p *plan.QueryPlan) ([]column, error) {
	if p.Projection.Kind != plan.ProjectEntity {
		columns := make([]column, 0, len(p.Projection.Paths))
		for _, path := range p.Projection.Paths {
			c, err := resolveColumn(reg, e, path)
			if err != nil {
				return nil, err
			}
			columns = append(columns, c)
		}
		return columns, nil
	}

	columns, err := rootColumns(reg, e)
	if err != nil {
		return nil, err
	}
	for _, j := range p.Joins {
		if !j.Fetch {
			continue
		}
		rc, err := relationColumns(reg, e, j.Path)
		if err != nil {
			return nil, err
		}
		columns = append(columns, rc...)
	}
	return columns, nil
}

// toManyFetches 计划中需要抓取的 to-many 关联
func toManyFetches(reg *schema.Registry, e *schema.Entity, p *plan.QueryPlan) ([]schema.Field, error) {
	if p.Projection.Kind != plan.ProjectEntity {
		return nil, nil
	}
	var fields []schema.Field
	for _, path := range p.Fetch.Paths {
		f, _, err := reg.ResolveRelation(e, path)
		if err != nil {
			return nil, err
		}
		if f.Relation == schema.ToMany {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// normalize 把驱动返回的值转换成字段声明的类型：整数统一为 int64，浮点为 float64
func normalize(f schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch f.Type {
	case schema.TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			return int64(n), nil
		case float32:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(errs.ErrTypeMismatch, "field %s: %q is not an integer", f.Name, n)
			}
			return i, nil
		}
	case schema.TypeFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			x, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, errors.Wrapf(errs.ErrTypeMismatch, "field %s: %q is not a number", f.Name, n)
			}
			return x, nil
		}
	case schema.TypeBool:
		switch n := v.(type) {
		case bool:
			return n, nil
		case int64:
			return n != 0, nil
		case int:
			return n != 0, nil
		case string:
			b, err := strconv.ParseBool(n)
			if err != nil {
				return nil, errors.Wrapf(errs.ErrTypeMismatch, "field %s: %q is not a bool", f.Name, n)
			}
			return b, nil
		}
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case schema.TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				if parsed, err = time.Parse("2006-01-02 15:04:05", t); err != nil {
					return nil, errors.Wrapf(errs.ErrTypeMismatch, "field %s: %q is not a time", f.Name, t)
				}
			}
			return parsed, nil
		}
	}
	return v, nil
}
