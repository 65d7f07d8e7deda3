package query

import (
	"reflect"
	"regexp"
	"time"

	"github.com/hatlonely/repox/errs"
	"github.com/pkg/errors"
)

// Getter 按字段路径取值
type Getter func(field string) (any, bool)

// Eval 在内存中对一行数据求值，谓词必须已经绑定
func Eval(n Node, get Getter) (bool, error) {
	switch v := n.(type) {
	case nil:
		return true, nil
	case *And:
		for _, child := range v.Nodes {
			ok, err := Eval(child, get)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *Or:
		for _, child := range v.Nodes {
			ok, err := Eval(child, get)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *In:
		items, err := inValues(v)
		if err != nil {
			return false, err
		}
		actual, _ := get(v.Field)
		if actual == nil {
			return false, nil
		}
		for _, item := range items {
			c, err := Compare(actual, item)
			if err != nil {
				return false, err
			}
			if c == 0 {
				return true, nil
			}
		}
		return false, nil
	case *Comparison:
		return evalComparison(v, get)
	}
	return false, errors.Errorf("unknown node type %T", n)
}

func evalComparison(q *Comparison, get Getter) (bool, error) {
	values, err := comparisonValues(q)
	if err != nil {
		return false, err
	}
	actual, _ := get(q.Field)

	switch q.Operator {
	case OpIsNull:
		return actual == nil, nil
	case OpIsNotNull:
		return actual != nil, nil
	case OpEq:
		if values[0] == nil {
			return actual == nil, nil
		}
	case OpNe:
		if values[0] == nil {
			return actual != nil, nil
		}
	}
	if actual == nil {
		return false, nil
	}
	for _, v := range values {
		if v == nil {
			return false, nil
		}
	}

	switch q.Operator {
	case OpLike, OpNotLike:
		pattern, err := likeString(q, values[0])
		if err != nil {
			return false, err
		}
		s, ok := actual.(string)
		if !ok {
			return false, errors.Wrapf(errs.ErrTypeMismatch, "%s like on %T", q.Field, actual)
		}
		re, err := regexp.Compile("(?s)" + LikeToRegexp(pattern))
		if err != nil {
			return false, errors.Wrapf(err, "compile like pattern %q", pattern)
		}
		return re.MatchString(s) == (q.Operator == OpLike), nil
	case OpBetween:
		lo, err := Compare(actual, values[0])
		if err != nil {
			return false, err
		}
		hi, err := Compare(actual, values[1])
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil
	}

	c, err := Compare(actual, values[0])
	if err != nil {
		return false, err
	}
	switch q.Operator {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	case OpLt:
		return c < 0, nil
	case OpLte:
		return c <= 0, nil
	}
	return false, errors.Errorf("unsupported operator %s", q.Operator)
}

// Compare 比较两个值，数值统一按 float64 比较
func Compare(a, b any) (int, error) {
	if c, ok := compareIntegers(a, b); ok {
		return c, nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, errors.Wrapf(errs.ErrTypeMismatch, "compare %T with %T", a, b)
		}
		return compareOrdered(af, bf), nil
	}

	switch av := a.(type) {
	case string:
		switch bv := b.(type) {
		case string:
			return compareOrdered(av, bv), nil
		case []byte:
			return compareOrdered(av, string(bv)), nil
		}
	case []byte:
		switch bv := b.(type) {
		case string:
			return compareOrdered(string(av), bv), nil
		case []byte:
			return compareOrdered(string(av), string(bv)), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, nil
			case !av:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	}
	return 0, errors.Wrapf(errs.ErrTypeMismatch, "compare %T with %T", a, b)
}

func compareOrdered[T int | int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareIntegers 两边都是整数时精确比较，超过 2^53 的值转成 float64 会丢精度
func compareIntegers(a, b any) (int, bool) {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	as, au, ok := integer(ra)
	if !ok {
		return 0, false
	}
	bs, bu, ok := integer(rb)
	if !ok {
		return 0, false
	}
	switch {
	case as && bs:
		return compareOrdered(ra.Int(), rb.Int()), true
	case au && bu:
		return compareOrdered(ra.Uint(), rb.Uint()), true
	case as:
		if ra.Int() < 0 {
			return -1, true
		}
		return compareOrdered(uint64(ra.Int()), rb.Uint()), true
	}
	if rb.Int() < 0 {
		return 1, true
	}
	return compareOrdered(ra.Uint(), uint64(rb.Int())), true
}

func integer(rv reflect.Value) (signed bool, unsigned bool, ok bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true, false, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return false, true, true
	}
	return false, false, false
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
