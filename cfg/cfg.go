package cfg

import (
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New()

// Validate 使用 validate tag 校验结构体，非结构体直接通过
func Validate(object any) error {
	rv := reflect.ValueOf(object)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return nil
	}
	if err := validate.Struct(rv.Interface()); err != nil {
		return errors.Wrap(err, "validate config")
	}
	return nil
}

// Decode 解析配置内容并写入 object，依次执行转换、默认值和校验
func Decode(data []byte, format Format, object any) error {
	tree, err := decode(data, format)
	if err != nil {
		return err
	}
	return Apply(NewTree(tree), object)
}

// Apply 把配置树应用到 object 上
func Apply(tree *Tree, object any) error {
	if err := tree.ConvertTo(object); err != nil {
		return err
	}
	if err := SetDefaults(object); err != nil {
		return err
	}
	return Validate(object)
}

// Load 从文件加载配置，格式由扩展名决定
func Load(path string, object any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return errors.WithMessagef(Decode(data, format, object), "load config %s", path)
}
