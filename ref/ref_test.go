package ref

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type backend struct {
	Name string
}

type backendOptions struct {
	Name string
}

func newBackend(options *backendOptions) (*backend, error) {
	if options.Name == "" {
		return nil, errors.New("name cannot be empty")
	}
	return &backend{Name: options.Name}, nil
}

func newDefaultBackend() *backend {
	return &backend{Name: "default"}
}

type fakeConvertable map[string]string

func (f fakeConvertable) ConvertTo(object any) error {
	o, ok := object.(*backendOptions)
	if !ok {
		return errors.Errorf("unexpected %T", object)
	}
	o.Name = f["name"]
	return nil
}

func TestRegisterAndNew(t *testing.T) {
	Convey("测试注册和创建", t, func() {
		So(Register("test", "Backend", newBackend), ShouldBeNil)
		So(Register("test", "DefaultBackend", newDefaultBackend), ShouldBeNil)

		Convey("重复注册相同函数不报错", func() {
			So(Register("test", "Backend", newBackend), ShouldBeNil)
		})

		Convey("同名不同函数报错", func() {
			So(Register("test", "Backend", newDefaultBackend), ShouldNotBeNil)
		})

		Convey("非函数报错", func() {
			So(Register("test", "Bad", 1), ShouldNotBeNil)
		})

		Convey("通过结构体选项创建", func() {
			obj, err := New("test", "Backend", &backendOptions{Name: "memory"})
			So(err, ShouldBeNil)
			So(obj.(*backend).Name, ShouldEqual, "memory")
		})

		Convey("通过 Convertable 创建", func() {
			obj, err := New("test", "Backend", fakeConvertable{"name": "sql"})
			So(err, ShouldBeNil)
			So(obj.(*backend).Name, ShouldEqual, "sql")
		})

		Convey("构造函数错误透传", func() {
			_, err := New("test", "Backend", &backendOptions{})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "name cannot be empty")
		})

		Convey("无参构造函数", func() {
			obj, err := New("test", "DefaultBackend", nil)
			So(err, ShouldBeNil)
			So(obj.(*backend).Name, ShouldEqual, "default")
		})

		Convey("选项类型不匹配", func() {
			_, err := New("test", "Backend", "memory")
			So(err, ShouldNotBeNil)
		})

		Convey("未注册", func() {
			_, err := New("test", "Missing", nil)
			So(err, ShouldNotBeNil)
		})

		Convey("按 TypeOptions 创建并检查类型", func() {
			b, err := NewWithTypeOptions[*backend](&TypeOptions{Namespace: "test", Type: "DefaultBackend"})
			So(err, ShouldBeNil)
			So(b.Name, ShouldEqual, "default")

			_, err = NewWithTypeOptions[error](&TypeOptions{Namespace: "test", Type: "DefaultBackend"})
			So(err, ShouldNotBeNil)

			_, err = NewWithTypeOptions[*backend](nil)
			So(err, ShouldNotBeNil)
		})
	})
}
