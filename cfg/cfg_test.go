package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

type mode int

const (
	modeRead mode = iota + 1
	modeWrite
)

func (m *mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "read":
		*m = modeRead
	case "write":
		*m = modeWrite
	default:
		return errors.Errorf("unknown mode %q", text)
	}
	return nil
}

type storeOptions struct {
	Driver  string        `cfg:"driver" def:"sqlite3" validate:"oneof=sqlite3 mysql"`
	DSN     string        `cfg:"dsn" validate:"required"`
	Timeout time.Duration `cfg:"timeout" def:"3s"`
	MaxConn int           `cfg:"maxConn" def:"4"`
}

type appOptions struct {
	Name    string            `cfg:"name" validate:"required"`
	Mode    mode              `cfg:"mode"`
	Debug   bool              `cfg:"debug"`
	Tags    []string          `cfg:"tags" def:"a, b"`
	Store   storeOptions      `cfg:"store"`
	Labels  map[string]string `cfg:"labels"`
	Backend any               `cfg:"backend"`
}

func TestDecode(t *testing.T) {
	Convey("测试多种格式解析", t, func() {
		Convey("yaml", func() {
			var o appOptions
			err := Decode([]byte(`
name: repox
mode: write
debug: true
store:
  driver: mysql
  dsn: "root@tcp(localhost)/test"
  timeout: 500ms
labels:
  env: test
backend:
  type: Memory
`), FormatYAML, &o)
			So(err, ShouldBeNil)
			So(o.Name, ShouldEqual, "repox")
			So(o.Mode, ShouldEqual, modeWrite)
			So(o.Debug, ShouldBeTrue)
			So(o.Tags, ShouldResemble, []string{"a", "b"})
			So(o.Store.Driver, ShouldEqual, "mysql")
			So(o.Store.Timeout, ShouldEqual, 500*time.Millisecond)
			So(o.Store.MaxConn, ShouldEqual, 4)
			So(o.Labels["env"], ShouldEqual, "test")

			tree, ok := o.Backend.(*Tree)
			So(ok, ShouldBeTrue)
			So(tree.Sub("type").Data(), ShouldEqual, "Memory")
		})

		Convey("toml", func() {
			var o appOptions
			err := Decode([]byte(`
name = "repox"
tags = ["x"]

[store]
dsn = ":memory:"
maxConn = 1
`), FormatTOML, &o)
			So(err, ShouldBeNil)
			So(o.Tags, ShouldResemble, []string{"x"})
			So(o.Store.Driver, ShouldEqual, "sqlite3")
			So(o.Store.DSN, ShouldEqual, ":memory:")
			So(o.Store.MaxConn, ShouldEqual, 1)
			So(o.Store.Timeout, ShouldEqual, 3*time.Second)
		})

		Convey("ini", func() {
			var o appOptions
			err := Decode([]byte(`
name = repox
mode = read
debug = true
tags = p, q

[store]
dsn = file::memory:
timeout = 2s
maxConn = 8
`), FormatINI, &o)
			So(err, ShouldBeNil)
			So(o.Mode, ShouldEqual, modeRead)
			So(o.Debug, ShouldBeTrue)
			So(o.Tags, ShouldResemble, []string{"p", "q"})
			So(o.Store.Timeout, ShouldEqual, 2*time.Second)
			So(o.Store.MaxConn, ShouldEqual, 8)
		})

		Convey("json", func() {
			var o appOptions
			err := Decode([]byte(`{"name": "repox", "store": {"dsn": "x", "maxConn": 2}}`), FormatJSON, &o)
			So(err, ShouldBeNil)
			So(o.Store.MaxConn, ShouldEqual, 2)
		})

		Convey("校验失败", func() {
			var o appOptions
			err := Decode([]byte(`name: repox`), FormatYAML, &o)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "DSN")
		})

		Convey("枚举值错误", func() {
			var o appOptions
			err := Decode([]byte("name: repox\nmode: exec\nstore: {dsn: x}"), FormatYAML, &o)
			So(err, ShouldNotBeNil)
		})

		Convey("类型错误", func() {
			var o appOptions
			err := Decode([]byte("name: repox\nstore: {dsn: x, maxConn: many}"), FormatYAML, &o)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: repox\nstore: {dsn: x}\n"), 0644))

	var o appOptions
	require.NoError(t, Load(path, &o))
	require.Equal(t, "repox", o.Name)

	_, err := FormatOf("app.xml")
	require.Error(t, err)

	require.Error(t, Load(filepath.Join(dir, "missing.yaml"), &o))
}

func TestSetDefaults(t *testing.T) {
	Convey("测试默认值", t, func() {
		o := &appOptions{Store: storeOptions{Driver: "mysql"}}
		So(SetDefaults(o), ShouldBeNil)
		So(o.Store.Driver, ShouldEqual, "mysql")
		So(o.Store.MaxConn, ShouldEqual, 4)
		So(o.Store.Timeout, ShouldEqual, 3*time.Second)

		So(SetDefaults(*o), ShouldNotBeNil)
	})
}
