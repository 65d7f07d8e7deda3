package fetch

import (
	"testing"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/plan"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestResolve(t *testing.T) {
	Convey("测试抓取计划合并", t, func() {
		reg := fixture.Registry()
		r := NewResolver(reg)
		So(r.Register(Graph{Name: "Member.all", Entity: "Member", Attributes: []Attribute{Eager("team")}}), ShouldBeNil)
		So(r.Register(Graph{Name: "Team.members", Entity: "Team", Attributes: []Attribute{Eager("members")}}), ShouldBeNil)

		Convey("没有任何提示", func() {
			fp, err := r.Resolve("Member", Hints{})
			So(err, ShouldBeNil)
			So(fp.Paths, ShouldBeEmpty)
			So(fp.Lock, ShouldEqual, plan.LockNone)
		})

		Convey("命名图", func() {
			fp, err := r.Resolve("Member", Hints{Graph: "Member.all"})
			So(err, ShouldBeNil)
			So(fp.Paths, ShouldResemble, []string{"team"})
		})

		Convey("调用方覆盖默认图的加载方式", func() {
			So(r.SetDefault("Team", Lazy("members")), ShouldBeNil)
			fp, err := r.Resolve("Team", Hints{})
			So(err, ShouldBeNil)
			So(fp.Paths, ShouldBeEmpty)

			fp, err = r.Resolve("Team", Hints{Graph: "Team.members"})
			So(err, ShouldBeNil)
			So(fp.Paths, ShouldResemble, []string{"members"})
		})

		Convey("多个来源取并集", func() {
			So(r.SetDefault("Member", Eager("team")), ShouldBeNil)
			fp, err := r.Resolve("Member", Hints{Attributes: []string{"team"}, ReadOnly: true, Lock: plan.LockPessimisticWrite})
			So(err, ShouldBeNil)
			So(fp.Paths, ShouldResemble, []string{"team"})
			So(fp.ReadOnly, ShouldBeTrue)
			So(fp.Lock, ShouldEqual, plan.LockPessimisticWrite)
		})

		Convey("join fetch 总是立即加载", func() {
			So(r.SetDefault("Team", Lazy("members")), ShouldBeNil)
			fp, err := r.Resolve("Team", Hints{}, "members")
			So(err, ShouldBeNil)
			So(fp.Paths, ShouldResemble, []string{"members"})
		})

		Convey("错误", func() {
			_, err := r.Resolve("Member", Hints{Graph: "Member.none"})
			So(errors.Is(err, ErrUnknownGraph), ShouldBeTrue)

			_, err = r.Resolve("Member", Hints{Graph: "Team.members"})
			So(errors.Is(err, errs.ErrTypeMismatch), ShouldBeTrue)

			_, err = r.Resolve("Member", Hints{Attributes: []string{"username"}})
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)

			So(errors.Is(r.SetDefault("Member", Eager("age")), errs.ErrUnknownField), ShouldBeTrue)
			So(errors.Is(r.Register(Graph{Name: "x", Entity: "Order"}), errs.ErrUnknownEntity), ShouldBeTrue)
		})
	})
}
