package method

import (
	"testing"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func eq(field string, pos int) *query.Comparison {
	return &query.Comparison{Field: field, Operator: query.OpEq, Values: []query.Ref{query.Positional(pos)}}
}

func TestParse(t *testing.T) {
	Convey("测试方法名解析", t, func() {
		reg := fixture.Registry()

		Convey("多个条件用 And 连接", func() {
			decl, err := Parse(reg, "Member", Signature{
				Name:   "findByUsernameAndAgeGreaterThan",
				Params: []plan.Param{plan.Scalar("username"), plan.Scalar("age")},
			})
			So(err, ShouldBeNil)
			So(decl.Entity, ShouldEqual, "Member")
			So(decl.Shape, ShouldEqual, plan.ShapeManyList)
			So(decl.Predicate, ShouldResemble, &query.And{Nodes: []query.Node{
				eq("username", 0),
				&query.Comparison{Field: "age", Operator: query.OpGt, Values: []query.Ref{query.Positional(1)}},
			}})
		})

		Convey("单个条件也包在 And 里", func() {
			decl, err := Parse(reg, "Member", Signature{Name: "findByUsername", Params: []plan.Param{plan.Scalar("username")}})
			So(err, ShouldBeNil)
			So(decl.Predicate, ShouldResemble, &query.And{Nodes: []query.Node{eq("username", 0)}})
		})

		Convey("关联字段", func() {
			decl, err := Parse(reg, "Member", Signature{Name: "findByTeamName", Params: []plan.Param{plan.Scalar("name")}})
			So(err, ShouldBeNil)
			So(decl.Predicate, ShouldResemble, &query.And{Nodes: []query.Node{eq("team.name", 0)}})

			decl, err = Parse(reg, "Member", Signature{Name: "findByTeamIsNull"})
			So(err, ShouldBeNil)
			So(decl.Predicate, ShouldResemble, &query.And{Nodes: []query.Node{
				&query.Comparison{Field: "team.id", Operator: query.OpIsNull, Values: []query.Ref{}},
			}})
			So(len(decl.Params), ShouldEqual, 0)
		})

		Convey("结果形态", func() {
			for _, c := range []struct {
				name    string
				returns ReturnKind
				params  []plan.Param
				shape   plan.ResultShape
			}{
				{"findListByUsername", ReturnUnspecified, []plan.Param{plan.Scalar("username")}, plan.ShapeManyList},
				{"findMemberByUsername", ReturnSingle, []plan.Param{plan.Scalar("username")}, plan.ShapeSingle},
				{"findOptionalByUsername", ReturnOptional, []plan.Param{plan.Scalar("username")}, plan.ShapeSingleOptional},
				{"findByUsername", ReturnOptional, []plan.Param{plan.Scalar("username")}, plan.ShapeSingleOptional},
				{"findPageByAge", ReturnPage, []plan.Param{plan.Scalar("age"), plan.Pageable("page")}, plan.ShapePage},
				{"findSliceByAge", ReturnUnspecified, []plan.Param{plan.Scalar("age"), plan.Pageable("page")}, plan.ShapeSlice},
				{"findByAge", ReturnSlice, []plan.Param{plan.Scalar("age"), plan.Pageable("page")}, plan.ShapeSlice},
				{"countByAge", ReturnUnspecified, []plan.Param{plan.Scalar("age")}, plan.ShapeCount},
			} {
				decl, err := Parse(reg, "Member", Signature{Name: c.name, Params: c.params, Returns: c.returns})
				So(err, ShouldBeNil)
				So(decl.Shape, ShouldEqual, c.shape)
			}

			decl, err := Parse(reg, "Member", Signature{Name: "deleteByAgeGreaterThan", Params: []plan.Param{plan.Scalar("age")}})
			So(err, ShouldBeNil)
			So(decl.Delete(), ShouldBeTrue)
		})

		Convey("分页查询需要分页参数", func() {
			_, err := Parse(reg, "Member", Signature{Name: "findPageByAge", Params: []plan.Param{plan.Scalar("age")}})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)
		})

		Convey("形态关键字和返回类型冲突", func() {
			_, err := Parse(reg, "Member", Signature{Name: "findOptionalByUsername", Params: []plan.Param{plan.Scalar("username")}, Returns: ReturnPage})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)
		})

		Convey("参数个数不匹配", func() {
			_, err := Parse(reg, "Member", Signature{Name: "findByAgeBetween", Params: []plan.Param{plan.Scalar("age")}})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)

			_, err = Parse(reg, "Member", Signature{Name: "findByUsername", Params: []plan.Param{plan.Scalar("username"), plan.Scalar("age")}})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)
		})

		Convey("结尾多余的 And/Or", func() {
			_, err := Parse(reg, "Member", Signature{Name: "findByUsernameAnd", Params: []plan.Param{plan.Scalar("username")}})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)

			_, err = Parse(reg, "Member", Signature{Name: "findByAgeGreaterThanOr", Params: []plan.Param{plan.Scalar("age")}})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)
		})

		Convey("In 需要集合参数", func() {
			_, err := Parse(reg, "Member", Signature{Name: "findByUsernameIn", Params: []plan.Param{plan.Scalar("names")}})
			So(errors.Is(err, errs.ErrTypeMismatch), ShouldBeTrue)

			_, err = Parse(reg, "Member", Signature{Name: "findByUsername", Params: []plan.Param{plan.Collection("names")}})
			So(errors.Is(err, errs.ErrTypeMismatch), ShouldBeTrue)

			decl, err := Parse(reg, "Member", Signature{Name: "findByUsernameIn", Params: []plan.Param{plan.Collection("names")}})
			So(err, ShouldBeNil)
			So(decl.Predicate, ShouldResemble, &query.And{Nodes: []query.Node{
				&query.In{Field: "username", Values: query.Positional(0)},
			}})
		})

		Convey("未知字段", func() {
			_, err := Parse(reg, "Member", Signature{Name: "findByNickname", Params: []plan.Param{plan.Scalar("n")}})
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)

			_, err = Parse(reg, "Member", Signature{Name: "findByUserName", Params: []plan.Param{plan.Scalar("n")}})
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)

			_, err = Parse(reg, "Order", Signature{Name: "findByID"})
			So(errors.Is(err, errs.ErrUnknownEntity), ShouldBeTrue)
		})

		Convey("Or 从左到右折叠", func() {
			decl, err := Parse(reg, "Member", Signature{
				Name:   "findByUsernameOrAgeAndTeamName",
				Params: []plan.Param{plan.Scalar("username"), plan.Scalar("age"), plan.Scalar("teamName")},
			})
			So(err, ShouldBeNil)
			So(decl.Predicate, ShouldResemble, &query.And{Nodes: []query.Node{
				&query.Or{Nodes: []query.Node{eq("username", 0), eq("age", 1)}},
				eq("team.name", 2),
			}})
		})

		Convey("排序", func() {
			decl, err := Parse(reg, "Member", Signature{Name: "findByAgeOrderByUsernameDescTeamName", Params: []plan.Param{plan.Scalar("age")}})
			So(err, ShouldBeNil)
			So(decl.Sort, ShouldResemble, plan.Sort{plan.ByDesc("username"), plan.By("team.name")})

			decl, err = Parse(reg, "Member", Signature{Name: "findAllOrderByAgeDesc"})
			So(err, ShouldBeNil)
			So(decl.Predicate, ShouldBeNil)
			So(decl.Sort, ShouldResemble, plan.Sort{plan.ByDesc("age")})
		})

		Convey("推断参数", func() {
			decl, err := Parse(reg, "Member", Signature{Name: "findPageByAgeBetweenAndUsernameIn"})
			So(err, ShouldBeNil)
			So(decl.Params, ShouldResemble, []plan.Param{
				plan.Scalar("age_from"), plan.Scalar("age_to"), plan.Collection("username"), plan.Pageable("page"),
			})
		})

		Convey("同一个方法名解析两次结果相同", func() {
			sig := Signature{Name: "findByUsernameAndAgeGreaterThan", Params: []plan.Param{plan.Scalar("username"), plan.Scalar("age")}}
			a, err := Parse(reg, "Member", sig)
			So(err, ShouldBeNil)
			b, err := Parse(reg, "Member", sig)
			So(err, ShouldBeNil)
			So(a, ShouldResemble, b)
		})

		Convey("未知前缀", func() {
			_, err := Parse(reg, "Member", Signature{Name: "searchByUsername"})
			So(errors.Is(err, errs.ErrMalformedQueryName), ShouldBeTrue)
		})
	})
}

func TestReturnKind(t *testing.T) {
	Convey("测试返回类型解析", t, func() {
		var k ReturnKind
		So(k.UnmarshalText([]byte("optional")), ShouldBeNil)
		So(k, ShouldEqual, ReturnOptional)
		So(k.UnmarshalText([]byte("future")), ShouldNotBeNil)
	})
}
