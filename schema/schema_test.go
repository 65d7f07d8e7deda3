package schema_test

import (
	"testing"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFromStruct(t *testing.T) {
	Convey("测试从结构体构建实体", t, func() {
		member, err := schema.FromStruct(&fixture.Member{})
		So(err, ShouldBeNil)
		So(member.Name, ShouldEqual, "Member")
		So(member.Table, ShouldEqual, "member")
		So(member.ID, ShouldEqual, "id")
		So(len(member.Fields), ShouldEqual, 4)

		username, ok := member.Field("username")
		So(ok, ShouldBeTrue)
		So(username.Type, ShouldEqual, schema.TypeString)
		So(username.Column, ShouldEqual, "username")

		age, _ := member.Field("age")
		So(age.Type, ShouldEqual, schema.TypeInt)

		team, ok := member.Field("team")
		So(ok, ShouldBeTrue)
		So(team.Relation, ShouldEqual, schema.ToOne)
		So(team.Target, ShouldEqual, "Team")
		So(team.JoinColumn, ShouldEqual, "team_id")

		teamEntity := schema.MustFromStruct(fixture.Team{})
		members, ok := teamEntity.Field("members")
		So(ok, ShouldBeTrue)
		So(members.Relation, ShouldEqual, schema.ToMany)
		So(members.Target, ShouldEqual, "Member")
		So(members.MappedBy, ShouldEqual, "team")

		So(len(member.Scalars()), ShouldEqual, 3)
		So(len(member.Relations()), ShouldEqual, 1)
		So(member.IDField().Name, ShouldEqual, "id")

		_, err = schema.FromStruct(1)
		So(err, ShouldNotBeNil)

		type bad struct {
			ID   int    `rdb:"id,primary"`
			Name string `rdb:"name,unique"`
		}
		_, err = schema.FromStruct(bad{})
		So(err, ShouldNotBeNil)
	})
}

type account struct {
	AccountID int64  `rdb:"account_id,primary"`
	FullName  string `rdb:"full_name"`
}

func (account) TableName() string {
	return "accounts"
}

func TestTableName(t *testing.T) {
	Convey("测试自定义表名和主键", t, func() {
		e, err := schema.FromStruct(account{})
		So(err, ShouldBeNil)
		So(e.Table, ShouldEqual, "accounts")
		So(e.ID, ShouldEqual, "accountID")
		f, _ := e.Field("fullName")
		So(f.Column, ShouldEqual, "full_name")
	})
}

func TestNaming(t *testing.T) {
	Convey("测试命名转换", t, func() {
		So(schema.SnakeCase("teamName"), ShouldEqual, "team_name")
		So(schema.SnakeCase("MemberDto"), ShouldEqual, "member_dto")
		So(schema.SnakeCase("ID"), ShouldEqual, "id")
		So(schema.SnakeCase("URLPath"), ShouldEqual, "url_path")
		So(schema.LowerCamel("Username"), ShouldEqual, "username")
		So(schema.LowerCamel("ID"), ShouldEqual, "id")
		So(schema.LowerCamel("URLPath"), ShouldEqual, "urlPath")
		So(schema.UpperCamel("teamName"), ShouldEqual, "TeamName")
	})
}

func TestRegistry(t *testing.T) {
	Convey("测试注册表", t, func() {
		reg := fixture.Registry()
		So(reg.Sealed(), ShouldBeTrue)
		So(len(reg.Entities()), ShouldEqual, 3)

		Convey("未知实体", func() {
			_, err := reg.Resolve("Order")
			So(errors.Is(err, errs.ErrUnknownEntity), ShouldBeTrue)
		})

		Convey("Seal 之后不能注册", func() {
			err := reg.Register(schema.MustNewEntity("Order", "", "id", schema.Field{Name: "id"}))
			So(errors.Is(err, schema.ErrRegistrySealed), ShouldBeTrue)
		})

		Convey("重复注册", func() {
			r := schema.NewRegistry()
			So(r.Register(schema.MustFromStruct(fixture.Item{})), ShouldBeNil)
			So(r.Register(schema.MustFromStruct(fixture.Item{})), ShouldNotBeNil)
		})

		Convey("关联目标未注册时 Seal 失败", func() {
			r := schema.NewRegistry()
			r.MustRegister(schema.MustFromStruct(fixture.Member{}))
			err := r.Seal()
			So(errors.Is(err, errs.ErrUnknownEntity), ShouldBeTrue)
		})

		Convey("mappedBy 错误时 Seal 失败", func() {
			r := schema.NewRegistry()
			r.MustRegister(
				schema.MustFromStruct(fixture.Member{}),
				schema.MustNewEntity("Team", "team", "id",
					schema.Field{Name: "id", Type: schema.TypeInt},
					schema.Field{Name: "members", Relation: schema.ToMany, Target: "Member", MappedBy: "owner"},
				),
			)
			err := r.Seal()
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
		})

		Convey("注册保存的是副本", func() {
			r := schema.NewRegistry()
			e := schema.MustFromStruct(fixture.Item{})
			r.MustRegister(e)
			e.Fields[1].Name = "title"
			got, err := r.Resolve("Item")
			So(err, ShouldBeNil)
			_, ok := got.Field("name")
			So(ok, ShouldBeTrue)
		})
	})
}

func TestResolvePath(t *testing.T) {
	Convey("测试路径解析", t, func() {
		reg := fixture.Registry()
		member, _ := reg.Resolve("Member")

		Convey("直接字段", func() {
			p, err := reg.ResolvePath(member, "username")
			So(err, ShouldBeNil)
			So(p.Direct(), ShouldBeTrue)
			So(p.String(), ShouldEqual, "username")
		})

		Convey("经过一次 to-one 关联", func() {
			p, err := reg.ResolvePath(member, "team.name")
			So(err, ShouldBeNil)
			So(p.Direct(), ShouldBeFalse)
			So(p.Relation.Name, ShouldEqual, "team")
			So(p.Owner.Name, ShouldEqual, "Team")
			So(p.String(), ShouldEqual, "team.name")
		})

		Convey("大小写敏感", func() {
			_, err := reg.ResolvePath(member, "userName")
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
		})

		Convey("标量不能继续访问", func() {
			_, err := reg.ResolvePath(member, "age.value")
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
		})

		Convey("不能超过一次关联", func() {
			_, err := reg.ResolvePath(member, "team.members.username")
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
		})

		Convey("to-many 关联不能遍历", func() {
			team, _ := reg.Resolve("Team")
			_, err := reg.ResolvePath(team, "members.username")
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
		})

		Convey("值路径不能是关联", func() {
			_, err := reg.ResolveScalar(member, "team")
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
			_, err = reg.ResolveScalar(member, "team.id")
			So(err, ShouldBeNil)
		})

		Convey("抓取路径必须是关联", func() {
			f, target, err := reg.ResolveRelation(member, "team")
			So(err, ShouldBeNil)
			So(f.Relation, ShouldEqual, schema.ToOne)
			So(target.Name, ShouldEqual, "Team")
			_, _, err = reg.ResolveRelation(member, "age")
			So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)
		})
	})
}
