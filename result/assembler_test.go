package result

import (
	"context"
	"testing"

	"github.com/hatlonely/repox/compiler"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/fetch"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/jpql"
	"github.com/hatlonely/repox/method"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/hatlonely/repox/storage"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

// countingStorage 记录每种操作的调用次数
type countingStorage struct {
	storage.Storage
	executes int
	counts   int
}

func (s *countingStorage) Execute(ctx context.Context, p *plan.QueryPlan) ([]storage.Row, error) {
	s.executes++
	return s.Storage.Execute(ctx, p)
}

func (s *countingStorage) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	s.counts++
	return s.Storage.ExecuteCount(ctx, p)
}

type env struct {
	reg     *schema.Registry
	c       *compiler.Compiler
	storage *countingStorage
	a       *Assembler
}

func newEnv(members []map[string]any) *env {
	reg := fixture.Registry()
	m := storage.NewMemory(reg)
	if err := m.Load("Team", fixture.Teams()); err != nil {
		panic(err)
	}
	if err := m.Load("Member", members); err != nil {
		panic(err)
	}
	s := &countingStorage{Storage: m}
	return &env{reg: reg, c: compiler.New(reg, fetch.NewResolver(reg)), storage: s, a: NewAssembler(s)}
}

func (e *env) derive(sig method.Signature, args ...any) *plan.QueryPlan {
	decl, err := method.Parse(e.reg, "Member", sig)
	if err != nil {
		panic(err)
	}
	tpl, err := e.c.FromDeclaration(decl, compiler.Options{})
	if err != nil {
		panic(err)
	}
	p, err := e.c.Compile(tpl, args...)
	if err != nil {
		panic(err)
	}
	return p
}

func (e *env) query(text string, count string, params []plan.Param, shape plan.ResultShape, args ...any) *plan.QueryPlan {
	var countStmt *jpql.Statement
	if count != "" {
		countStmt = jpql.MustParse(count)
	}
	tpl, err := e.c.FromStatement(jpql.MustParse(text), countStmt, params, shape, compiler.Options{})
	if err != nil {
		panic(err)
	}
	p, err := e.c.Compile(tpl, args...)
	if err != nil {
		panic(err)
	}
	return p
}

func TestAssemblerList(t *testing.T) {
	ctx := context.Background()

	Convey("List", t, func() {
		e := newEnv(fixture.Members())
		p := e.derive(method.Signature{Name: "findByUsernameAndAgeGreaterThan"}, "member1", 5)

		r, err := e.a.Execute(ctx, p)
		So(err, ShouldBeNil)
		So(r.Shape(), ShouldEqual, plan.ShapeManyList)
		list := r.(*List)
		So(list.Content, ShouldHaveLength, 1)
		So(list.Content[0].(storage.Row)["username"], ShouldEqual, "member1")

		again, err := e.a.Execute(ctx, p)
		So(err, ShouldBeNil)
		So(again, ShouldResemble, r)
	})
}

func TestAssemblerSingle(t *testing.T) {
	ctx := context.Background()

	Convey("Single / Optional", t, func() {
		e := newEnv(fixture.Members())

		Convey("唯一结果", func() {
			r, err := e.a.Execute(ctx, e.derive(method.Signature{Name: "findMemberByUsername", Returns: method.ReturnSingle}, "member2"))
			So(err, ShouldBeNil)
			So(r.(*Single).Value.(storage.Row)["id"], ShouldEqual, int64(2))
		})

		Convey("没有结果", func() {
			_, err := e.a.Execute(ctx, e.derive(method.Signature{Name: "findMemberByUsername", Returns: method.ReturnSingle}, "nobody"))
			So(errors.Is(err, errs.ErrNoResult), ShouldBeTrue)
		})

		Convey("多于一个结果", func() {
			_, err := e.a.Execute(ctx, e.derive(method.Signature{Name: "findByAge", Returns: method.ReturnSingle}, 10))
			So(errors.Is(err, errs.ErrNonUniqueResult), ShouldBeTrue)

			_, err = e.a.Execute(ctx, e.derive(method.Signature{Name: "findOptionalByAge"}, 10))
			So(errors.Is(err, errs.ErrNonUniqueResult), ShouldBeTrue)
		})

		Convey("Optional", func() {
			r, err := e.a.Execute(ctx, e.derive(method.Signature{Name: "findOptionalByUsername"}, "nobody"))
			So(err, ShouldBeNil)
			So(r.(*Optional).Present, ShouldBeFalse)

			r, err = e.a.Execute(ctx, e.derive(method.Signature{Name: "findOptionalByUsername"}, "member3"))
			So(err, ShouldBeNil)
			So(r.(*Optional).Present, ShouldBeTrue)
			So(r.(*Optional).Value.(storage.Row)["username"], ShouldEqual, "member3")
		})
	})
}

func TestAssemblerPage(t *testing.T) {
	ctx := context.Background()

	Convey("Page / Slice", t, func() {
		e := newEnv(fixture.Members())
		params := []plan.Param{plan.Scalar("age"), plan.Pageable("page")}
		page := plan.PageOf(0, 3, plan.ByDesc("username"))

		Convey("Page 查询总数", func() {
			p := e.query("select m from Member m where m.age = :age", "", params, plan.ShapePage, 10, page)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			result := r.(*Page)
			So(result.Content, ShouldHaveLength, 3)
			So(result.Content[0].(storage.Row)["username"], ShouldEqual, "member5")
			So(result.TotalElements, ShouldEqual, 5)
			So(result.Number, ShouldEqual, 0)
			So(result.TotalPages(), ShouldEqual, 2)
			So(result.IsFirst(), ShouldBeTrue)
			So(result.HasNext(), ShouldBeTrue)
			So(e.storage.executes, ShouldEqual, 1)
			So(e.storage.counts, ShouldEqual, 1)
		})

		Convey("第二页", func() {
			p := e.query("select m from Member m where m.age = :age", "", params, plan.ShapePage, 10, page.Next())
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			result := r.(*Page)
			So(result.Content, ShouldHaveLength, 2)
			So(result.Number, ShouldEqual, 1)
			So(result.IsFirst(), ShouldBeFalse)
			So(result.HasNext(), ShouldBeFalse)
			So(result.IsLast(), ShouldBeTrue)
		})

		Convey("显式计数查询", func() {
			p := e.query("select m from Member m left join m.team t where m.age = :age",
				"select count(m.username) from Member m", params, plan.ShapePage, 10, page)
			So(p.Count, ShouldNotBeNil)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			So(r.(*Page).TotalElements, ShouldEqual, 5)
		})

		Convey("Slice 不查询总数", func() {
			p := e.query("select m from Member m where m.age = :age", "", params, plan.ShapeSlice, 10, page)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			result := r.(*Slice)
			So(result.Content, ShouldHaveLength, 3)
			So(result.HasNext(), ShouldBeTrue)
			So(result.IsFirst(), ShouldBeTrue)
			So(e.storage.executes, ShouldEqual, 1)
			So(e.storage.counts, ShouldEqual, 0)

			p = e.query("select m from Member m where m.age = :age", "", params, plan.ShapeSlice, 10, page.Next())
			r, err = e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			So(r.(*Slice).Content, ShouldHaveLength, 2)
			So(r.(*Slice).HasNext(), ShouldBeFalse)
		})

		Convey("负数的偏移和条数", func() {
			p := e.query("select m from Member m where m.age = :age", "", params, plan.ShapeSlice, 10, page)
			p.Limit = -1
			So(func() { _, err := e.a.Execute(ctx, p); So(errors.Is(err, errs.ErrTypeMismatch), ShouldBeTrue) }, ShouldNotPanic)

			p = e.query("select m from Member m where m.age = :age", "", params, plan.ShapePage, 10, page)
			p.Offset = -3
			So(func() { _, err := e.a.Execute(ctx, p); So(errors.Is(err, errs.ErrTypeMismatch), ShouldBeTrue) }, ShouldNotPanic)
			So(e.storage.executes, ShouldEqual, 0)
		})

		Convey("Page.Map", func() {
			p := e.query("select m from Member m where m.age = :age", "", params, plan.ShapePage, 10, page)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			mapped, err := r.(*Page).Map(func(v any) (any, error) {
				var dto fixture.MemberDto
				err := Scan(v, &dto)
				return dto, err
			})
			So(err, ShouldBeNil)
			So(mapped.TotalElements, ShouldEqual, 5)
			So(mapped.Content[0].(fixture.MemberDto).Username, ShouldEqual, "member5")
		})
	})
}

func TestAssemblerProjection(t *testing.T) {
	ctx := context.Background()

	Convey("投影", t, func() {
		e := newEnv(fixture.Members())

		Convey("标量", func() {
			p := e.query("select m.username from Member m order by m.id", "", nil, plan.ShapeManyList)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			So(r.(*List).Content, ShouldResemble, []any{"member1", "member2", "member3", "member4", "member5"})
		})

		Convey("构造器", func() {
			p := e.query("select new study.datajpa.dto.MemberDto(m.id, m.username, t.name) from Member m join m.team t order by m.id", "", nil, plan.ShapeManyList)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			content := r.(*List).Content
			So(content, ShouldHaveLength, 5)
			tuple := content[0].(Tuple)
			So(tuple.Target, ShouldEqual, "MemberDto")
			So(tuple.Values, ShouldResemble, []any{int64(1), "member1", "teamA"})
			v, ok := tuple.Get("team.name")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, "teamA")

			var dtos []fixture.MemberDto
			So(ScanAll(content, &dtos), ShouldBeNil)
			So(dtos[4], ShouldResemble, fixture.MemberDto{ID: 5, Username: "member5", TeamName: "teamB"})
		})

		Convey("字段投影", func() {
			tpl, err := e.c.FromStatement(jpql.MustParse("select m from Member m where m.username = :username"), nil,
				[]plan.Param{plan.Scalar("username")}, plan.ShapeManyList, compiler.Options{Fields: []string{"username", "team.name"}})
			So(err, ShouldBeNil)
			p, err := e.c.Compile(tpl, "member1")
			So(err, ShouldBeNil)
			r, err := e.a.Execute(ctx, p)
			So(err, ShouldBeNil)
			So(r.(*List).Content, ShouldResemble, []any{storage.Row{"username": "member1", "team.name": "teamA"}})
		})

		Convey("Count", func() {
			r, err := e.a.Execute(ctx, e.derive(method.Signature{Name: "countByAge"}, 10))
			So(err, ShouldBeNil)
			So(r.(*Count).Value, ShouldEqual, 5)
		})
	})
}

func TestAssemblerModification(t *testing.T) {
	ctx := context.Background()

	Convey("批量修改", t, func() {
		e := newEnv(fixture.BulkMembers())

		p := e.query("update Member m set m.age = m.age + 1 where m.age >= :age", "", []plan.Param{plan.Scalar("age")}, plan.ShapeManyList, 20)
		r, err := e.a.Execute(ctx, p)
		So(err, ShouldBeNil)
		So(r.(*Modified).Rows, ShouldEqual, 3)

		r, err = e.a.Execute(ctx, e.query("select m.age from Member m order by m.id", "", nil, plan.ShapeManyList))
		So(err, ShouldBeNil)
		So(r.(*List).Content, ShouldResemble, []any{int64(10), int64(19), int64(21), int64(22), int64(41)})

		r, err = e.a.Execute(ctx, e.derive(method.Signature{Name: "deleteByAgeGreaterThan"}, 20))
		So(err, ShouldBeNil)
		So(r.(*Modified).Rows, ShouldEqual, 3)
	})
}
