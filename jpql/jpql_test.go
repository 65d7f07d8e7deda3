package jpql

import (
	"testing"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTokenize(t *testing.T) {
	Convey("测试词法分析", t, func() {
		tokens, err := tokenize("select m from Member m where m.age >= :age and m.username <> 'it\\'s' or m.id = ?1 ")
		So(err, ShouldBeNil)
		var codes []int
		for _, tk := range tokens {
			codes = append(codes, tk.code)
		}
		So(codes, ShouldResemble, []int{
			identifierToken, identifierToken, identifierToken, identifierToken, identifierToken, identifierToken,
			identifierToken, comparisonToken, namedToken, identifierToken,
			identifierToken, comparisonToken, stringToken, identifierToken,
			identifierToken, comparisonToken, positionalToken,
		})
		So(tokens[7].text, ShouldEqual, ">=")
		So(tokens[12].text, ShouldEqual, `'it\'s'`)

		_, err = tokenize("select m from Member m where m.age # 1")
		So(errors.Is(err, errs.ErrMalformedQuery), ShouldBeTrue)
	})
}

func TestParseSelect(t *testing.T) {
	Convey("测试 select 语句", t, func() {
		Convey("实体查询", func() {
			stmt, err := Parse("select m from Member m where m.username = :username and m.age = :age")
			So(err, ShouldBeNil)
			So(stmt.Kind, ShouldEqual, KindSelect)
			So(stmt.Entity, ShouldEqual, "Member")
			So(stmt.Alias, ShouldEqual, "m")
			So(stmt.Projection, ShouldResemble, plan.Projection{Kind: plan.ProjectEntity})
			So(stmt.Where, ShouldResemble, &query.And{Nodes: []query.Node{
				&query.Comparison{Field: "username", Operator: query.OpEq, Values: []query.Ref{query.Named("username")}},
				&query.Comparison{Field: "age", Operator: query.OpEq, Values: []query.Ref{query.Named("age")}},
			}})
			So(stmt.Refs(), ShouldResemble, []query.Ref{query.Named("username"), query.Named("age")})
		})

		Convey("标量投影", func() {
			stmt, err := Parse("select m.username from Member m")
			So(err, ShouldBeNil)
			So(stmt.Projection, ShouldResemble, plan.Projection{Kind: plan.ProjectScalar, Paths: []string{"username"}})
			So(stmt.Where, ShouldBeNil)
		})

		Convey("构造器投影", func() {
			stmt, err := Parse("select new study.datajpa.dto.MemberDto(m.id, m.username, t.name) from Member m join m.team t")
			So(err, ShouldBeNil)
			So(stmt.Projection, ShouldResemble, plan.Projection{
				Kind:   plan.ProjectConstructor,
				Target: "MemberDto",
				Paths:  []string{"id", "username", "team.name"},
			})
			So(stmt.Joins, ShouldResemble, []JoinClause{{Path: "team", Alias: "t", Kind: plan.JoinInner}})
			So(stmt.FetchPaths(), ShouldBeEmpty)
		})

		Convey("join fetch", func() {
			stmt, err := Parse("select m from Member m left join fetch m.team t order by t.name desc, m.age")
			So(err, ShouldBeNil)
			So(stmt.Joins, ShouldResemble, []JoinClause{{Path: "team", Alias: "t", Kind: plan.JoinLeft, Fetch: true}})
			So(stmt.FetchPaths(), ShouldResemble, []string{"team"})
			So(stmt.OrderBy, ShouldResemble, plan.Sort{plan.ByDesc("team.name"), plan.By("age")})
		})

		Convey("in 和 优先级", func() {
			stmt, err := Parse("select m from Member m where m.username in :names or m.age between 10 and 20 and m.team.name is not null")
			So(err, ShouldBeNil)
			So(stmt.Where, ShouldResemble, &query.Or{Nodes: []query.Node{
				&query.In{Field: "username", Values: query.Named("names")},
				&query.And{Nodes: []query.Node{
					&query.Comparison{Field: "age", Operator: query.OpBetween, Values: []query.Ref{query.Value(int64(10)), query.Value(int64(20))}},
					&query.Comparison{Field: "team.name", Operator: query.OpIsNotNull, Values: []query.Ref{}},
				}},
			}})

			stmt, err = Parse("select m from Member m where (m.age = 1 or m.age = 2) and m.username not like 'a%' and m.id in (1, 2)")
			So(err, ShouldBeNil)
			and := stmt.Where.(*query.And)
			So(len(and.Nodes), ShouldEqual, 3)
			So(and.Nodes[0].Type(), ShouldEqual, query.NodeTypeOr)
			So(and.Nodes[1], ShouldResemble, &query.Comparison{Field: "username", Operator: query.OpNotLike, Values: []query.Ref{query.Value("a%")}})
			So(and.Nodes[2], ShouldResemble, &query.In{Field: "id", Values: query.Value([]any{int64(1), int64(2)})})
		})

		Convey("计数", func() {
			stmt, err := Parse("SELECT COUNT(m.username) FROM Member m")
			So(err, ShouldBeNil)
			So(stmt.Count, ShouldBeTrue)
		})

		Convey("位置参数和负数", func() {
			stmt, err := Parse("select m from Member m where m.username = ?1 and m.age > -5")
			So(err, ShouldBeNil)
			So(stmt.Refs(), ShouldResemble, []query.Ref{query.Positional(0)})
			and := stmt.Where.(*query.And)
			So(and.Nodes[1], ShouldResemble, &query.Comparison{Field: "age", Operator: query.OpGt, Values: []query.Ref{query.Value(int64(-5))}})
		})
	})
}

func TestParseModification(t *testing.T) {
	Convey("测试 update 和 delete 语句", t, func() {
		stmt, err := Parse("update Member m set m.age = m.age + 1 where m.age >= :age")
		So(err, ShouldBeNil)
		So(stmt.Kind, ShouldEqual, KindUpdate)
		So(stmt.Modification(), ShouldResemble, &plan.Modification{
			Kind:        plan.ModifyUpdate,
			Assignments: []plan.Assignment{{Field: "age", Source: "age", Operator: "+", Value: query.Value(int64(1))}},
		})
		So(stmt.Where, ShouldResemble, &query.Comparison{Field: "age", Operator: query.OpGte, Values: []query.Ref{query.Named("age")}})

		stmt, err = Parse("update Member m set m.username = :name, m.age = 0 where m.id = :id")
		So(err, ShouldBeNil)
		So(stmt.Refs(), ShouldResemble, []query.Ref{query.Named("id"), query.Named("name")})

		stmt, err = Parse("delete from Member m where m.age > 30")
		So(err, ShouldBeNil)
		So(stmt.Modification(), ShouldResemble, &plan.Modification{Kind: plan.ModifyDelete})
	})
}

func TestParseError(t *testing.T) {
	Convey("测试语法错误", t, func() {
		for _, text := range []string{
			"",
			"select from Member m",
			"select m from Member m where",
			"select m from Member m where m.age",
			"select m from Member m where m.age = ",
			"select m from Member m where x.age = 1",
			"select m from Member m join fetch",
			"select m from Member m order m.age",
			"update Member m set m.age + 1",
			"select m from Member m where m.age in (:a)",
			"select m from Member m extra",
			"insert into Member values (1)",
		} {
			_, err := Parse(text)
			So(errors.Is(err, errs.ErrMalformedQuery), ShouldBeTrue)
		}
	})
}

func TestBind(t *testing.T) {
	Convey("测试参数绑定", t, func() {
		stmt := MustParse("select m from Member m where m.username = :username and m.age = :age")

		Convey("绑定成功", func() {
			bound, err := Bind(stmt, query.Args{Named: map[string]any{"username": "AAA", "age": 10}})
			So(err, ShouldBeNil)
			So(query.Refs(bound.Where), ShouldBeEmpty)
			So(query.Refs(stmt.Where), ShouldHaveLength, 2)
		})

		Convey("缺少参数", func() {
			_, err := Bind(stmt, query.Args{Named: map[string]any{"username": "AAA"}})
			So(errors.Is(err, errs.ErrUnboundParameter), ShouldBeTrue)
		})

		Convey("多余参数", func() {
			_, err := Bind(stmt, query.Args{Named: map[string]any{"username": "AAA", "age": 10, "team": "A"}})
			So(errors.Is(err, errs.ErrUnusedParameter), ShouldBeTrue)

			_, err = BindLenient(stmt, query.Args{Named: map[string]any{"username": "AAA", "age": 10, "team": "A"}})
			So(err, ShouldBeNil)
		})

		Convey("更新语句绑定赋值", func() {
			update := MustParse("update Member m set m.username = :name where m.id = :id")
			bound, err := Bind(update, query.Args{Named: map[string]any{"name": "BBB", "id": 1}})
			So(err, ShouldBeNil)
			So(bound.Assignments[0].Value, ShouldResemble, query.Value("BBB"))
			So(update.Assignments[0].Value, ShouldResemble, query.Named("name"))
		})

		Convey("按声明检查", func() {
			So(Check(stmt, []string{"username", "age"}, false), ShouldBeNil)
			So(errors.Is(Check(stmt, []string{"username"}, false), errs.ErrUnboundParameter), ShouldBeTrue)
			So(errors.Is(Check(stmt, []string{"username", "age", "page"}, false), errs.ErrUnusedParameter), ShouldBeTrue)

			count := MustParse("select count(m.username) from Member m")
			So(Check(count, []string{"age"}, true), ShouldBeNil)

			positional := MustParse("select m from Member m where m.username = ?1")
			So(Check(positional, []string{"username"}, false), ShouldBeNil)
			So(errors.Is(Check(positional, nil, false), errs.ErrUnboundParameter), ShouldBeTrue)
		})
	})
}
