package repository

import (
	"context"
	"testing"

	"github.com/hatlonely/repox/cfg"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/method"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/result"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineDerive(t *testing.T) {
	ctx := context.Background()

	Convey("测试直接推导", t, func() {
		e := newEnv()
		e.seed()

		n, err := Affected(e.engine.Derive(ctx, "Member", method.Signature{Name: "countByAge"}, 10))
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 5)

		members, err := All[fixture.Member](e.engine.Derive(ctx, "Member", method.Signature{Name: "findByAgeAndTeamName"}, 10, "teamB"))
		So(err, ShouldBeNil)
		So(usernames(members), ShouldResemble, []string{"member4", "member5"})

		_, err = e.engine.Derive(ctx, "Member", method.Signature{Name: "findByNickname"}, "x")
		So(errors.Is(err, errs.ErrUnknownField), ShouldBeTrue)

		_, err = e.engine.Derive(ctx, "Order", method.Signature{Name: "findByName"}, "x")
		So(errors.Is(err, errs.ErrUnknownEntity), ShouldBeTrue)
	})
}

func TestEngineQuery(t *testing.T) {
	ctx := context.Background()

	Convey("测试一次性查询语句", t, func() {
		e := newEnv()
		e.seed()

		Convey("具名参数", func() {
			members, err := All[fixture.Member](e.engine.Query(ctx, Request{
				Query:  "select m from Member m where m.username = :username",
				Params: map[string]any{"username": "member1"},
			}))
			So(err, ShouldBeNil)
			So(usernames(members), ShouldResemble, []string{"member1"})
		})

		Convey("集合参数", func() {
			members, err := All[fixture.Member](e.engine.Query(ctx, Request{
				Query:  "select m from Member m where m.username in :names",
				Params: map[string]any{"names": []string{"member2", "member5"}},
			}))
			So(err, ShouldBeNil)
			So(usernames(members), ShouldResemble, []string{"member2", "member5"})
		})

		Convey("位置参数", func() {
			members, err := All[fixture.Member](e.engine.Query(ctx, Request{
				Query: "select m from Member m where m.age = ?1 and m.username = ?2",
				Args:  []any{10, "member3"},
			}))
			So(err, ShouldBeNil)
			So(usernames(members), ShouldResemble, []string{"member3"})
		})

		Convey("分页和排序", func() {
			page := plan.PageOf(0, 2)
			r, err := e.engine.Query(ctx, Request{
				Query: "select m from Member m",
				Page:  &page,
				Sort:  plan.Sort{plan.ByDesc("id")},
				Shape: plan.ShapePage,
			})
			So(err, ShouldBeNil)
			p := r.(*result.Page)
			So(p.TotalElements, ShouldEqual, 5)
			So(p.TotalPages(), ShouldEqual, 3)
			members, err := All[fixture.Member](r, nil)
			So(err, ShouldBeNil)
			So(usernames(members), ShouldResemble, []string{"member5", "member4"})
		})

		Convey("多余的参数", func() {
			_, err := e.engine.Query(ctx, Request{
				Query:  "select m from Member m where m.username = :username",
				Params: map[string]any{"username": "member1", "age": 10},
			})
			So(errors.Is(err, errs.ErrUnusedParameter), ShouldBeTrue)
		})

		Convey("位置参数和具名参数分开绑定", func() {
			_, err := e.engine.Query(ctx, Request{
				Query:  "select m from Member m where m.username = ?1",
				Params: map[string]any{"name": "member1"},
			})
			So(errors.Is(err, errs.ErrUnboundParameter), ShouldBeTrue)

			_, err = e.engine.Query(ctx, Request{
				Query: "select m from Member m where m.username = :name",
				Args:  []any{"member1"},
			})
			So(errors.Is(err, errs.ErrUnboundParameter), ShouldBeTrue)

			_, err = e.engine.Query(ctx, Request{
				Query:  "select m from Member m where m.username = ?1",
				Params: map[string]any{"name": "member1"},
				Args:   []any{"member1"},
			})
			So(errors.Is(err, errs.ErrUnusedParameter), ShouldBeTrue)

			_, err = e.engine.Query(ctx, Request{
				Query: "select m from Member m where m.username = ?1",
				Args:  []any{"member1", 10},
			})
			So(errors.Is(err, errs.ErrUnusedParameter), ShouldBeTrue)

			members, err := All[fixture.Member](e.engine.Query(ctx, Request{
				Query:  "select m from Member m where m.age = ?1 and m.username = :name",
				Params: map[string]any{"name": "member4"},
				Args:   []any{10},
			}))
			So(err, ShouldBeNil)
			So(usernames(members), ShouldResemble, []string{"member4"})
		})

		Convey("语法错误", func() {
			_, err := e.engine.Query(ctx, Request{Query: "select from"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewEngineWithOptions(t *testing.T) {
	ctx := context.Background()

	var options Options
	require.NoError(t, cfg.Decode([]byte(`
graphs:
  - name: Member.all
    entity: Member
    attributes:
      - {path: team, mode: eager}
defaults:
  Team:
    - {path: members, mode: lazy}
storage:
  type: Memory
  options:
    data:
      Team:
        - {id: 1, name: teamA}
        - {id: 2, name: teamB}
      Member:
        - {id: 1, username: member1, age: 10, team.id: 1}
        - {id: 2, username: member2, age: 20, team.id: 1}
        - {id: 3, username: member3, age: 30, team.id: 2}
logger:
  level: debug
  output: discard
repositories:
  - entity: Member
    methods:
      - name: findByUsername
        hints:
          graph: Member.all
      - name: findPageByAge
        params:
          - {name: age}
          - {name: pageable, kind: page}
      - name: findOlder
        query: "select m from Member m where m.age > :age order by m.age desc"
      - name: bulkAgePlus
        query: "update Member m set m.age = m.age + 1 where m.age >= :age"
      - name: findLockByUsername
        returns: single
        hints:
          lock: pessimisticWrite
          readOnly: true
  - entity: Team
`), cfg.FormatYAML, &options))
	require.NoError(t, cfg.Validate(&options))

	e, err := NewEngineWithOptions(&options,
		schema.MustFromStruct(fixture.Member{}),
		schema.MustFromStruct(fixture.Team{}),
	)
	require.NoError(t, err)
	defer e.Close()

	members, err := e.Repository("Member")
	require.NoError(t, err)
	assert.Equal(t, []string{"bulkAgePlus", "findByUsername", "findLockByUsername", "findOlder", "findPageByAge"}, members.Methods())

	found, err := All[fixture.Member](members.Invoke(ctx, "findByUsername", "member3"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "teamB", found[0].Team.Name)

	r, err := members.Invoke(ctx, "findPageByAge", 10, plan.PageOf(0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.(*result.Page).TotalElements)

	older, err := All[fixture.Member](members.Invoke(ctx, "findOlder", 15))
	require.NoError(t, err)
	assert.Equal(t, []string{"member3", "member2"}, usernames(older))

	n, err := Affected(members.Invoke(ctx, "bulkAgePlus", 20))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	tpl, ok := members.Template("findLockByUsername")
	require.True(t, ok)
	assert.Equal(t, plan.LockPessimisticWrite, tpl.Fetch.Lock)
	assert.True(t, tpl.Fetch.ReadOnly)
	m, ok, err := One[fixture.Member](members.Invoke(ctx, "findLockByUsername", "member2"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21, m.Age)

	teams, err := e.Repository("Team")
	require.NoError(t, err)
	cnt, err := teams.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cnt)

	_, err = NewEngineWithOptions(&Options{})
	assert.Error(t, err)
}
