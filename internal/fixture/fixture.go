// Package fixture 测试共用的 Member/Team/Item 实体和数据
package fixture

import (
	"github.com/hatlonely/repox/schema"
)

type Team struct {
	ID      int64     `rdb:"id,primary"`
	Name    string    `rdb:"name"`
	Members []*Member `rdb:",mappedBy=team"`
}

type Member struct {
	ID       int64  `rdb:"id,primary"`
	Username string `rdb:"username"`
	Age      int    `rdb:"age"`
	Team     *Team  `rdb:"team_id"`
}

type Item struct {
	ID   string `rdb:"id,primary"`
	Name string `rdb:"name"`
}

type MemberDto struct {
	ID       int64
	Username string
	TeamName string
}

// Registry 注册 Member、Team、Item 并 Seal
func Registry() *schema.Registry {
	reg := schema.NewRegistry()
	reg.MustRegister(
		schema.MustFromStruct(Member{}),
		schema.MustFromStruct(Team{}),
		schema.MustFromStruct(Item{}),
	)
	if err := reg.Seal(); err != nil {
		panic(err)
	}
	return reg
}

// MemberRow teamID 为 0 表示没有球队
func MemberRow(id int64, username string, age int, teamID int64) map[string]any {
	row := map[string]any{"id": id, "username": username, "age": age, "team.id": nil}
	if teamID != 0 {
		row["team.id"] = teamID
	}
	return row
}

func TeamRow(id int64, name string) map[string]any {
	return map[string]any{"id": id, "name": name}
}

// Teams teamA, teamB
func Teams() []map[string]any {
	return []map[string]any{TeamRow(1, "teamA"), TeamRow(2, "teamB")}
}

// Members 5 个 10 岁的成员，member1..member3 属于 teamA，其余属于 teamB
func Members() []map[string]any {
	return []map[string]any{
		MemberRow(1, "member1", 10, 1),
		MemberRow(2, "member2", 10, 1),
		MemberRow(3, "member3", 10, 1),
		MemberRow(4, "member4", 10, 2),
		MemberRow(5, "member5", 10, 2),
	}
}

// BulkMembers 批量修改用的年龄分布 10, 19, 20, 21, 40
func BulkMembers() []map[string]any {
	return []map[string]any{
		MemberRow(1, "member1", 10, 0),
		MemberRow(2, "member2", 19, 0),
		MemberRow(3, "member3", 20, 0),
		MemberRow(4, "member4", 21, 0),
		MemberRow(5, "member5", 40, 0),
	}
}
