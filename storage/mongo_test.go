package storage

import (
	"testing"

	"github.com/hatlonely/repox/compiler"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoPipeline(t *testing.T) {
	Convey("Mongo.pipeline", t, func() {
		e := newEnv()
		m := NewMongo(e.reg, nil)
		member := e.entity("Member")

		Convey("join + match + sort + limit", func() {
			p := e.compile("select m from Member m join m.team t where t.name = :name order by m.username desc",
				[]plan.Param{plan.Scalar("name")}, compiler.Options{}, "teamA")
			p.Offset, p.Limit = 1, 2
			pipeline, err := m.pipeline(member, p)
			So(err, ShouldBeNil)
			So(pipeline, ShouldHaveLength, 6)

			So(pipeline[0][0].Key, ShouldEqual, "$lookup")
			So(pipeline[0][0].Value, ShouldResemble, bson.D{
				{Key: "from", Value: "team"},
				{Key: "localField", Value: "team_id"},
				{Key: "foreignField", Value: "id"},
				{Key: "as", Value: "team"},
			})
			So(pipeline[1][0].Value, ShouldResemble, bson.D{
				{Key: "path", Value: "$team"},
				{Key: "preserveNullAndEmptyArrays", Value: false},
			})
			So(pipeline[2][0].Value, ShouldResemble, map[string]any{"team.name": "teamA"})
			So(pipeline[3][0].Value, ShouldResemble, bson.D{{Key: "username", Value: -1}})
			So(pipeline[4][0].Value, ShouldEqual, int64(1))
			So(pipeline[5][0].Value, ShouldEqual, int64(2))
		})

		Convey("left join fetch 保留空关联", func() {
			p := e.compile("select m from Member m left join fetch m.team", nil, compiler.Options{})
			pipeline, err := m.pipeline(member, p)
			So(err, ShouldBeNil)
			So(pipeline, ShouldHaveLength, 2)
			So(pipeline[1][0].Value.(bson.D)[1].Value, ShouldBeTrue)
		})

		Convey("to-many fetch", func() {
			team := e.entity("Team")
			pipeline, err := m.pipeline(team, e.compile("select t from Team t join fetch t.members", nil, compiler.Options{}))
			So(err, ShouldBeNil)
			So(pipeline, ShouldHaveLength, 1)
			So(pipeline[0][0].Value, ShouldResemble, bson.D{
				{Key: "from", Value: "member"},
				{Key: "localField", Value: "id"},
				{Key: "foreignField", Value: "team_id"},
				{Key: "as", Value: "members"},
			})
		})

		Convey("update", func() {
			p := e.compile("update Member m set m.age = m.age + 1 where m.age >= :age",
				[]plan.Param{plan.Scalar("age")}, compiler.Options{}, 20)
			filter, err := m.modificationFilter(member, p)
			So(err, ShouldBeNil)
			So(filter, ShouldResemble, map[string]any{"age": map[string]any{"$gte": 20}})

			update, err := m.update(member, p.Modification)
			So(err, ShouldBeNil)
			So(update[0][0].Key, ShouldEqual, "$set")
			set := update[0][0].Value.(bson.D)
			So(set[0].Key, ShouldEqual, "age")
			So(set[0].Value.(bson.D)[0].Key, ShouldEqual, "$add")
		})

		Convey("批量修改不能连接", func() {
			p := e.compile("delete from Member m where m.age = :age", []plan.Param{plan.Scalar("age")}, compiler.Options{}, 10)
			p.Joins = []plan.Join{{Path: "team"}}
			_, err := m.modificationFilter(member, p)
			So(errors.Is(err, errs.ErrUnsupported), ShouldBeTrue)
		})
	})
}

func TestDocument(t *testing.T) {
	Convey("document", t, func() {
		doc, ok := document(bson.D{{Key: "name", Value: "teamA"}})
		So(ok, ShouldBeTrue)
		So(doc["name"], ShouldEqual, "teamA")

		doc, ok = document(bson.M{"name": "teamB"})
		So(ok, ShouldBeTrue)
		So(doc["name"], ShouldEqual, "teamB")

		_, ok = document("teamC")
		So(ok, ShouldBeFalse)
	})
}
