package storage

import (
	"context"
	"testing"

	"github.com/hatlonely/repox/compiler"
	"github.com/hatlonely/repox/internal/fixture"
	"github.com/hatlonely/repox/log"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/ref"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObservable(t *testing.T) {
	ctx := context.Background()

	Convey("Observable", t, func() {
		e := newEnv()

		Convey("包装 Memory", func() {
			obs, err := NewObservable(newMemory(e, fixture.Members()), &ObservableOptions{
				Name:          "test_observable_memory",
				Logger:        &log.Options{Output: "discard"},
				EnableMetrics: true,
				EnableLogging: true,
			})
			So(err, ShouldBeNil)

			rows, err := obs.Execute(ctx, e.compile("select m from Member m", nil, compiler.Options{}))
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 5)

			n, err := obs.ExecuteCount(ctx, e.compile("select m from Member m where m.age = :age",
				[]plan.Param{plan.Scalar("age")}, compiler.Options{}, 10))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)

			_, err = obs.Insert(ctx, e.entity("Member"), Row(fixture.MemberRow(1, "dup", 10, 0)))
			So(err, ShouldNotBeNil)

			counter := obs.metrics.operationCounter
			So(testutil.ToFloat64(counter.WithLabelValues("execute", "Member", "success")), ShouldBeGreaterThanOrEqualTo, 1)
			So(testutil.ToFloat64(counter.WithLabelValues("count", "Member", "success")), ShouldBeGreaterThanOrEqualTo, 1)
			So(testutil.ToFloat64(counter.WithLabelValues("insert", "Member", "error")), ShouldBeGreaterThanOrEqualTo, 1)
			So(testutil.ToFloat64(obs.metrics.activeOperations.WithLabelValues("execute")), ShouldEqual, 0)

			So(obs.Unwrap(), ShouldHaveSameTypeAs, &Memory{})
		})

		Convey("按名字创建", func() {
			s, err := NewStorageWithOptions(e.reg, &ref.TypeOptions{
				Type: "Observable",
				Options: &ObservableOptions{
					Name:   "test_observable_named",
					Logger: &log.Options{Output: "discard"},
					Storage: &ref.TypeOptions{
						Type:    "Memory",
						Options: &MemoryOptions{Data: map[string][]map[string]any{"Member": fixture.Members()}},
					},
				},
			})
			So(err, ShouldBeNil)

			n, err := s.ExecuteModification(ctx, e.compile("update Member m set m.age = m.age + 1 where m.age >= :age",
				[]plan.Param{plan.Scalar("age")}, compiler.Options{}, 10))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)
		})

		Convey("缺少底层存储", func() {
			_, err := NewObservableWithOptions(&ObservableOptions{})
			So(err, ShouldNotBeNil)
		})
	})
}
