package task

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNotifier_Isolation(t *testing.T) {
	Convey("two subscribers receive three updates in order even if one fails", t, func() {
		reg := NewRegistry()
		id := reg.Create("erp_sync", 3, nil)

		var first, second []string
		calls := 0
		reg.Subscribe(id, func(rec *Record) error {
			calls++
			first = append(first, rec.Message)
			if calls == 2 {
				return errors.New("subscriber broke")
			}
			return nil
		})
		reg.Subscribe(id, func(rec *Record) error {
			second = append(second, rec.Message)
			return nil
		})

		reg.UpdateProgress(id, 1, "m1", nil)
		reg.UpdateProgress(id, 2, "m2", nil)
		reg.UpdateProgress(id, 3, "m3", nil)

		So(first, ShouldResemble, []string{"m1", "m2", "m3"})
		So(second, ShouldResemble, []string{"m1", "m2", "m3"})
	})

	Convey("a panicking subscriber does not reach the caller", t, func() {
		reg := NewRegistry()
		id := reg.Create("erp_sync", 1, nil)
		delivered := 0
		reg.Subscribe(id, func(*Record) error { panic("bad subscriber") })
		reg.Subscribe(id, func(*Record) error { delivered++; return nil })

		So(func() { reg.UpdateProgress(id, 1, "x", nil) }, ShouldNotPanic)
		So(delivered, ShouldEqual, 1)
	})
}

func TestNotifier_Unsubscribe(t *testing.T) {
	Convey("unsubscribed callbacks stop receiving updates", t, func() {
		reg := NewRegistry()
		id := reg.Create("erp_sync", 2, nil)
		n := 0
		sub := reg.Subscribe(id, func(*Record) error { n++; return nil })
		reg.UpdateProgress(id, 1, "", nil)
		reg.Unsubscribe(id, sub)
		reg.UpdateProgress(id, 2, "", nil)
		So(n, ShouldEqual, 1)
		So(reg.Notifier().Count(id), ShouldEqual, 0)

		// 未知句柄与未知任务均忽略
		So(func() { reg.Unsubscribe(id, sub); reg.Unsubscribe("missing", 42) }, ShouldNotPanic)
	})

	Convey("subscribers get independent copies", t, func() {
		reg := NewRegistry()
		id := reg.Create("erp_sync", 1, map[string]any{"k": "v"})
		reg.Subscribe(id, func(rec *Record) error { rec.Metadata["k"] = "mutated"; return nil })
		var seen string
		reg.Subscribe(id, func(rec *Record) error { seen = rec.Metadata["k"].(string); return nil })
		reg.UpdateProgress(id, 1, "", nil)
		So(seen, ShouldEqual, "v")
		rec, _ := reg.Get(id)
		So(rec.Metadata["k"], ShouldEqual, "v")
	})

	Convey("wildcard subscriptions see every task and survive Release", t, func() {
		n := NewNotifier()
		count := 0
		sub := n.SubscribeAll(func(*Record) error { count++; return nil })
		n.Notify(&Record{ID: "a"})
		n.Notify(&Record{ID: "b"})
		n.Release("a")
		n.Release(allTasks)
		n.Notify(&Record{ID: "c"})
		So(count, ShouldEqual, 3)
		n.Unsubscribe(allTasks, sub)
		n.Notify(&Record{ID: "d"})
		So(count, ShouldEqual, 3)
	})
}
