package tracker

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a tracker", t, func() {
		m := NewManager()

		Convey("Start registers a cancellable handle once", func() {
			h, ok := m.Start(context.Background(), "a")
			So(ok, ShouldBeTrue)
			So(h.TaskID, ShouldEqual, "a")
			So(h.Ctx.Err(), ShouldBeNil)

			_, ok = m.Start(context.Background(), "a")
			So(ok, ShouldBeFalse)
			So(m.Len(), ShouldEqual, 1)
		})

		Convey("Stop cancels and detaches", func() {
			h, _ := m.Start(context.Background(), "a")
			So(m.Stop("a"), ShouldBeTrue)
			So(h.Ctx.Err(), ShouldEqual, context.Canceled)
			_, ok := m.Get("a")
			So(ok, ShouldBeFalse)
			So(m.Stop("a"), ShouldBeFalse)
		})

		Convey("Remove ignores a stale handle", func() {
			old, _ := m.Start(context.Background(), "a")
			m.Stop("a")
			fresh, _ := m.Start(context.Background(), "a")
			m.Remove(old)
			got, ok := m.Get("a")
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, fresh)
			m.Remove(fresh)
			m.Remove(fresh)
			So(m.Len(), ShouldEqual, 0)
		})

		Convey("StopAll cancels every handle and ListIDs is sorted", func() {
			hb, _ := m.Start(context.Background(), "b")
			ha, _ := m.Start(context.Background(), "a")
			So(m.ListIDs(), ShouldResemble, []string{"a", "b"})
			So(m.StopAll(), ShouldEqual, 2)
			So(ha.Ctx.Err(), ShouldNotBeNil)
			So(hb.Ctx.Err(), ShouldNotBeNil)
			So(m.ListIDs(), ShouldBeEmpty)
		})

		Convey("handles inherit parent cancellation", func() {
			parent, cancel := context.WithCancel(context.Background())
			h, _ := m.Start(parent, "a")
			cancel()
			So(h.Ctx.Err(), ShouldEqual, context.Canceled)
		})
	})
}
