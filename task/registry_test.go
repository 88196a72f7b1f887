package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeClock 可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.now }
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeCanceller 记录被取消的任务ID。
type fakeCanceller struct {
	running map[string]bool
	calls   []string
}

func (f *fakeCanceller) Cancel(id string) bool {
	f.calls = append(f.calls, id)
	return f.running[id]
}

func TestRegistry_CreateGetList(t *testing.T) {
	Convey("Given a registry", t, func() {
		clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		reg := NewRegistry(WithClock(clk.Now))

		Convey("Create should allocate a PENDING record", func() {
			id := reg.Create("erp_sync", 10, map[string]any{"date_from": "2026-01-01"})
			rec, ok := reg.Get(id)
			So(ok, ShouldBeTrue)
			So(rec.Status, ShouldEqual, StatusPending)
			So(rec.Type, ShouldEqual, "erp_sync")
			So(rec.Total, ShouldEqual, 10)
			So(rec.Processed, ShouldEqual, 0)
			So(rec.CreatedAt, ShouldEqual, clk.Now())
			So(rec.StartedAt, ShouldBeNil)
			So(rec.Metadata["date_from"], ShouldEqual, "2026-01-01")

			// 快照与内部状态隔离
			rec.Metadata["date_from"] = "x"
			again, _ := reg.Get(id)
			So(again.Metadata["date_from"], ShouldEqual, "2026-01-01")
		})

		Convey("Get of an unknown id reports not found", func() {
			_, ok := reg.Get("missing")
			So(ok, ShouldBeFalse)
		})

		Convey("List should be newest first, filtered and limited", func() {
			a := reg.Create("erp_sync", 0, nil)
			clk.Advance(time.Second)
			b := reg.Create("bank_import", 0, nil)
			clk.Advance(time.Second)
			c := reg.Create("erp_sync", 0, nil)
			d := reg.Create("erp_sync", 0, nil) // 同一时刻，按创建顺序倒序

			all := reg.List("", 0)
			So(len(all), ShouldEqual, 4)
			So(all[0].ID, ShouldEqual, d)
			So(all[1].ID, ShouldEqual, c)
			So(all[2].ID, ShouldEqual, b)
			So(all[3].ID, ShouldEqual, a)

			erp := reg.List("erp_sync", 2)
			So(len(erp), ShouldEqual, 2)
			So(erp[0].ID, ShouldEqual, d)
			So(erp[1].ID, ShouldEqual, c)
		})

		Convey("concurrent creation should yield unique ids", func() {
			var wg sync.WaitGroup
			ids := make([]string, 200)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ids[i] = reg.Create("erp_sync", i, nil)
				}(i)
			}
			wg.Wait()
			seen := map[string]bool{}
			for _, id := range ids {
				seen[id] = true
			}
			So(len(seen), ShouldEqual, 200)
			So(len(reg.List("", 1000)), ShouldEqual, 200)
		})
	})
}

func TestRegistry_Progress(t *testing.T) {
	Convey("Given a running task", t, func() {
		reg := NewRegistry()
		id := reg.Create("erp_sync", 4, map[string]any{"who": "cron"})
		reg.Start(id)

		Convey("progress percent is derived and processed never decreases", func() {
			reg.UpdateProgress(id, 2, "half", map[string]any{"phase": "organizations"})
			rec, _ := reg.Get(id)
			So(rec.Status, ShouldEqual, StatusRunning)
			So(rec.StartedAt, ShouldNotBeNil)
			So(rec.ProgressPercent, ShouldEqual, 50.0)
			So(rec.Message, ShouldEqual, "half")
			So(rec.Metadata, ShouldResemble, map[string]any{"who": "cron", "phase": "organizations"})

			reg.UpdateProgress(id, 1, "late report", nil)
			rec, _ = reg.Get(id)
			So(rec.Processed, ShouldEqual, 2)
			So(rec.Message, ShouldEqual, "late report")
		})

		Convey("total is raised when processed exceeds it", func() {
			reg.UpdateProgress(id, 6, "more than expected", nil)
			rec, _ := reg.Get(id)
			So(rec.Total, ShouldEqual, 6)
			So(rec.ProgressPercent, ShouldEqual, 100.0)

			reg.SetTotal(id, 3)
			rec, _ = reg.Get(id)
			So(rec.Total, ShouldEqual, 6)
			reg.SetTotal(id, 12)
			rec, _ = reg.Get(id)
			So(rec.Total, ShouldEqual, 12)
			So(rec.ProgressPercent, ShouldEqual, 50.0)
		})

		Convey("a zero-total task reports 0 percent and completes", func() {
			z := reg.Create("noop", 0, nil)
			reg.Start(z)
			reg.UpdateProgress(z, 0, "nothing to do", nil)
			rec, _ := reg.Get(z)
			So(rec.ProgressPercent, ShouldEqual, 0.0)
			reg.Complete(z, map[string]int{"processed": 0})
			rec, _ = reg.Get(z)
			So(rec.Status, ShouldEqual, StatusCompleted)
			So(rec.ProgressPercent, ShouldEqual, 0.0)
		})

		Convey("unknown ids are silently ignored", func() {
			So(func() {
				reg.UpdateProgress("missing", 1, "x", nil)
				reg.SetTotal("missing", 1)
				reg.Start("missing")
				reg.Complete("missing", nil)
				reg.Fail("missing", "x")
				reg.MarkCancelled("missing")
			}, ShouldNotPanic)
			So(reg.Cancel("missing"), ShouldBeFalse)
		})
	})
}

func TestRegistry_Terminality(t *testing.T) {
	Convey("terminal records never change again", t, func() {
		reg := NewRegistry()
		id := reg.Create("erp_sync", 2, nil)
		reg.Start(id)
		reg.UpdateProgress(id, 1, "one", nil)
		reg.Fail(id, "erp unreachable")

		before, _ := reg.Get(id)
		So(before.Status, ShouldEqual, StatusFailed)
		So(before.Error, ShouldEqual, "erp unreachable")
		So(before.CompletedAt, ShouldNotBeNil)

		reg.UpdateProgress(id, 2, "after fail", map[string]any{"x": 1})
		reg.Complete(id, "ok")
		reg.MarkCancelled(id)
		reg.Start(id)
		So(reg.Cancel(id), ShouldBeFalse)

		after, _ := reg.Get(id)
		So(after.Status, ShouldEqual, StatusFailed)
		So(after.Error, ShouldEqual, "erp unreachable")
		So(after.Result, ShouldBeNil)
		So(after.Processed, ShouldEqual, 1)
		So(after.Message, ShouldEqual, "one")
	})
}

func TestRegistry_Cancel(t *testing.T) {
	Convey("Cancel delegates to the attached canceller", t, func() {
		reg := NewRegistry()
		fc := &fakeCanceller{running: map[string]bool{}}
		reg.AttachCanceller(fc)

		Convey("a running handle is signalled", func() {
			id := reg.Create("erp_sync", 0, nil)
			reg.Start(id)
			fc.running[id] = true
			So(reg.Cancel(id), ShouldBeTrue)
			So(fc.calls, ShouldResemble, []string{id})
			// 状态由执行器在任务退出后落定
			rec, _ := reg.Get(id)
			So(rec.Status, ShouldEqual, StatusRunning)
		})

		Convey("a pending task without handle is cancelled directly", func() {
			id := reg.Create("erp_sync", 0, nil)
			So(reg.Cancel(id), ShouldBeTrue)
			rec, _ := reg.Get(id)
			So(rec.Status, ShouldEqual, StatusCancelled)
			So(rec.CompletedAt, ShouldNotBeNil)
		})

		Convey("a running task whose handle is already gone reports false", func() {
			id := reg.Create("erp_sync", 0, nil)
			reg.Start(id)
			So(reg.Cancel(id), ShouldBeFalse)
			rec, _ := reg.Get(id)
			So(rec.Status, ShouldEqual, StatusRunning)
		})
	})
}

func TestRegistry_Cleanup(t *testing.T) {
	Convey("Cleanup evicts old terminal tasks and their subscriptions", t, func() {
		clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		reg := NewRegistry(WithClock(clk.Now))

		old := reg.Create("erp_sync", 0, nil)
		reg.Start(old)
		reg.Complete(old, nil)
		reg.Subscribe(old, func(*Record) error { return nil })

		running := reg.Create("erp_sync", 0, nil)
		reg.Start(running)

		clk.Advance(2 * time.Hour)
		fresh := reg.Create("erp_sync", 0, nil)
		reg.Start(fresh)
		reg.Fail(fresh, "boom")

		So(reg.Cleanup(time.Hour), ShouldEqual, 1)
		_, ok := reg.Get(old)
		So(ok, ShouldBeFalse)
		So(reg.Notifier().Count(old), ShouldEqual, 0)
		_, ok = reg.Get(running)
		So(ok, ShouldBeTrue)
		_, ok = reg.Get(fresh)
		So(ok, ShouldBeTrue)

		counts := reg.Counts()
		So(counts[StatusRunning], ShouldEqual, 1)
		So(counts[StatusFailed], ShouldEqual, 1)
	})
}

func TestRegistry_NotifiesSubscribers(t *testing.T) {
	Convey("every mutation notifies subscribers with a snapshot", t, func() {
		reg := NewRegistry()
		var got []string
		reg.SubscribeAll(func(rec *Record) error {
			got = append(got, fmt.Sprintf("%s:%d", rec.Status, rec.Processed))
			return nil
		})
		id := reg.Create("erp_sync", 2, nil)
		reg.Start(id)
		reg.UpdateProgress(id, 1, "", nil)
		reg.UpdateProgress(id, 2, "", nil)
		reg.Complete(id, nil)
		reg.UpdateProgress(id, 3, "ignored", nil)

		So(got, ShouldResemble, []string{"PENDING:0", "RUNNING:0", "RUNNING:1", "RUNNING:2", "COMPLETED:2"})
	})
}
