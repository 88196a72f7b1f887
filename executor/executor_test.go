package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/finsync/task"
)

// waitTerminal 轮询直到任务进入终态。
func waitTerminal(reg *task.Registry, id string) *task.Record {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := reg.Get(id); ok && rec.Status.IsTerminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := reg.Get(id)
	return rec
}

// waitStatus 轮询直到任务进入指定状态。
func waitStatus(reg *task.Registry, id string, st task.Status) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := reg.Get(id); ok && rec.Status == st {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestExecutor_Outcomes(t *testing.T) {
	Convey("Given an executor", t, func() {
		reg := task.NewRegistry()
		ex := New(reg)

		Convey("a successful job completes with its result", func() {
			id := reg.Create("erp_sync", 1, nil)
			var gotID string
			So(ex.Run(id, func(ctx context.Context, taskID string) (any, error) {
				gotID = taskID
				return map[string]int{"created": 1}, nil
			}), ShouldBeTrue)
			rec := waitTerminal(reg, id)
			So(rec.Status, ShouldEqual, task.StatusCompleted)
			So(rec.Result, ShouldResemble, map[string]int{"created": 1})
			So(rec.StartedAt, ShouldNotBeNil)
			So(rec.CompletedAt, ShouldNotBeNil)
			So(gotID, ShouldEqual, id)
		})

		Convey("an error fails the task", func() {
			id := ex.Submit("erp_sync", 0, nil, func(context.Context, string) (any, error) {
				return nil, errors.New("erp unreachable")
			})
			rec := waitTerminal(reg, id)
			So(rec.Status, ShouldEqual, task.StatusFailed)
			So(rec.Error, ShouldEqual, "erp unreachable")
			So(rec.Result, ShouldBeNil)
		})

		Convey("a panic is contained and fails the task", func() {
			id := ex.Submit("erp_sync", 0, nil, func(context.Context, string) (any, error) {
				panic("boom")
			})
			rec := waitTerminal(reg, id)
			So(rec.Status, ShouldEqual, task.StatusFailed)
			So(rec.Error, ShouldContainSubstring, "boom")
		})

		Convey("Run refuses unknown, terminal and already running tasks", func() {
			So(ex.Run("missing", nil), ShouldBeFalse)

			done := reg.Create("erp_sync", 0, nil)
			reg.Start(done)
			reg.Complete(done, nil)
			So(ex.Run(done, nil), ShouldBeFalse)

			release := make(chan struct{})
			id := reg.Create("erp_sync", 0, nil)
			So(ex.Run(id, func(ctx context.Context, _ string) (any, error) { <-release; return nil, nil }), ShouldBeTrue)
			So(ex.Run(id, nil), ShouldBeFalse)
			close(release)
			So(waitTerminal(reg, id).Status, ShouldEqual, task.StatusCompleted)
		})
	})
}

func TestExecutor_Cancel(t *testing.T) {
	Convey("Given a long running job", t, func() {
		reg := task.NewRegistry()
		ex := New(reg)
		started := make(chan struct{})
		id := ex.Submit("erp_sync", 0, nil, func(ctx context.Context, _ string) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		<-started

		Convey("cancelling through the registry ends in CANCELLED", func() {
			So(ex.Running(), ShouldContain, id)
			So(reg.Cancel(id), ShouldBeTrue)
			rec := waitTerminal(reg, id)
			So(rec.Status, ShouldEqual, task.StatusCancelled)
			So(rec.Error, ShouldBeEmpty)
			So(ex.Running(), ShouldNotContain, id)
			So(reg.Cancel(id), ShouldBeFalse)
		})

		Convey("Shutdown cancels everything and waits", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			So(ex.Shutdown(ctx), ShouldBeNil)
			rec, _ := reg.Get(id)
			So(rec.Status, ShouldEqual, task.StatusCancelled)
		})
	})

	Convey("a job that ignores cancellation and succeeds is COMPLETED", t, func() {
		reg := task.NewRegistry()
		ex := New(reg)
		started := make(chan struct{})
		release := make(chan struct{})
		id := ex.Submit("erp_sync", 0, nil, func(ctx context.Context, _ string) (any, error) {
			close(started)
			<-release
			return "done anyway", nil
		})
		<-started
		So(ex.Cancel(id), ShouldBeTrue)
		close(release)
		rec := waitTerminal(reg, id)
		So(rec.Status, ShouldEqual, task.StatusCompleted)
		So(rec.Result, ShouldEqual, "done anyway")
	})

	Convey("an error wrapping context.Canceled is a cancellation", t, func() {
		reg := task.NewRegistry()
		ex := New(reg)
		id := ex.Submit("erp_sync", 0, nil, func(context.Context, string) (any, error) {
			return nil, errors.Join(errors.New("stopped"), context.Canceled)
		})
		So(waitTerminal(reg, id).Status, ShouldEqual, task.StatusCancelled)
	})
}

func TestExecutor_MaxConcurrent(t *testing.T) {
	Convey("with one slot the second job waits and can be cancelled before it starts", t, func() {
		reg := task.NewRegistry()
		ex := New(reg, WithMaxConcurrent(1))
		release := make(chan struct{})
		first := ex.Submit("erp_sync", 0, nil, func(ctx context.Context, _ string) (any, error) {
			<-release
			return nil, nil
		})
		So(waitStatus(reg, first, task.StatusRunning), ShouldBeTrue)

		second := ex.Submit("erp_sync", 0, nil, func(context.Context, string) (any, error) { return "ran", nil })
		time.Sleep(20 * time.Millisecond)
		rec, _ := reg.Get(second)
		So(rec.Status, ShouldEqual, task.StatusPending)

		So(reg.Cancel(second), ShouldBeTrue)
		rec = waitTerminal(reg, second)
		So(rec.Status, ShouldEqual, task.StatusCancelled)
		So(rec.StartedAt, ShouldBeNil)

		third := ex.Submit("erp_sync", 0, nil, func(context.Context, string) (any, error) { return "ran", nil })
		close(release)
		So(waitTerminal(reg, first).Status, ShouldEqual, task.StatusCompleted)
		So(waitTerminal(reg, third).Result, ShouldEqual, "ran")
	})

	Convey("a pending task with no handle is cancelled directly", t, func() {
		reg := task.NewRegistry()
		New(reg)
		id := reg.Create("erp_sync", 0, nil)
		So(reg.Cancel(id), ShouldBeTrue)
		rec, _ := reg.Get(id)
		So(rec.Status, ShouldEqual, task.StatusCancelled)
	})
}

func TestExecutor_ShutdownRace(t *testing.T) {
	Convey("after Shutdown no job starts", t, func() {
		reg := task.NewRegistry()
		ex := New(reg)
		So(ex.Shutdown(context.Background()), ShouldBeNil)

		ran := false
		id := reg.Create("erp_sync", 0, nil)
		So(ex.Run(id, func(context.Context, string) (any, error) { ran = true; return nil, nil }), ShouldBeFalse)
		rec, _ := reg.Get(id)
		So(rec.Status, ShouldEqual, task.StatusPending)

		id = ex.Submit("erp_sync", 0, nil, func(context.Context, string) (any, error) { ran = true; return nil, nil })
		rec, _ = reg.Get(id)
		So(rec.Status, ShouldEqual, task.StatusCancelled)
		So(ran, ShouldBeFalse)
		So(ex.Running(), ShouldBeEmpty)
	})

	Convey("submits racing Shutdown all end terminal once it returns", t, func() {
		reg := task.NewRegistry()
		ex := New(reg)
		block := func(ctx context.Context, _ string) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		var (
			mu  sync.Mutex
			ids []string
			wg  sync.WaitGroup
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := ex.Submit("erp_sync", 0, nil, block)
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		So(ex.Shutdown(ctx), ShouldBeNil)
		wg.Wait()

		So(ids, ShouldHaveLength, 20)
		for _, id := range ids {
			rec := waitTerminal(reg, id)
			So(rec.Status, ShouldEqual, task.StatusCancelled)
		}
		So(ex.Running(), ShouldBeEmpty)
	})
}
