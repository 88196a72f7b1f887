package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCallWithTimeout(t *testing.T) {
	Convey("CallWithTimeout", t, func() {
		Convey("returns the value of a fast call", func() {
			v, err := CallWithTimeout(context.Background(), time.Second, func(context.Context) (int, error) { return 7, nil })
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 7)
		})

		Convey("passes through the call's own error", func() {
			_, err := CallWithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
				return 0, errors.New("bad item")
			})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldEqual, "bad item")
		})

		Convey("times out a stuck call and signals it to stop", func() {
			stopped := make(chan struct{})
			begin := time.Now()
			_, err := CallWithTimeout(context.Background(), 30*time.Millisecond, func(ctx context.Context) (string, error) {
				<-ctx.Done()
				close(stopped)
				time.Sleep(200 * time.Millisecond) // 迟到的结果被丢弃
				return "late", nil
			})
			So(time.Since(begin), ShouldBeLessThan, 150*time.Millisecond)
			So(errors.Is(err, ErrTimeout), ShouldBeTrue)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			select {
			case <-stopped:
			case <-time.After(time.Second):
				So("call context was not cancelled", ShouldBeEmpty)
			}
		})

		Convey("returns early on parent cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() { time.Sleep(20 * time.Millisecond); cancel() }()
			_, err := CallWithTimeout(ctx, time.Minute, func(c context.Context) (int, error) {
				<-c.Done()
				time.Sleep(100 * time.Millisecond)
				return 1, nil
			})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(errors.Is(err, ErrTimeout), ShouldBeFalse)
		})

		Convey("does not call fn when the parent is already done", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			called := false
			_, err := CallWithTimeout(ctx, time.Second, func(context.Context) (int, error) { called = true; return 0, nil })
			So(err, ShouldEqual, context.Canceled)
			So(called, ShouldBeFalse)
		})

		Convey("recovers panics into PanicError", func() {
			_, err := CallWithTimeout(context.Background(), time.Second, func(context.Context) (int, error) { panic("item exploded") })
			var pe *PanicError
			So(errors.As(err, &pe), ShouldBeTrue)
			So(pe.Value, ShouldEqual, "item exploded")
			So(len(pe.Stack), ShouldBeGreaterThan, 0)
		})

		Convey("zero timeout means no deadline", func() {
			v, err := CallWithTimeout(context.Background(), 0, func(ctx context.Context) (bool, error) {
				_, has := ctx.Deadline()
				return has, nil
			})
			So(err, ShouldBeNil)
			So(v, ShouldBeFalse)
		})
	})
}
