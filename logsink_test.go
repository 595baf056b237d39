package taskmaster

import (
	"bytes"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogSinkLevelFiltering(t *testing.T) {
	Convey("A sink configured at LevelWarning", t, func() {
		var buf bytes.Buffer
		sink := NewLogSink(LevelWarning, &buf)

		Convey("Debug and Info lines are dropped", func() {
			sink.Debugf("debug line")
			sink.Infof("info line")
			So(buf.String(), ShouldEqual, "")
			recs, _ := sink.Records(0)
			So(recs, ShouldBeEmpty)
		})

		Convey("Warning and Error lines pass through", func() {
			sink.Warningf("watch it")
			sink.Errorf("on fire")
			So(buf.String(), ShouldContainSubstring, "[WARNING] watch it")
			So(buf.String(), ShouldContainSubstring, "[ERROR ] on fire")
		})
	})
}

func TestLogSinkRecords(t *testing.T) {
	Convey("A sink with no writers", t, func() {
		sink := NewLogSink(LevelDebug)

		Convey("Records(0) returns nothing before any line is written", func() {
			recs, _ := sink.Records(0)
			So(recs, ShouldBeEmpty)
		})

		Convey("each logged line bumps the id and appears in Records", func() {
			sink.Infof("one")
			sink.Infof("two")
			recs, id := sink.Records(0)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[1].Text, ShouldEqual, "two")
			So(id, ShouldNotEqual, 0)

			Convey("Records(id) after no new writes returns nothing", func() {
				more, sameID := sink.Records(id)
				So(more, ShouldBeEmpty)
				So(sameID, ShouldEqual, id)
			})
		})
	})
}

func TestLogSinkWatch(t *testing.T) {
	Convey("A sink with a pending Watch call", t, func() {
		sink := NewLogSink(LevelDebug)
		_, last := sink.Records(0)

		Convey("a new line unblocks the watcher", func() {
			done := make(chan int64, 1)
			go func() { done <- sink.Watch(last, time.Second) }()

			time.Sleep(10 * time.Millisecond)
			sink.Infof("something happened")

			select {
			case got := <-done:
				So(got, ShouldNotEqual, last)
			case <-time.After(time.Second):
				t.Fatal("Watch did not unblock after a new record")
			}
		})

		Convey("Watch with an already-past expiry returns immediately without blocking", func() {
			got := sink.Watch(last, 0)
			So(got, ShouldEqual, last)
		})

		Convey("Watch times out and returns the unchanged id when nothing is written", func() {
			start := time.Now()
			got := sink.Watch(last, 20*time.Millisecond)
			So(got, ShouldEqual, last)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 20*time.Millisecond)
		})
	})
}
