package taskmaster

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func testWorkerSpec(restart RestartPolicy, startRetries int) *ProgramSpec {
	spec, err := NewProgramSpec(ProgramSpec{
		Name:          "echoer",
		Command:       "/bin/echo hi",
		NumProcs:      1,
		RestartPolicy: restart,
		StartRetries:  startRetries,
		StartSecs:     5,
		StopSecs:      5,
	})
	if err != nil {
		panic(err)
	}
	return spec
}

func TestWorkerStartsAndConfirms(t *testing.T) {
	Convey("A worker that is started", t, func() {
		clock := newFakeClock()
		factory := newSpawnerFactory()
		w := NewWorker("echoer", testWorkerSpec(RestartNever, 3), 0, factory.new, clock, discardLog(), nil)

		err := w.Start()
		So(err, ShouldBeNil)
		So(w.Snapshot().State, ShouldEqual, Starting)
		So(factory.count(), ShouldEqual, 1)

		Convey("becomes Running once the start-confirmation timer fires", func() {
			clock.Advance(5 * time.Second)
			So(waitForState(w, Running, time.Second), ShouldBeTrue)
			So(w.Snapshot().RestartCount, ShouldEqual, 0)
		})

		Convey("starting it again while Starting reports AlreadyInState", func() {
			So(w.Start(), ShouldEqual, ErrAlreadyInState)
		})
	})
}

func TestWorkerSpawnFailureIsFatal(t *testing.T) {
	Convey("A worker whose child process cannot be spawned", t, func() {
		clock := newFakeClock()
		factory := newSpawnerFactory()
		factory.startErrs[0] = errBoom
		w := NewWorker("broken", testWorkerSpec(RestartAlways, 3), 0, factory.new, clock, discardLog(), nil)

		err := w.Start()

		Convey("reports SpawnFailed and lands in Fatal without retrying", func() {
			So(err, ShouldEqual, ErrSpawnFailed)
			So(w.Snapshot().State, ShouldEqual, Fatal)
			So(factory.count(), ShouldEqual, 1)
		})
	})
}

func TestWorkerRestartCountsAndGoesFatal(t *testing.T) {
	Convey("A worker with start_retries=2 under RestartAlways", t, func() {
		clock := newFakeClock()
		factory := newSpawnerFactory()
		w := NewWorker("flappy", testWorkerSpec(RestartAlways, 2), 0, factory.new, clock, discardLog(), nil)

		So(w.Start(), ShouldBeNil)
		clock.Advance(5 * time.Second) // confirm -> Running
		So(waitForState(w, Running, time.Second), ShouldBeTrue)

		Convey("the exit-reaction table walks 1, 2, 2-then-Fatal", func() {
			factory.at(0).Exit(1)
			So(waitForState(w, Backoff, time.Second), ShouldBeTrue)
			So(w.Snapshot().RestartCount, ShouldEqual, 1)

			clock.Advance(2 * time.Second) // backoffDelay(1) == 1s, already elapsed
			So(waitForSpawnCount(factory, 2, time.Second), ShouldBeTrue)
			// Not confirmed: reaching Running would reset the count to 0,
			// so the respawn exits while still Starting.
			So(waitForState(w, Starting, time.Second), ShouldBeTrue)

			factory.at(1).Exit(1)
			So(waitForState(w, Backoff, time.Second), ShouldBeTrue)
			So(w.Snapshot().RestartCount, ShouldEqual, 2)

			clock.Advance(4 * time.Second) // backoffDelay(2) == 2s
			So(waitForSpawnCount(factory, 3, time.Second), ShouldBeTrue)
			So(waitForState(w, Starting, time.Second), ShouldBeTrue)

			factory.at(2).Exit(1)
			So(waitForState(w, Fatal, time.Second), ShouldBeTrue)
			So(w.Snapshot().RestartCount, ShouldEqual, 2)
		})
	})
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	Convey("A running worker", t, func() {
		clock := newFakeClock()
		factory := newSpawnerFactory()
		w := NewWorker("svc", testWorkerSpec(RestartNever, 3), 0, factory.new, clock, discardLog(), nil)
		So(w.Start(), ShouldBeNil)
		clock.Advance(5 * time.Second)
		So(waitForState(w, Running, time.Second), ShouldBeTrue)

		Convey("stop(name); stop(name) behaves like a single stop", func() {
			So(w.Stop(false), ShouldBeNil)
			So(w.Snapshot().State, ShouldEqual, Stopping)
			So(w.Stop(false), ShouldBeNil)
			So(w.Snapshot().State, ShouldEqual, Stopping)
			So(len(factory.at(0).signals), ShouldEqual, 1)
		})

		Convey("stopping an already-Stopped worker reports AlreadyInState", func() {
			factory.at(0).Exit(0)
			So(waitForState(w, Stopped, time.Second), ShouldBeTrue)
			So(w.Stop(false), ShouldEqual, ErrAlreadyInState)
		})
	})
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func waitForState(w *Worker, want WorkerState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.Snapshot().State == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return w.Snapshot().State == want
}

func waitForSpawnCount(f *spawnerFactory, want int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.count() >= want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return f.count() >= want
}
