package taskmaster

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeSignalPort struct {
	sent     []SignalName
	handlers map[SignalName]func()
}

func newFakeSignalPort() *fakeSignalPort {
	return &fakeSignalPort{handlers: make(map[SignalName]func())}
}

func (p *fakeSignalPort) Send(pid int, name SignalName) error {
	p.sent = append(p.sent, name)
	return nil
}

func (p *fakeSignalPort) InstallHandler(name SignalName, callback func()) {
	p.handlers[name] = callback
}

func testSupervisorSpec(name string, autostart bool) *ProgramSpec {
	spec, err := NewProgramSpec(ProgramSpec{
		Name:      name,
		Command:   "/bin/sleep 100",
		NumProcs:  1,
		AutoStart: autostart,
		StartSecs: 5,
		StopSecs:  5,
	})
	if err != nil {
		panic(err)
	}
	return spec
}

func newTestSupervisor() (*Supervisor, *spawnerFactory, *fakeClock) {
	clock := newFakeClock()
	factory := newSpawnerFactory()
	s := NewSupervisor(clock, discardLog(), factory.new, newFakeSignalPort())
	s.tun = *testTunables()
	return s, factory, clock
}

func TestSupervisorBootAutostarts(t *testing.T) {
	Convey("Booting a catalog with one autostart program", t, func() {
		s, factory, _ := newTestSupervisor()
		s.Boot([]*ProgramSpec{testSupervisorSpec("web", true)})

		Convey("the fleet is spawned without an explicit start", func() {
			So(waitForSpawnCount(factory, 1, time.Second), ShouldBeTrue)
		})
	})
}

func TestSupervisorUnknownProgram(t *testing.T) {
	Convey("A supervisor with no programs", t, func() {
		s, _, _ := newTestSupervisor()
		s.Boot(nil)

		Convey("operating on an unknown name reports UnknownProgram", func() {
			err := s.Start("nope")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSupervisorReloadReconciles(t *testing.T) {
	Convey("A booted supervisor with programs web and worker", t, func() {
		s, factory, _ := newTestSupervisor()
		s.Boot([]*ProgramSpec{testSupervisorSpec("web", false), testSupervisorSpec("worker", false)})

		Convey("reload can add, remove, and restart in one pass", func() {
			cache, err := NewProgramSpec(ProgramSpec{Name: "cache", Command: "/bin/sleep 100", NumProcs: 1, AutoStart: true, StartSecs: 5, StopSecs: 5})
			So(err, ShouldBeNil)
			webChanged, err := NewProgramSpec(ProgramSpec{Name: "web", Command: "/bin/sleep 200", NumProcs: 1, StartSecs: 5, StopSecs: 5})
			So(err, ShouldBeNil)

			res, err := s.Reload([]*ProgramSpec{webChanged, cache})
			So(err, ShouldBeNil)
			So(res.Removed, ShouldResemble, []string{"worker"})
			So(res.Added, ShouldResemble, []string{"cache"})
			So(res.Restarted, ShouldResemble, []string{"web"})

			Convey("only cache (autostart=true) spawns; web stays stopped", func() {
				So(waitForSpawnCount(factory, 1, time.Second), ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				So(factory.count(), ShouldEqual, 1)
			})
		})
	})
}

func TestSupervisorReloadRespectsNewAutoStart(t *testing.T) {
	Convey("A running program whose reloaded spec flips autostart to false", t, func() {
		s, factory, clock := newTestSupervisor()
		s.Boot([]*ProgramSpec{testSupervisorSpec("web", true)})
		So(waitForSpawnCount(factory, 1, time.Second), ShouldBeTrue)
		clock.Advance(5 * time.Second)
		f := s.mustFleet("web")
		So(waitForState(f.worker(0), Running, time.Second), ShouldBeTrue)

		Convey("a significant change with autostart=false stops it and leaves it stopped", func() {
			changed, err := NewProgramSpec(ProgramSpec{Name: "web", Command: "/bin/sleep 999", NumProcs: 1, AutoStart: false, StartSecs: 5, StopSecs: 5})
			So(err, ShouldBeNil)
			// The child exits 0 on its own; under RestartNever the worker
			// ends Stopped whether this exit lands before or during the
			// reload's graceful stop.
			factory.at(0).Exit(0)

			_, err = s.Reload([]*ProgramSpec{changed})
			So(err, ShouldBeNil)
			So(waitForState(f.worker(0), Stopped, time.Second), ShouldBeTrue)
			time.Sleep(20 * time.Millisecond)
			So(factory.count(), ShouldEqual, 1)
		})
	})
}

func TestSupervisorReloadNumProcsOnlyLeavesSurvivorsUntouched(t *testing.T) {
	Convey("A running 2-proc fleet", t, func() {
		s, factory, clock := newTestSupervisor()
		two, err := NewProgramSpec(ProgramSpec{Name: "pool", Command: "/bin/sleep 100", NumProcs: 2, AutoStart: true, StartSecs: 5, StopSecs: 5})
		So(err, ShouldBeNil)
		s.Boot([]*ProgramSpec{two})
		So(waitForSpawnCount(factory, 2, time.Second), ShouldBeTrue)
		clock.Advance(5 * time.Second)
		f := s.mustFleet("pool")
		So(waitForState(f.worker(0), Running, time.Second), ShouldBeTrue)
		So(waitForState(f.worker(1), Running, time.Second), ShouldBeTrue)

		Convey("growing num_procs only spawns the new slots", func() {
			four, err := NewProgramSpec(ProgramSpec{Name: "pool", Command: "/bin/sleep 100", NumProcs: 4, AutoStart: true, StartSecs: 5, StopSecs: 5})
			So(err, ShouldBeNil)

			res, err := s.Reload([]*ProgramSpec{four})
			So(err, ShouldBeNil)
			So(res.Restarted, ShouldResemble, []string{"pool"})

			So(waitForSpawnCount(factory, 4, time.Second), ShouldBeTrue)
			clock.Advance(5 * time.Second) // confirm the two new spawns
			f = s.mustFleet("pool")
			So(f.worker(0).Snapshot().State, ShouldEqual, Running)
			So(f.worker(0).Snapshot().RestartCount, ShouldEqual, 0)
			So(f.worker(1).Snapshot().State, ShouldEqual, Running)
			So(f.worker(1).Snapshot().RestartCount, ShouldEqual, 0)
			So(waitForState(f.worker(2), Running, time.Second), ShouldBeTrue)
			So(waitForState(f.worker(3), Running, time.Second), ShouldBeTrue)
		})
	})
}

func TestSupervisorSerialBumpsOnStateChange(t *testing.T) {
	Convey("A booted supervisor", t, func() {
		s, factory, clock := newTestSupervisor()
		s.Boot([]*ProgramSpec{testSupervisorSpec("web", false)})
		before := s.Serial()

		Convey("starting a program bumps the serial counter", func() {
			So(s.Start("web"), ShouldBeNil)
			So(waitForSpawnCount(factory, 1, time.Second), ShouldBeTrue)
			So(s.Serial(), ShouldBeGreaterThan, before)
			_ = clock
		})

		Convey("WatchSerial with an already-expired window returns immediately", func() {
			got := s.WatchSerial(before, 0)
			So(got, ShouldEqual, before)
		})
	})
}

func TestSupervisorStaysResponsiveDuringSlowRestart(t *testing.T) {
	Convey("A supervisor running a slow program and a quick one", t, func() {
		s, factory, clock := newTestSupervisor()
		s.Boot([]*ProgramSpec{testSupervisorSpec("slow", true), testSupervisorSpec("quick", false)})
		So(waitForSpawnCount(factory, 1, time.Second), ShouldBeTrue)
		clock.Advance(5 * time.Second)
		slow := s.mustFleet("slow")
		So(waitForState(slow.worker(0), Running, time.Second), ShouldBeTrue)

		Convey("status on the unrelated program returns promptly while restart drains", func() {
			// RestartAll's StopAllAndWait polls against the fake clock,
			// which nothing here advances, so it blocks for real wall
			// time until the clock.Advance below moves it along.
			// If cmdRestartAll still ran synchronously on dispatchLoop,
			// the Status call right after would queue behind it and
			// this test would need clock.Advance before it could ever
			// return, rather than finishing immediately.
			restartDone := make(chan error, 1)
			go func() { restartDone <- s.Restart("slow") }()

			time.Sleep(20 * time.Millisecond)
			start := time.Now()
			_, err := s.Status("quick")
			elapsed := time.Since(start)
			So(err, ShouldBeNil)
			So(elapsed, ShouldBeLessThan, 200*time.Millisecond)

			So(s.Start("quick"), ShouldBeNil)
			So(waitForSpawnCount(factory, 2, time.Second), ShouldBeTrue)

			// Release the stuck restart: push the fake clock past
			// StopAllAndWait's deadline so it force-kills and returns.
			clock.Advance(time.Minute)
			select {
			case err := <-restartDone:
				So(err, ShouldBeNil)
			case <-time.After(time.Second):
				t.Fatal("restart never completed after clock advance")
			}
		})
	})
}

func TestSupervisorShutdownIsIdempotent(t *testing.T) {
	Convey("A booted supervisor", t, func() {
		s, _, _ := newTestSupervisor()
		s.Boot([]*ProgramSpec{testSupervisorSpec("web", false)})

		Convey("calling Shutdown from two callers does not panic", func() {
			done := make(chan struct{}, 2)
			go func() { s.Shutdown(false); done <- struct{}{} }()
			go func() { s.Shutdown(false); done <- struct{}{} }()
			<-done
			<-done
		})
	})
}
