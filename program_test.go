package taskmaster

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewProgramSpecValidation(t *testing.T) {
	Convey("NewProgramSpec validates its required fields", t, func() {
		Convey("an empty name is rejected", func() {
			_, err := NewProgramSpec(ProgramSpec{Command: "/bin/true", NumProcs: 1, StartSecs: 1, StopSecs: 1})
			So(err, ShouldNotBeNil)
		})

		Convey("an empty command is rejected", func() {
			_, err := NewProgramSpec(ProgramSpec{Name: "x", NumProcs: 1, StartSecs: 1, StopSecs: 1})
			So(err, ShouldNotBeNil)
		})

		Convey("num_procs must be at least 1", func() {
			_, err := NewProgramSpec(ProgramSpec{Name: "x", Command: "/bin/true", NumProcs: 0, StartSecs: 1, StopSecs: 1})
			So(err, ShouldNotBeNil)
		})

		Convey("an unknown stop signal is rejected", func() {
			_, err := NewProgramSpec(ProgramSpec{
				Name: "x", Command: "/bin/true", NumProcs: 1, StartSecs: 1, StopSecs: 1,
				StopSignal: SignalName("BOGUS"),
			})
			So(err, ShouldNotBeNil)
		})

		Convey("defaults fill in expected exit codes and the stop signal", func() {
			spec, err := NewProgramSpec(ProgramSpec{Name: "x", Command: "/bin/true", NumProcs: 1, StartSecs: 1, StopSecs: 1})
			So(err, ShouldBeNil)
			So(spec.ExpectedExitCodes, ShouldResemble, map[int]bool{0: true})
			So(spec.StopSignal, ShouldEqual, SigTERM)
			So(spec.Env, ShouldNotBeNil)
		})
	})
}

func TestSplitCommand(t *testing.T) {
	Convey("splitCommand implements the no-shell spawn contract", t, func() {
		spec := &ProgramSpec{Command: "/usr/bin/myapp --flag value"}
		argv0, rest := spec.splitCommand()
		So(argv0, ShouldEqual, "/usr/bin/myapp")
		So(rest, ShouldResemble, []string{"--flag", "value"})
	})
}

func TestShouldRestart(t *testing.T) {
	Convey("the exit-reaction table matches the restart policy", t, func() {
		always := &ProgramSpec{RestartPolicy: RestartAlways}
		So(always.shouldRestart(0), ShouldBeTrue)
		So(always.shouldRestart(1), ShouldBeTrue)

		never := &ProgramSpec{RestartPolicy: RestartNever}
		So(never.shouldRestart(0), ShouldBeFalse)
		So(never.shouldRestart(1), ShouldBeFalse)

		onUnexpected := &ProgramSpec{RestartPolicy: RestartOnUnexpected, ExpectedExitCodes: map[int]bool{0: true, 2: true}}
		So(onUnexpected.shouldRestart(0), ShouldBeFalse)
		So(onUnexpected.shouldRestart(2), ShouldBeFalse)
		So(onUnexpected.shouldRestart(1), ShouldBeTrue)
	})
}

func TestSignificantlyDifferent(t *testing.T) {
	Convey("significantlyDifferent flags changes that force a restart", t, func() {
		base := &ProgramSpec{Command: "a", NumProcs: 1, StopSignal: SigTERM, StopSecs: 5}
		Convey("an identical spec is not significantly different", func() {
			same := *base
			So(significantlyDifferent(base, &same), ShouldBeFalse)
		})
		Convey("a changed command is significantly different", func() {
			changed := *base
			changed.Command = "b"
			So(significantlyDifferent(base, &changed), ShouldBeTrue)
		})
		Convey("a changed env map is significantly different", func() {
			changed := *base
			changed.Env = map[string]string{"X": "1"}
			So(significantlyDifferent(base, &changed), ShouldBeTrue)
		})
	})
}

func TestLogPath(t *testing.T) {
	Convey("logPath only suffixes when num_procs > 1", t, func() {
		So(logPath("/var/log/app.log", 2, 1), ShouldEqual, "/var/log/app.log")
		So(logPath("/var/log/app.log", 2, 4), ShouldEqual, "/var/log/app-2.log")
		So(logPath("", 0, 4), ShouldEqual, "")
	})
}
