// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taskmaster

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WorkerState is one of the six states spec.md §4.1 defines.
type WorkerState int

const (
	Stopped WorkerState = iota
	Starting
	Running
	Stopping
	Backoff
	Fatal
)

func (s WorkerState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Backoff:
		return "Backoff"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// WorkerStatus is the read-only snapshot returned by Worker.Snapshot,
// used by every status-reporting surface (REPL, socket, HTTP).
type WorkerStatus struct {
	Program      string
	Index        int
	Pid          int
	State        WorkerState
	StartedAt    time.Time
	RestartCount int
}

// Worker supervises one OS process slot for one program, implementing
// the state machine of spec.md §4.1. It owns its OS process handle and
// its stdout/stderr sinks exclusively; no external component mutates
// its fields directly.
type Worker struct {
	mu sync.Mutex

	programName string
	spec        *ProgramSpec
	index       int

	pid           int
	state         WorkerState
	startedAt     time.Time
	restartCount  int
	stopRequested bool
	generation    int
	disposed      bool

	curSpawner Spawner
	stdoutFile *os.File
	stderrFile *os.File

	confirmTimer Timer
	backoffTimer Timer
	stopTimer    Timer

	newSpawner func() Spawner
	clock      Clock
	log        *LogSink
	onChange   func()
}

// NewWorker constructs a Worker for slot index of program, not yet
// started. newSpawner is called once per spawn attempt so that each
// attempt gets an independent Spawner instance (avoids any data race
// between a stale exit-watcher goroutine and a fresh spawn).
func NewWorker(programName string, spec *ProgramSpec, index int, newSpawner func() Spawner, clock Clock, log *LogSink, onChange func()) *Worker {
	if onChange == nil {
		onChange = func() {}
	}
	return &Worker{
		programName: programName,
		spec:        spec,
		index:       index,
		state:       Stopped,
		newSpawner:  newSpawner,
		clock:       clock,
		log:         log,
		onChange:    onChange,
	}
}

// UpdateSpec swaps in a new, non-significantly-different spec. Fields
// that only matter at spawn time (restart policy, exit codes, retries,
// start_secs) take effect on the worker's next spawn, per spec.md §4.3.
func (w *Worker) UpdateSpec(spec *ProgramSpec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spec = spec
}

// Snapshot returns the current, consistent state of the worker.
func (w *Worker) Snapshot() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		Program:      w.programName,
		Index:        w.index,
		Pid:          w.pid,
		State:        w.state,
		StartedAt:    w.startedAt,
		RestartCount: w.restartCount,
	}
}

// Start implements the operator/autostart start() transition: Stopped
// or Fatal -> Starting, with restart_count reset to 0. Calling Start on
// a worker already Starting or Running is a no-op that reports
// ErrAlreadyInState (spec.md §7's AlreadyInState kind). A worker that is
// Stopping also refuses: its old child is still alive and still owns
// curSpawner/pid, so spawning a replacement now would abandon that
// child as an untracked process instead of waiting for it to actually
// exit first.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return ErrUnknownProgram
	}
	if w.state == Starting || w.state == Running || w.state == Stopping {
		return ErrAlreadyInState
	}
	w.cancelTimersLocked()
	w.restartCount = 0
	w.stopRequested = false
	return w.spawnLocked()
}

// spawnLocked performs the actual fork/exec and arms the
// start-confirmation timer. Caller must hold w.mu.
func (w *Worker) spawnLocked() error {
	w.generation++
	gen := w.generation

	stdout, stderr := w.openSinksLocked()

	sp := w.newSpawner()
	pid, err := sp.Start(w.spec, w.index, stdout, stderr)
	if err != nil {
		w.log.Errorf("%s-%d: spawn failed: %v", w.programName, w.index, err)
		w.state = Fatal
		w.closeSinksLocked()
		w.onChange()
		return ErrSpawnFailed
	}

	w.curSpawner = sp
	w.pid = pid
	w.startedAt = w.clock.Now()
	w.state = Starting
	w.log.Infof("%s-%d: spawned pid %d", w.programName, w.index, pid)

	startSecs := time.Duration(w.spec.StartSecs) * time.Second
	w.confirmTimer = w.clock.AfterFunc(startSecs, func() { w.onConfirm(gen) })

	go w.waitForExit(gen, sp)
	w.onChange()
	return nil
}

// openSinksLocked opens (or reopens, in append mode) the stdout/stderr
// destinations for the next spawn, honoring discard_output and the
// per-instance log path suffixing of spec.md §4.1. Every line a child
// writes is also fanned into the supervisor's own log sink (at debug
// level, tagged with the worker's stream) so "taskmaster> status" and
// the USR1 dump can be correlated against recent child chatter without
// tailing a separate file. I/O errors on the file side are logged and
// degrade to the sink-only destination; they never alter worker state.
func (w *Worker) openSinksLocked() (io.Writer, io.Writer) {
	w.closeSinksLocked()

	if w.spec.DiscardOutput {
		return io.Discard, io.Discard
	}

	open := func(path, stream string) (*os.File, io.Writer) {
		tee := &sinkWriter{sink: w.log, level: LevelDebug, prefix: fmt.Sprintf("%s-%d %s> ", w.programName, w.index, stream)}
		if path == "" {
			return nil, tee
		}
		full := logPath(path, w.index, w.spec.NumProcs)
		if dir := filepath.Dir(full); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				w.log.Warningf("%s-%d: mkdir %s: %v", w.programName, w.index, dir, err)
				return nil, tee
			}
		}
		f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			w.log.Warningf("%s-%d: open %s: %v", w.programName, w.index, full, err)
			return nil, tee
		}
		return f, newMultiWriter(w.log, w.programName, f, tee)
	}

	var outW, errW io.Writer
	w.stdoutFile, outW = open(w.spec.StdoutPath, "stdout")
	w.stderrFile, errW = open(w.spec.StderrPath, "stderr")
	return outW, errW
}

func (w *Worker) closeSinksLocked() {
	if w.stdoutFile != nil {
		w.stdoutFile.Close()
		w.stdoutFile = nil
	}
	if w.stderrFile != nil {
		w.stderrFile.Close()
		w.stderrFile = nil
	}
}

// onConfirm fires when the start-confirmation timer elapses. If the
// worker is still Starting under the same generation, it is promoted
// to Running and its restart counter is cleared.
func (w *Worker) onConfirm(gen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation || w.state != Starting {
		return
	}
	w.state = Running
	w.restartCount = 0
	w.log.Infof("%s-%d: confirmed running (pid %d)", w.programName, w.index, w.pid)
	w.onChange()
}

// waitForExit blocks on the child started in generation gen by sp, and
// delivers the observed exit to handleExit. It never touches w's
// fields directly (other than through the synchronized handleExit) so
// it is safe to run concurrently with supervision.
func (w *Worker) waitForExit(gen int, sp Spawner) {
	code, _ := sp.Wait()
	w.handleExit(gen, code)
}

// handleExit implements the exit-reaction table of spec.md §4.1.
func (w *Worker) handleExit(gen int, exitCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return // stale event from a superseded spawn
	}

	wasStopping := w.state == Stopping
	w.cancelTimersLocked()
	w.pid = 0

	if wasStopping {
		w.state = Stopped
		w.stopRequested = true
		w.log.Infof("%s-%d: stopped", w.programName, w.index)
		w.onChange()
		return
	}

	if w.spec.shouldRestart(exitCode) {
		if w.restartCount < w.spec.StartRetries {
			w.restartCount++
			w.state = Backoff
			delay := backoffDelay(w.restartCount)
			w.generation++
			nextGen := w.generation
			w.log.Warningf("%s-%d: exited %d, backing off %s (attempt %d)", w.programName, w.index, exitCode, delay, w.restartCount)
			w.backoffTimer = w.clock.AfterFunc(delay, func() { w.onBackoffFire(nextGen) })
		} else {
			w.state = Fatal
			w.log.Errorf("%s-%d: exited %d, retries exhausted, Fatal", w.programName, w.index, exitCode)
		}
	} else {
		w.state = Stopped
		w.log.Infof("%s-%d: exited %d (expected, not restarting)", w.programName, w.index, exitCode)
	}
	w.onChange()
}

// onBackoffFire fires when a backoff timer elapses, re-spawning the
// worker if it is still waiting under the same generation.
func (w *Worker) onBackoffFire(gen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation || w.state != Backoff {
		return
	}
	w.spawnLocked()
}

// Stop implements stop(force). It is idempotent: calling Stop again on
// a Stopping worker returns nil without re-sending the stop signal
// (force still escalates to a kill), and calling it on a Stopped or
// Fatal worker changes nothing and reports ErrAlreadyInState, matching
// spec.md §8's "stop(name); stop(name) equivalent to stop(name)".
func (w *Worker) Stop(force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case Stopped, Fatal:
		return ErrAlreadyInState

	case Stopping:
		if force {
			w.killLocked()
		}
		return nil

	case Backoff:
		w.cancelTimersLocked()
		w.state = Stopped
		w.stopRequested = true
		w.onChange()
		return nil

	case Starting, Running:
		w.stopRequested = true
		w.cancelConfirmTimerLocked()
		w.state = Stopping
		if force {
			w.killLocked()
		} else {
			if err := w.curSpawner.Signal(w.spec.StopSignal); err != nil {
				w.log.Warningf("%s-%d: signal failed, escalating to kill: %v", w.programName, w.index, err)
				w.killLocked()
			} else {
				gen := w.generation
				stopSecs := time.Duration(w.spec.StopSecs) * time.Second
				w.stopTimer = w.clock.AfterFunc(stopSecs, func() { w.onStopGrace(gen) })
			}
		}
		w.onChange()
		return nil
	}
	return nil
}

// onStopGrace fires when the stop-grace timer elapses; if the worker
// is still Stopping under the same generation, it escalates to a
// forced kill.
func (w *Worker) onStopGrace(gen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation || w.state != Stopping {
		return
	}
	w.log.Warningf("%s-%d: graceful stop timed out, force-killing", w.programName, w.index)
	w.killLocked()
}

func (w *Worker) killLocked() {
	if w.curSpawner == nil {
		return
	}
	if err := w.curSpawner.Kill(); err != nil {
		w.log.Warningf("%s-%d: kill failed: %v", w.programName, w.index, err)
	}
}

func (w *Worker) cancelConfirmTimerLocked() {
	if w.confirmTimer != nil {
		w.confirmTimer.Stop()
		w.confirmTimer = nil
	}
}

func (w *Worker) cancelTimersLocked() {
	w.cancelConfirmTimerLocked()
	if w.backoffTimer != nil {
		w.backoffTimer.Stop()
		w.backoffTimer = nil
	}
	if w.stopTimer != nil {
		w.stopTimer.Stop()
		w.stopTimer = nil
	}
}

// Dispose tears the worker down for good: cancels timers, force-kills
// any live child, and closes log sinks. Used when a program is removed
// from the catalog, or reconciliation shrinks num_procs.
func (w *Worker) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelTimersLocked()
	if w.state == Running || w.state == Starting || w.state == Stopping {
		w.killLocked()
	}
	w.generation++ // orphan any in-flight waitForExit/timer callbacks
	w.disposed = true
	w.closeSinksLocked()
}
