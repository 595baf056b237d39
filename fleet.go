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
	"sync"
	"time"
)

// Fleet is the fixed-cardinality set of Workers running one program's
// catalog entry. It owns the slot slice; Workers never add or remove
// themselves. Grounded on the map-of-slots bookkeeping this codebase's
// manager lineage uses for services, reshaped around a program's
// num_procs instead of one worker per service.
type Fleet struct {
	mu sync.RWMutex

	name       string
	spec       *ProgramSpec
	workers    []*Worker
	newSpawner func() Spawner
	clock      Clock
	log        *LogSink
	onChange   func()
	tun        *tunables
}

// NewFleet builds a Fleet of spec.NumProcs Workers, none started.
func NewFleet(spec *ProgramSpec, newSpawner func() Spawner, clock Clock, log *LogSink, tun *tunables, onChange func()) *Fleet {
	if onChange == nil {
		onChange = func() {}
	}
	f := &Fleet{
		name:       spec.Name,
		spec:       spec,
		newSpawner: newSpawner,
		clock:      clock,
		log:        log,
		onChange:   onChange,
		tun:        tun,
	}
	f.workers = f.buildWorkersLocked(spec.NumProcs)
	return f
}

func (f *Fleet) buildWorkersLocked(n int) []*Worker {
	ws := make([]*Worker, n)
	for i := 0; i < n; i++ {
		ws[i] = NewWorker(f.name, f.spec, i, f.newSpawner, f.clock, f.log, f.onChange)
	}
	return ws
}

// Name reports the program name this fleet belongs to.
func (f *Fleet) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// Spec returns the fleet's current program spec.
func (f *Fleet) Spec() *ProgramSpec {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.spec
}

// StartAll starts every stopped/fatal worker in the fleet, pausing
// InterSpawnDelay between each spawn so a crash-looping program does
// not fork-bomb the host, per spec.md §4.2. Every slot gets a start
// attempt regardless of an earlier one's outcome, but the call reports
// the first genuine failure it saw (spec.md §4.2: "returns success iff
// every call returns success"); a slot that was already Starting,
// Running, or Stopping is not a failure, just a no-op for that slot.
func (f *Fleet) StartAll() error {
	f.mu.RLock()
	workers := append([]*Worker(nil), f.workers...)
	delay := f.tun.interSpawnDelay
	f.mu.RUnlock()

	var firstErr error
	for i, w := range workers {
		if i > 0 {
			time.Sleep(delay)
		}
		if err := w.Start(); err != nil && err != ErrAlreadyInState && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll requests every worker in the fleet stop, optionally forced.
// It does not block until they are actually stopped; callers observe
// completion through Status() or the serial watch mechanism.
func (f *Fleet) StopAll(force bool) {
	f.mu.RLock()
	workers := append([]*Worker(nil), f.workers...)
	f.mu.RUnlock()

	for _, w := range workers {
		w.Stop(force)
	}
}

// RestartAll stops every worker and, once each has actually stopped
// (observed via polling up to its stop_secs plus the fleet's shutdown
// grace), starts it again. Workers that refuse to die are force-killed
// before being restarted. Reports the same first-failure-wins error as
// the StartAll half.
func (f *Fleet) RestartAll() error {
	f.StopAllAndWait(false)
	return f.StartAll()
}

// StopAllAndWait requests a stop from every worker and blocks until
// each has actually reached a terminal state (Stopped or Fatal), up to
// its stop_secs plus the fleet's shutdown grace; stragglers past that
// deadline are force-killed and given up to one more grace period for
// the kill to be observed. Used by RestartAll and by Supervisor
// shutdown, which both need to know the processes are actually gone
// before proceeding.
func (f *Fleet) StopAllAndWait(force bool) {
	f.mu.RLock()
	workers := append([]*Worker(nil), f.workers...)
	spec := f.spec
	grace := f.tun.shutdownGrace
	f.mu.RUnlock()

	deadline := time.Duration(spec.StopSecs)*time.Second + grace
	for _, w := range workers {
		w.Stop(force)
	}
	f.awaitStopped(workers, deadline, grace)
}

// awaitStopped polls each worker until it leaves Starting/Running/
// Stopping. A worker still active once the deadline elapses is
// force-killed, and polling continues for up to grace more so the kill
// can take effect; after that the caller proceeds regardless, so it
// never waits indefinitely.
func (f *Fleet) awaitStopped(workers []*Worker, deadline, grace time.Duration) {
	const pollInterval = 20 * time.Millisecond
	cutoff := f.clock.Now().Add(deadline)
	giveUp := cutoff.Add(grace)
	for _, w := range workers {
		killed := false
		for {
			st := w.Snapshot().State
			if st != Starting && st != Running && st != Stopping {
				break
			}
			now := f.clock.Now()
			if !killed && now.After(cutoff) {
				w.Stop(true)
				killed = true
			}
			if killed && now.After(giveUp) {
				break
			}
			time.Sleep(pollInterval)
		}
	}
}

// Status returns a snapshot of every worker in the fleet, in slot
// order.
func (f *Fleet) Status() []WorkerStatus {
	f.mu.RLock()
	workers := append([]*Worker(nil), f.workers...)
	f.mu.RUnlock()

	out := make([]WorkerStatus, len(workers))
	for i, w := range workers {
		out[i] = w.Snapshot()
	}
	return out
}

// UpdateSpec swaps the fleet's spec pointer and propagates it to every
// worker, without touching any worker's running state. Used for
// reconfigurations that are not "significantly different" per
// spec.md §4.3.
func (f *Fleet) UpdateSpec(spec *ProgramSpec) {
	f.mu.Lock()
	f.spec = spec
	workers := append([]*Worker(nil), f.workers...)
	f.mu.Unlock()

	for _, w := range workers {
		w.UpdateSpec(spec)
	}
}

// Reshape grows or shrinks the fleet to spec.NumProcs, per spec.md
// §4.3: new slots are created stopped (started separately by the
// caller if autostart applies); removed slots are disposed after being
// force-stopped.
func (f *Fleet) Reshape(spec *ProgramSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.spec = spec
	target := spec.NumProcs
	current := len(f.workers)

	if target > current {
		for i := current; i < target; i++ {
			f.workers = append(f.workers, NewWorker(f.name, spec, i, f.newSpawner, f.clock, f.log, f.onChange))
		}
		for _, w := range f.workers[:current] {
			w.UpdateSpec(spec)
		}
		return
	}

	if target < current {
		doomed := f.workers[target:]
		f.workers = f.workers[:target]
		for _, w := range f.workers {
			w.UpdateSpec(spec)
		}
		go func() {
			for _, w := range doomed {
				w.Dispose()
			}
		}()
	}
}

// worker returns the slot at index i, for callers that need to watch
// one worker's own state machine directly rather than a Status snapshot.
func (f *Fleet) worker(i int) *Worker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.workers[i]
}

// Dispose force-stops and tears down every worker in the fleet. Used
// when a program is removed from the catalog entirely on reload.
func (f *Fleet) Dispose() {
	f.mu.Lock()
	workers := append([]*Worker(nil), f.workers...)
	f.workers = nil
	f.mu.Unlock()

	for _, w := range workers {
		w.Dispose()
	}
}
