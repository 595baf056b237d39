package taskmaster

import (
	"fmt"
	"time"
)

// Facade is the full control surface every in-process adapter (REPL,
// control socket, HTTP API) depends on. *Supervisor satisfies it;
// adapters take a Facade so they can be driven by a fake in tests
// without standing up a real supervisor.
type Facade interface {
	Start(name string) error
	StartAll() error
	Stop(name string, force bool) error
	StopAll(force bool) error
	Restart(name string) error
	RestartAll() error
	Status(name string) ([]WorkerStatus, error)
	StatusAll() map[string][]WorkerStatus
	Config(name string) (*ProgramSpec, error)
	Signal(name string, sig SignalName) error
	Reload(catalog []*ProgramSpec) (*ReloadResult, error)
	Shutdown(force bool)
	Property(name PropertyName) (interface{}, error)
	SetProperty(name PropertyName, v interface{}) error
	Serial() int64
	WatchSerial(last int64, expire time.Duration) int64
	ProgramNames() []string
}

var _ Facade = (*Supervisor)(nil)

// FormatStatusLine renders one worker's status the way every
// line-oriented surface (REPL, control socket) prints it:
// "<name>-<index> (pid <pid>): <State>[, up for <duration>]".
func FormatStatusLine(st WorkerStatus, now time.Time) string {
	base := fmt.Sprintf("%s-%d (pid %d): %s", st.Program, st.Index, st.Pid, st.State)
	if st.State == Running || st.State == Stopping {
		if !st.StartedAt.IsZero() {
			base += fmt.Sprintf(", up for %s", now.Sub(st.StartedAt).Round(time.Second))
		}
	}
	return base
}
