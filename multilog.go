package taskmaster

import (
	"io"
)

// multiWriter fans a single io.Writer out to several destinations,
// continuing to write to the rest even if one fails; write errors are
// reported back to the supervisor's log sink rather than aborting the
// write, per the IOFailure policy (log at warning, no state change).
type multiWriter struct {
	sink    *LogSink
	program string
	dests   []io.Writer
}

func newMultiWriter(sink *LogSink, program string, dests ...io.Writer) *multiWriter {
	live := make([]io.Writer, 0, len(dests))
	for _, d := range dests {
		if d != nil {
			live = append(live, d)
		}
	}
	return &multiWriter{sink: sink, program: program, dests: live}
}

func (m *multiWriter) Write(b []byte) (int, error) {
	for _, d := range m.dests {
		if _, err := d.Write(b); err != nil && m.sink != nil {
			m.sink.Warningf("%s: log write failed: %v", m.program, err)
		}
	}
	return len(b), nil
}
