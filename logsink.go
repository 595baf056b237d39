package taskmaster

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level is a log severity, matching the four levels spec'd for the log
// file format.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// ParseLevel maps the config file's 0..3 loglevel to a Level, clamping
// out-of-range values.
func ParseLevel(n int) Level {
	switch {
	case n <= 0:
		return LevelError
	case n == 1:
		return LevelWarning
	case n == 2:
		return LevelInfo
	default:
		return LevelDebug
	}
}

const maxLogRecords = 1000

// LogRecord is one line retained in the in-memory ring buffer, keyed by
// a monotonically increasing id suitable for watch/poll protocols.
type LogRecord struct {
	Id    int64     `json:"id,string"`
	Time  time.Time `json:"time"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
}

// LogSink is the abstract log API the engine calls: a leveled, line
// oriented sink that also keeps the last maxLogRecords lines in memory,
// readable through Records and Watch.
type LogSink struct {
	level   Level
	writers []io.Writer

	mx         sync.Mutex
	records    []LogRecord
	numRecords int
	id         int64
	cvs        map[*sync.Cond]bool
}

// NewLogSink builds a LogSink writing to the given destinations (e.g.
// a log file and, when not daemonized, stderr), filtered to level.
func NewLogSink(level Level, writers ...io.Writer) *LogSink {
	return &LogSink{
		level:   level,
		writers: writers,
		id:      time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
}

func (s *LogSink) lock()   { s.mx.Lock() }
func (s *LogSink) unlock() { s.mx.Unlock() }

// log formats and appends a line at the given level, fanning it out to
// every registered writer and the ring buffer. Lines below the sink's
// configured level are dropped before any formatting work happens.
func (s *LogSink) log(level Level, format string, args ...interface{}) {
	if level > s.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now()
	line := fmt.Sprintf("[%s] [%-6s] %s", ts.Format("2006-01-02 15:04:05"), level.String(), msg)

	s.lock()
	if s.records == nil {
		s.records = make([]LogRecord, maxLogRecords)
	}
	idx := s.numRecords % maxLogRecords
	s.id++
	s.records[idx] = LogRecord{Id: s.id, Time: ts, Level: level, Text: msg}
	s.numRecords++
	for cv := range s.cvs {
		cv.Broadcast()
	}
	s.unlock()

	for _, w := range s.writers {
		io.WriteString(w, line+"\n")
	}
}

func (s *LogSink) Errorf(format string, args ...interface{})   { s.log(LevelError, format, args...) }
func (s *LogSink) Warningf(format string, args ...interface{}) { s.log(LevelWarning, format, args...) }
func (s *LogSink) Infof(format string, args ...interface{})    { s.log(LevelInfo, format, args...) }
func (s *LogSink) Debugf(format string, args ...interface{})   { s.log(LevelDebug, format, args...) }

// Records returns nil if nothing has been logged since id last;
// otherwise it returns every buffered record, oldest first. It also
// returns the newest id, suitable for use as an Etag/watch token.
func (s *LogSink) Records(last int64) ([]LogRecord, int64) {
	s.lock()
	defer s.unlock()
	if s.id == last {
		return nil, last
	}
	cnt := s.numRecords
	if cnt > maxLogRecords {
		cnt = maxLogRecords
	}
	recs := make([]LogRecord, 0, cnt)
	start := s.numRecords - cnt
	for i := 0; i < cnt; i++ {
		recs = append(recs, s.records[(start+i)%maxLogRecords])
	}
	return recs, s.id
}

// Watch blocks until the sink's id changes from last, or expire
// elapses (0 meaning "poll once, don't wait"), returning the current id.
func (s *LogSink) Watch(last int64, expire time.Duration) int64 {
	expired := expire <= 0
	cv := sync.NewCond(&s.mx)
	var timer *time.Timer
	if !expired {
		timer = time.AfterFunc(expire, func() {
			s.lock()
			expired = true
			cv.Broadcast()
			s.unlock()
		})
	}

	s.lock()
	s.cvs[cv] = true
	for s.id == last && !expired {
		cv.Wait()
	}
	delete(s.cvs, cv)
	rv := s.id
	s.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// sinkWriter adapts a LogSink+Level into an io.Writer, so it can be
// handed to a *log.Logger or used as a pipe destination for a line
// prefixed with its own tag (e.g. "myprog-0 stdout> ").
type sinkWriter struct {
	sink   *LogSink
	level  Level
	prefix string
}

func (w *sinkWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.sink.log(w.level, "%s%s", w.prefix, line)
	}
	return len(b), nil
}
