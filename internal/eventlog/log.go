// Package eventlog implements the append-only, day-rotated deploy event log.
//
// Lines are queued by Record and written by a single goroutine to
// <dir>/deploy_YYYY-MM-DD.log, stamped in the configured time zone. Record
// never blocks: when the queue is full the line is dropped and reported on
// the diagnostic logger. Write failures are reported the same way.
package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"deployhook/internal/security"
)

const (
	DefaultQueueSize = 1024
	TimestampLayout  = "2006-01-02 15:04:05"
	dayLayout        = "2006-01-02"
)

// Options configures a Log.
type Options struct {
	Dir        string
	Location   *time.Location // defaults to time.Local
	QueueSize  int
	Diagnostic *slog.Logger     // receives write failures and drops; must not log into this Log
	Now        func() time.Time // clock, overridable in tests
}

type entry struct {
	at  time.Time
	msg string
}

// Log is an asynchronous, day-rotated line log. It is safe for concurrent use.
type Log struct {
	dir        string
	loc        *time.Location
	now        func() time.Time
	diagnostic *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan entry
	done   chan struct{}

	dropped atomic.Int64

	// owned by the writer goroutine
	file *os.File
	day  string
}

// New creates the log directory if needed and starts the writer goroutine.
func New(opts Options) (*Log, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("event log directory is required")
	}
	if err := os.MkdirAll(opts.Dir, security.PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Log{
		dir:        opts.Dir,
		loc:        opts.Location,
		now:        opts.Now,
		diagnostic: opts.Diagnostic,
		done:       make(chan struct{}),
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.diagnostic == nil {
		l.diagnostic = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	l.queue = make(chan entry, size)

	go l.run()
	return l, nil
}

// Record enqueues msg stamped with the current time.
func (l *Log) Record(msg string) {
	l.enqueue(l.now(), msg)
}

func (l *Log) enqueue(at time.Time, msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.diagnostic.Warn("event log closed, dropping line", "line", msg)
		return
	}

	select {
	case l.queue <- entry{at: at, msg: msg}:
	default:
		n := l.dropped.Add(1)
		l.diagnostic.Warn("event log queue full, dropping line", "line", msg, "dropped_total", n)
	}
}

// Dropped returns the number of lines dropped because the queue was full.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// PathFor returns the file that a line recorded at t is written to.
func (l *Log) PathFor(t time.Time) string {
	return filepath.Join(l.dir, "deploy_"+t.In(l.loc).Format(dayLayout)+".log")
}

// CurrentFile returns the file lines recorded now are written to.
func (l *Log) CurrentFile() string {
	return l.PathFor(l.now())
}

// Location returns the zone used for timestamps and file names.
func (l *Log) Location() *time.Location {
	return l.loc
}

// Close stops accepting lines, drains the queue and closes the current file.
// It is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *Log) run() {
	defer close(l.done)
	defer l.closeFile()

	for e := range l.queue {
		l.write(e)
	}
}

func (l *Log) write(e entry) {
	local := e.at.In(l.loc)
	line := fmt.Sprintf("[%s] %s\n", local.Format(TimestampLayout), e.msg)

	if day := local.Format(dayLayout); day != l.day || l.file == nil {
		l.closeFile()
		if err := l.open(local); err != nil {
			l.diagnostic.Error("failed to open event log file", "error", err, "line", e.msg)
			return
		}
		l.day = day
	}

	if _, err := l.file.WriteString(line); err != nil {
		l.diagnostic.Error("failed to write event log", "error", err, "file", l.file.Name(), "line", e.msg)
	}
}

func (l *Log) open(t time.Time) error {
	if err := os.MkdirAll(l.dir, security.PermDirectory); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	path := l.PathFor(t)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	l.file = f
	return nil
}

func (l *Log) closeFile() {
	if l.file == nil {
		return
	}
	if err := l.file.Close(); err != nil {
		l.diagnostic.Error("failed to close event log file", "error", err, "file", l.file.Name())
	}
	l.file = nil
	l.day = ""
}
