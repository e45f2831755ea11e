package deployment

import (
	"bytes"
	"sync"
)

// MaxLineBytes bounds a buffered output line. Longer lines are emitted in
// chunks of this size.
const MaxLineBytes = 4096

// lineWriter splits a byte stream into lines and hands each one to emit as
// soon as it is complete.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(line string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			for len(w.buf) >= MaxLineBytes {
				w.emitLine(w.buf[:MaxLineBytes])
				w.buf = w.buf[MaxLineBytes:]
			}
			break
		}

		w.buf = append(w.buf, p[:i]...)
		for len(w.buf) > MaxLineBytes {
			w.emitLine(w.buf[:MaxLineBytes])
			w.buf = w.buf[MaxLineBytes:]
		}
		w.emitLine(w.buf)
		w.buf = w.buf[:0]
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emitLine(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) emitLine(b []byte) {
	w.emit(string(bytes.TrimRight(b, "\r")))
}
