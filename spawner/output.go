package spawner

import (
	"bytes"
	"log/slog"
	"sync"
)

// lineLogger is an io.Writer that emits one log record
// per output line of a child process. A trailing partial
// line is held until the next write or Flush.
type lineLogger struct {
	logger *slog.Logger
	stream string
	pid    int
	port   uint16

	mu  sync.Mutex
	buf []byte
}

func (ll *lineLogger) Write(p []byte) (int, error) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	ll.buf = append(ll.buf, p...)

	for {
		idx := bytes.IndexByte(ll.buf, '\n')
		if idx < 0 {
			break
		}

		ll.emit(ll.buf[:idx])
		ll.buf = ll.buf[idx+1:]
	}

	return len(p), nil
}

func (ll *lineLogger) setPID(pid int) {
	ll.mu.Lock()
	ll.pid = pid
	ll.mu.Unlock()
}

// Flush logs any buffered partial line.
func (ll *lineLogger) Flush() {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if len(ll.buf) > 0 {
		ll.emit(ll.buf)
		ll.buf = nil
	}
}

func (ll *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}

	ll.logger.Debug(
		"server output",
		"stream", ll.stream,
		"pid", ll.pid,
		"port", ll.port,
		"line", string(line),
	)
}
