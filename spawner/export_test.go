package spawner

import (
	"io"
	"log/slog"
)

// WaitReadyForTest exposes waitReady.
var WaitReadyForTest = waitReady

// NewLineLoggerForTest returns a lineLogger writing to
// logger, plus its Flush method.
func NewLineLoggerForTest(
	logger *slog.Logger,
	stream string,
) (io.Writer, func()) {
	ll := &lineLogger{logger: logger, stream: stream}

	return ll, ll.Flush
}
