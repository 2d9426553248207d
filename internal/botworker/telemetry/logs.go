package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/botoralo/botworker/internal/botworker/errkind"
)

// ChunkSize bounds the bytes returned by one LogStream.Next call.
const ChunkSize = 32 * 1024

// ErrorChunkPrefix starts the diagnostic chunk emitted when the runtime
// fails mid-stream.
const ErrorChunkPrefix = "[error streaming logs] "

// LogStream is a consumer-driven log stream. Next returns io.EOF once the
// sandbox stops producing output; a runtime failure is reported as one last
// chunk starting with ErrorChunkPrefix, followed by io.EOF.
type LogStream struct {
	src    io.ReadCloser
	buf    []byte
	once   sync.Once
	closed atomic.Bool
	// pending holds a diagnostic chunk still to be delivered.
	pending []byte
	done    bool
	stop    func() bool
}

// Logs opens a live log stream for the bot. The stream is closed when ctx
// is cancelled or Close is called, whichever comes first.
func (s *Streamer) Logs(ctx context.Context, ownerID, externalID string) (*LogStream, error) {
	bot, err := s.lookup(ctx, ownerID, externalID)
	if err != nil {
		return nil, err
	}
	if !bot.ContainerID.Valid || bot.ContainerID.String == "" {
		return nil, errkind.New(errkind.BadRequest, "bot not running")
	}

	src, err := s.runtime.StreamLogs(ctx, handleFor(bot))
	if err != nil {
		slog.Warn("logs: open failed", "bot", bot.ID, "err", err)
		return errorStream(err), nil
	}

	ls := &LogStream{src: src, buf: make([]byte, ChunkSize)}
	ls.stop = context.AfterFunc(ctx, func() { ls.Close() })
	return ls, nil
}

func errorStream(err error) *LogStream {
	return &LogStream{pending: diagnostic(err), done: true}
}

func diagnostic(err error) []byte {
	return []byte(fmt.Sprintf("%s%v", ErrorChunkPrefix, err))
}

// Next blocks until output is available and returns it. The returned slice
// is owned by the caller.
func (l *LogStream) Next(ctx context.Context) ([]byte, error) {
	if l.pending != nil {
		chunk := l.pending
		l.pending = nil
		return chunk, nil
	}
	if l.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		l.Close()
		return nil, err
	}

	n, err := l.src.Read(l.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, l.buf[:n])
		if err != nil {
			l.finish(err)
		}
		return chunk, nil
	}
	if err == nil {
		// Zero-byte reads carry no signal; ask again.
		return l.Next(ctx)
	}
	l.finish(err)
	return l.Next(ctx)
}

// finish ends the stream, queueing a diagnostic chunk for real failures.
// Errors caused by our own Close are not failures.
func (l *LogStream) finish(err error) {
	l.done = true
	if l.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		l.Close()
		return
	}
	l.Close()
	l.pending = diagnostic(err)
}

// Close releases the runtime log handle. It is safe to call more than once.
func (l *LogStream) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		if l.stop != nil {
			l.stop()
		}
		if l.src != nil {
			err = l.src.Close()
		}
	})
	return err
}
