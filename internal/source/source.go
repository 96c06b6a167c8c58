// Package source ingests build status notifications from an external
// producer and buffers them for the tracker to drain.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/buildgate/buildgate/internal/message"
	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/queue"
)

// maxLineBytes bounds a single status record line.
const maxLineBytes = 1 << 20

// Source feeds status notifications into the shared queue until stopped.
type Source interface {
	// Start begins ingesting and returns once ingestion is running.
	Start(ctx context.Context) error
	// Stop halts ingestion, waiting up to wait for a clean shutdown.
	// Notifications already buffered in the queue stay there for the
	// tracker to drain.
	Stop(wait time.Duration) error
}

// Pump reads line-delimited JSON status records from r into q until EOF
// or cancellation. Blank lines are skipped. Lines that fail to parse
// are logged and skipped; neither ever stops the stream.
func Pump(ctx context.Context, r io.Reader, q *queue.Queue) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		n, err := message.ParseNotification(line)
		if err != nil {
			slog.Warn("discarding malformed status record", "err", err, "line", truncateLine(line))
			metrics.IncSourceRecord("malformed")
			continue
		}
		q.Push(n)
		metrics.IncSourceRecord("accepted")
		metrics.SetQueueDepth(q.Len())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read status stream: %w", err)
	}
	return nil
}

func truncateLine(line []byte) string {
	const keep = 200
	if len(line) <= keep {
		return string(line)
	}
	return string(line[:keep]) + "..."
}
