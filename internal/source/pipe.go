package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/buildgate/buildgate/internal/queue"
)

// PipeSource ingests notifications from an arbitrary byte stream such
// as a file, a socket, or another process's output.
type PipeSource struct {
	r      io.Reader
	q      *queue.Queue
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

var _ Source = (*PipeSource)(nil)

func NewPipeSource(r io.Reader, q *queue.Queue) *PipeSource {
	return &PipeSource{r: r, q: q}
}

func (s *PipeSource) Start(ctx context.Context) error {
	if s.done != nil {
		return errors.New("source already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.err = Pump(ctx, s.r, s.q)
	}()
	return nil
}

// Stop cancels the pump and closes the stream when it is closable, so a
// read blocked mid-line gets unstuck.
func (s *PipeSource) Stop(wait time.Duration) error {
	if s.done == nil {
		return nil
	}
	s.cancel()
	if c, ok := s.r.(io.Closer); ok {
		_ = c.Close()
	}
	select {
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return nil
	case <-time.After(wait):
		return fmt.Errorf("source did not stop within %s", wait)
	}
}

// Done is closed when the pump has finished, whether by EOF, stop, or a
// stream error.
func (s *PipeSource) Done() <-chan struct{} { return s.done }

// Err reports why the pump finished. It is meaningful only after Done
// is closed. Cancellation and closed-stream errors count as clean.
func (s *PipeSource) Err() error {
	if s.err == nil || errors.Is(s.err, context.Canceled) ||
		errors.Is(s.err, fs.ErrClosed) || errors.Is(s.err, io.ErrClosedPipe) {
		return nil
	}
	return s.err
}
