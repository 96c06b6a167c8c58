package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	buskafka "github.com/buildgate/buildgate/internal/bus/kafka"
	"github.com/buildgate/buildgate/internal/message"
	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/queue"
)

// KafkaSource subscribes to the status topic in-process instead of
// reading a listener subprocess's output. Record values carry the same
// JSON notifications the subprocess would print, one per record.
type KafkaSource struct {
	consumer *buskafka.Consumer
	q        *queue.Queue
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

var _ Source = (*KafkaSource)(nil)

func NewKafkaSource(consumer *buskafka.Consumer, q *queue.Queue) *KafkaSource {
	return &KafkaSource{consumer: consumer, q: q}
}

func (s *KafkaSource) Start(ctx context.Context) error {
	if s.done != nil {
		return errors.New("source already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.err = s.consumer.Run(ctx, s.handle)
	}()
	return nil
}

func (s *KafkaSource) handle(_, value []byte) error {
	line := bytes.TrimSpace(value)
	if len(line) == 0 {
		return nil
	}
	n, err := message.ParseNotification(line)
	if err != nil {
		metrics.IncSourceRecord("malformed")
		return err
	}
	s.q.Push(n)
	metrics.IncSourceRecord("accepted")
	metrics.SetQueueDepth(s.q.Len())
	return nil
}

func (s *KafkaSource) Stop(wait time.Duration) error {
	if s.done == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		closeErr := s.consumer.Close()
		if s.err != nil {
			return s.err
		}
		return closeErr
	case <-time.After(wait):
		return fmt.Errorf("kafka source did not stop within %s", wait)
	}
}
