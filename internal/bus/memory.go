package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published record as the transport would carry it.
type Message struct {
	Key   string
	Value []byte
}

// Memory is an in-process Publisher for tests and single-binary runs.
// It marshals payloads exactly like the Kafka transport so callers hit
// the same serialization errors either way.
type Memory struct {
	mu   sync.Mutex
	msgs []Message
}

var _ Publisher = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	m.mu.Lock()
	m.msgs = append(m.msgs, Message{Key: key, Value: value})
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() {}

// Messages returns a copy of everything published so far, in order.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}
