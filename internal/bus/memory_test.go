package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func TestMemoryPublishRecordsJSON(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	type req struct {
		BuildID string `json:"build_id"`
		Branch  string `json:"branch_name"`
	}
	if err := m.Publish(ctx, "abc123", req{BuildID: "b-1", Branch: "main"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Key != "abc123" {
		t.Errorf("key = %q, want %q", msgs[0].Key, "abc123")
	}
	var got req
	if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal published value: %v", err)
	}
	if got.BuildID != "b-1" || got.Branch != "main" {
		t.Errorf("published value = %+v", got)
	}
}

func TestMemoryPublishUnmarshalable(t *testing.T) {
	m := NewMemory()
	if err := m.Publish(context.Background(), "k", func() {}); err == nil {
		t.Fatal("Publish accepted an unmarshalable payload")
	}
	if m.Len() != 0 {
		t.Errorf("failed publish recorded a message")
	}
}

func TestMemoryPublishCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Publish(ctx, "k", "v"); err == nil {
		t.Fatal("Publish with cancelled context succeeded")
	}
}

func TestMemoryConcurrentPublish(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.Publish(ctx, "k", j)
			}
		}()
	}
	wg.Wait()

	if m.Len() != 400 {
		t.Errorf("got %d messages, want 400", m.Len())
	}
}
