// Package tracker owns the authoritative mapping from build keys to the
// most recent status record observed for each of them.
package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/message"
	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/queue"
)

// NoInformation is the message returned for a latest-status query when
// no stored record carries a parseable timestamp.
const NoInformation = "no information available"

// Result is the answer to a status query. A hit fills the record
// fields; a miss for a specific key fills Key plus a not_found status;
// a latest-status query over an empty tracker fills only Message.
type Result struct {
	Key              string         `json:"key,omitempty"`
	Status           message.Status `json:"status,omitempty"`
	ArtifactLocation string         `json:"artifact_location,omitempty"`
	Timestamp        string         `json:"timestamp,omitempty"`
	BuildID          string         `json:"build_id,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// Tracker drains notifications from an inbound queue into a keyed map
// of status records. Records are overwritten whole and never deleted,
// so the last notification applied for a key wins.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]message.Record
	queue     *queue.Queue
	histSinks []history.Sink
}

func New(q *queue.Queue) *Tracker {
	return &Tracker{
		records: make(map[string]message.Record),
		queue:   q,
	}
}

// SetHistorySinks configures external history sinks (ClickHouse, OpenSearch, etc.).
// Passing nil or no sinks clears the list.
func (t *Tracker) SetHistorySinks(sinks ...history.Sink) {
	t.mu.Lock()
	t.histSinks = append([]history.Sink(nil), sinks...)
	t.mu.Unlock()
}

// RecordUpdate applies one status notification. The stored record for
// the notification's key is replaced whole; a notification without a
// correlating key is logged and dropped. It never fails.
func (t *Tracker) RecordUpdate(n message.Notification) {
	key := n.Key()
	if key == "" {
		slog.Warn("status notification without commit or session_id dropped",
			"status", n.Status, "build_id", n.BuildID)
		metrics.IncTrackerUpdate("dropped")
		return
	}
	if _, known := message.StatusFromString(string(n.Status)); !known && n.Status != "" {
		// Stored verbatim; newer workers may report states this binary
		// does not know about yet.
		slog.Warn("unknown build status stored", "key", key, "status", n.Status)
	}
	rec := message.Record{
		Key:              key,
		Status:           n.Status,
		ArtifactLocation: n.GCSPath,
		Timestamp:        n.Timestamp,
		BuildID:          n.BuildID,
	}
	t.mu.Lock()
	t.records[key] = rec
	sinks := append([]history.Sink(nil), t.histSinks...)
	t.mu.Unlock()

	metrics.IncTrackerUpdate("stored")
	if len(sinks) > 0 {
		evt := history.Event{
			Type:       history.EventUpdate,
			OccurredAt: time.Now().UTC(),
			Key:        key,
			BuildID:    n.BuildID,
			Status:     string(n.Status),
			Artifact:   n.GCSPath,
		}
		for _, s := range sinks {
			_ = s.Send(context.Background(), evt)
		}
	}
}

// Drain applies every notification currently buffered in the queue and
// returns how many were applied. It never waits for more to arrive.
func (t *Tracker) Drain() int {
	batch := t.queue.Drain()
	for _, n := range batch {
		t.RecordUpdate(n)
	}
	metrics.ObserveDrainBatch(len(batch))
	metrics.SetQueueDepth(t.queue.Len())
	return len(batch)
}

// Query answers a status question. Buffered notifications are drained
// first so the answer reflects everything received before the call.
// With a key it returns that key's record or a not_found result; with
// an empty key it returns the record carrying the lexicographically
// greatest parseable timestamp, or a bare "no information available"
// result when there is none.
func (t *Tracker) Query(key string) Result {
	t.Drain()

	t.mu.Lock()
	defer t.mu.Unlock()

	if key != "" {
		rec, ok := t.records[key]
		if !ok {
			return Result{Key: key, Status: message.StatusNotFound}
		}
		return resultFromRecord(rec)
	}

	rec, ok := t.latestLocked()
	if !ok {
		return Result{Message: NoInformation}
	}
	return resultFromRecord(rec)
}

// latestLocked picks the record with the greatest parseable timestamp.
// Ties fall to whichever record the map yields first.
func (t *Tracker) latestLocked() (message.Record, bool) {
	var (
		best  message.Record
		found bool
	)
	for _, rec := range t.records {
		if _, err := message.ParseTimestamp(rec.Timestamp); err != nil {
			continue
		}
		if !found || rec.Timestamp > best.Timestamp {
			best = rec
			found = true
		}
	}
	return best, found
}

func resultFromRecord(rec message.Record) Result {
	return Result{
		Key:              rec.Key,
		Status:           rec.Status,
		ArtifactLocation: rec.ArtifactLocation,
		Timestamp:        rec.Timestamp,
		BuildID:          rec.BuildID,
	}
}

// Len reports how many keys currently have a stored record.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns a copy of every stored record, sorted by key.
func (t *Tracker) Snapshot() []message.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]message.Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
