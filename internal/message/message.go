package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the symbolic build state carried by notifications.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusNotFound Status = "not_found"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:  {},
	StatusSuccess:  {},
	StatusFailed:   {},
	StatusNotFound: {},
}

// StatusFromString returns s as a Status and whether it is one of the
// known values. Unknown values are still usable; the tracker stores and
// returns them verbatim so newer workers can report states this binary
// does not know about yet.
func StatusFromString(s string) (Status, bool) {
	st := Status(s)
	_, ok := knownStatuses[st]
	return st, ok
}

// Notification is one status record emitted by a build worker, carried
// as a single JSON line. Commit or SessionID must be present for the
// record to be trackable; everything else is optional.
type Notification struct {
	Commit    string `json:"commit,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    Status `json:"status"`
	GCSPath   string `json:"gcs_path,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	BuildID   string `json:"build_id,omitempty"`
}

// Key returns the correlating key for n: the commit hash when present,
// otherwise the session identifier. Empty means the record cannot be
// correlated and must be dropped.
func (n Notification) Key() string {
	if n.Commit != "" {
		return n.Commit
	}
	return n.SessionID
}

// ParseNotification decodes a single notification line.
func ParseNotification(line []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(line, &n); err != nil {
		return Notification{}, fmt.Errorf("parse notification: %w", err)
	}
	return n, nil
}

// BuildRequest is the message published to the build queue when the
// cache holds no artifact for the requested commit.
type BuildRequest struct {
	BuildID          string `json:"build_id"`
	Command          string `json:"command"`
	BranchName       string `json:"branch_name"`
	CommitHash       string `json:"commit_hash"`
	IsTestBuild      bool   `json:"is_test_build"`
	RequestTimestamp string `json:"request_timestamp"`
}

// AssetBuildRequest is the message published when a user session asks
// for an asset bundle build of its uploaded files. Asset builds are
// keyed by session, not commit, and are never served from cache.
type AssetBuildRequest struct {
	BuildID          string `json:"build_id"`
	Command          string `json:"command"`
	AssetLocation    string `json:"asset_location"`
	RequestTimestamp string `json:"request_timestamp"`
	SessionID        string `json:"session_id"`
}

// Record is the tracker's last-known state for one build key.
type Record struct {
	Key              string `json:"key"`
	Status           Status `json:"status"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	BuildID          string `json:"build_id,omitempty"`
}

// timestampLayouts lists the accepted wire formats, tried in order.
// Workers emit ISO-8601 variants; zoneless timestamps with or without
// fractional seconds are the oldest formats still seen in the wild.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601-like timestamp string.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// NowTimestamp formats the current UTC time the way requests and
// notifications carry it on the wire.
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
