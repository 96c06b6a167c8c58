// Package gate decides whether a requested build must run or is
// already served by the artifact cache, and publishes build requests
// for the misses.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildgate/buildgate/internal/artifact"
	"github.com/buildgate/buildgate/internal/bus"
	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/message"
	"github.com/buildgate/buildgate/internal/metrics"
)

const (
	// DefaultBuildCommand is published when a request names no command.
	DefaultBuildCommand = "checkout_and_build"
	// AssetBuildCommand asks the workers for an asset bundle build.
	AssetBuildCommand = "asset-build"
	// DefaultAssetFilename is the upload slot used when a session does
	// not name its asset file.
	DefaultAssetFilename = "my-asset.glb"
)

// BuildParams identifies one requested build.
type BuildParams struct {
	Command     string `json:"command"`
	Branch      string `json:"branch"`
	Commit      string `json:"commit"`
	IsTestBuild bool   `json:"is_test_build"`
}

// AssetParams identifies one requested asset bundle build.
type AssetParams struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
}

// Decision reports the outcome of one build request. A cached build
// carries a download URL; a fresh one carries the build id to correlate
// later status notifications with.
type Decision struct {
	Cached    bool   `json:"cached"`
	BuildID   string `json:"build_id,omitempty"`
	ObjectKey string `json:"object_key"`
	URL       string `json:"url,omitempty"`
	Message   string `json:"message"`
}

// Gate answers build requests against the artifact cache.
type Gate struct {
	store      artifact.Store
	layout     artifact.Layout
	signer     *artifact.Signer
	pub        bus.Publisher
	defCommand string
	histSinks  []history.Sink
}

func New(store artifact.Store, layout artifact.Layout, signer *artifact.Signer, pub bus.Publisher) *Gate {
	return &Gate{
		store:      store,
		layout:     layout.WithDefaults(),
		signer:     signer,
		pub:        pub,
		defCommand: DefaultBuildCommand,
	}
}

// SetDefaultCommand changes the command published for requests that
// name none. An empty value restores the built-in default.
func (g *Gate) SetDefaultCommand(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		command = DefaultBuildCommand
	}
	g.defCommand = command
}

// SetHistorySinks configures external history sinks for request events.
// Passing nil or no sinks clears the list.
func (g *Gate) SetHistorySinks(sinks ...history.Sink) {
	g.histSinks = append([]history.Sink(nil), sinks...)
}

// RequestBuild resolves one build request. A cache hit short-circuits
// the build and returns a download URL; a miss publishes a build
// request and reports the build in progress. No status record is
// written here; the tracker learns about the build from the workers'
// notifications.
//
// The probe races with notification delivery: an artifact uploaded
// after the probe still gets a build published this once, and the next
// request sees the hit. The cache stays authoritative.
func (g *Gate) RequestBuild(ctx context.Context, p BuildParams) (Decision, error) {
	branch := strings.TrimSpace(p.Branch)
	commit := strings.TrimSpace(p.Commit)
	if branch == "" || commit == "" {
		return Decision{}, errors.New("branch and commit are required")
	}

	key := g.layout.ObjectKey(branch, commit)
	exists, err := g.store.Exists(ctx, key)
	if err != nil {
		// A broken cache never blocks builds; probe failures decide
		// like misses.
		slog.Warn("cache probe failed, treating as miss", "key", key, "err", err)
		metrics.IncGateDecision("probe_failed")
		exists = false
	}

	if exists {
		metrics.IncGateDecision("hit")
		g.recordRequest(history.Event{
			Type:       history.EventRequest,
			OccurredAt: time.Now().UTC(),
			Key:        commit,
			Branch:     branch,
			Commit:     commit,
			Status:     "cached",
			Artifact:   key,
			IsTest:     p.IsTestBuild,
		})
		return Decision{
			Cached:    true,
			ObjectKey: key,
			URL:       g.signer.DownloadURL(key),
			Message:   fmt.Sprintf("build for %s/%s found in cache", branch, commit),
		}, nil
	}

	command := p.Command
	if command == "" {
		command = g.defCommand
	}
	buildID := uuid.NewString()
	req := message.BuildRequest{
		BuildID:          buildID,
		Command:          command,
		BranchName:       branch,
		CommitHash:       commit,
		IsTestBuild:      p.IsTestBuild,
		RequestTimestamp: message.NowTimestamp(),
	}
	if err := g.pub.Publish(ctx, commit, req); err != nil {
		metrics.IncPublishFailure()
		return Decision{}, fmt.Errorf("publish build request: %w", err)
	}

	metrics.IncGateDecision("miss")
	g.recordRequest(history.Event{
		Type:       history.EventRequest,
		OccurredAt: time.Now().UTC(),
		Key:        commit,
		BuildID:    buildID,
		Branch:     branch,
		Commit:     commit,
		Status:     "published",
		IsTest:     p.IsTestBuild,
	})
	return Decision{
		Cached:    false,
		BuildID:   buildID,
		ObjectKey: key,
		Message:   fmt.Sprintf("build for %s/%s in progress", branch, commit),
	}, nil
}

// RequestAssetBuild publishes a session-keyed asset bundle build over
// the session's uploaded files. Asset builds are never cached; every
// request publishes.
func (g *Gate) RequestAssetBuild(ctx context.Context, p AssetParams) (Decision, error) {
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		return Decision{}, errors.New("session_id is required")
	}
	command := p.Command
	if command == "" {
		command = AssetBuildCommand
	}

	buildID := uuid.NewString()
	req := message.AssetBuildRequest{
		BuildID:          buildID,
		Command:          command,
		AssetLocation:    g.layout.AssetDir(sessionID),
		RequestTimestamp: message.NowTimestamp(),
		SessionID:        sessionID,
	}
	if err := g.pub.Publish(ctx, sessionID, req); err != nil {
		metrics.IncPublishFailure()
		return Decision{}, fmt.Errorf("publish asset build request: %w", err)
	}

	metrics.IncGateDecision("asset")
	g.recordRequest(history.Event{
		Type:       history.EventRequest,
		OccurredAt: time.Now().UTC(),
		Key:        sessionID,
		BuildID:    buildID,
		Status:     "published",
	})
	return Decision{
		Cached:    false,
		BuildID:   buildID,
		ObjectKey: req.AssetLocation,
		Message:   fmt.Sprintf("asset build for session %s in progress", sessionID),
	}, nil
}

// ArtifactURL issues a download URL for a cached build, following the
// issuance convention of reporting failures as an "Error: ..." string.
// Unlike the gate's own hit path, the artifact must already exist.
func (g *Gate) ArtifactURL(ctx context.Context, branch, commit string) string {
	branch = strings.TrimSpace(branch)
	commit = strings.TrimSpace(commit)
	if branch == "" || commit == "" {
		return "Error: branch and commit are required"
	}
	key := g.layout.ObjectKey(branch, commit)
	exists, err := g.store.Exists(ctx, key)
	if err != nil {
		return fmt.Sprintf("Error: could not check cache for %q: %v", key, err)
	}
	if !exists {
		return fmt.Sprintf("Error: build artifact %q not found in cache", key)
	}
	return g.signer.DownloadURL(key)
}

// UploadURL issues a signed upload URL for one session asset file.
func (g *Gate) UploadURL(sessionID, filename string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "Error: session_id is required"
	}
	if filename == "" {
		filename = DefaultAssetFilename
	}
	return g.signer.UploadURL(g.layout.UploadKey(sessionID, filename))
}

func (g *Gate) recordRequest(evt history.Event) {
	for _, s := range g.histSinks {
		_ = s.Send(context.Background(), evt)
	}
}
