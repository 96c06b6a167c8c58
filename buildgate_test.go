package buildgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	cfg "github.com/buildgate/buildgate/internal/config"
	tlsconf "github.com/buildgate/buildgate/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "buildgate.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestDaemon(t *testing.T, extra string) *Daemon {
	t.Helper()
	body := "[artifact]\nroot = \"" + t.TempDir() + "\"\n" + extra
	c, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	d, err := New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func TestDaemonBuildFlow(t *testing.T) {
	d := newTestDaemon(t, "")
	ctx := context.Background()

	dec, err := d.RequestBuild(ctx, BuildParams{Branch: "main", Commit: "abc123"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if dec.Cached || dec.BuildID == "" {
		t.Fatalf("expected fresh build, got %+v", dec)
	}

	if res := d.Query("abc123"); res.Status != "not_found" {
		t.Fatalf("status before any notification: %+v", res)
	}

	d.RecordUpdate(Notification{Commit: "abc123", Status: "pending", BuildID: dec.BuildID})
	res := d.Query("abc123")
	if res.Status != "pending" || res.BuildID != dec.BuildID {
		t.Fatalf("recorded status: %+v", res)
	}

	key := d.Layout().ObjectKey("main", "abc123")
	if err := d.Store().Put(ctx, key, strings.NewReader("zip-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	dec, err = d.RequestBuild(ctx, BuildParams{Branch: "main", Commit: "abc123"})
	if err != nil {
		t.Fatalf("request after upload: %v", err)
	}
	if !dec.Cached || dec.ObjectKey != key {
		t.Fatalf("expected cache hit for %s, got %+v", key, dec)
	}
}

func TestDaemonLatestQuery(t *testing.T) {
	d := newTestDaemon(t, "")

	if res := d.Query(""); res.Message != "no information available" {
		t.Fatalf("empty daemon: %+v", res)
	}

	d.RecordUpdate(Notification{Commit: "aaa111", Status: "pending", Timestamp: "2025-03-01T10:00:00Z"})
	d.RecordUpdate(Notification{SessionID: "sess-7", Status: "success", Timestamp: "2025-03-02T09:00:00Z"})
	res := d.Query("")
	if res.Key != "sess-7" || res.Status != "success" {
		t.Fatalf("latest: %+v", res)
	}
}

func TestDaemonURLIssuance(t *testing.T) {
	d := newTestDaemon(t, "[signer]\nsecret = \"facade-secret\"\nbase_url = \"https://gate.test\"\n")
	ctx := context.Background()

	if u := d.ArtifactURL(ctx, "main", "abc123"); !strings.HasPrefix(u, "Error:") {
		t.Fatalf("expected issuance error for missing artifact, got %q", u)
	}

	key := d.Layout().ObjectKey("main", "abc123")
	if err := d.Store().Put(ctx, key, strings.NewReader("zip-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	u := d.ArtifactURL(ctx, "main", "abc123")
	if !strings.HasPrefix(u, "https://gate.test/") || !strings.Contains(u, "token=") {
		t.Fatalf("download url: %q", u)
	}

	up := d.UploadURL("sess-1", "")
	if !strings.Contains(up, "my-asset.glb") || !strings.Contains(up, "token=") {
		t.Fatalf("upload url: %q", up)
	}
}

func TestDaemonSubprocessSource(t *testing.T) {
	requireUnix(t)
	body := `
[artifact]
root = "` + t.TempDir() + `"

[source]
command = "printf '{\"commit\":\"feed01\",\"status\":\"success\"}\n'"
stop_grace = "500ms"
`
	c, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	d, err := New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = d.Stop() }()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if res := d.Query("feed01"); res.Status == "success" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notification never arrived: %+v", d.Query("feed01"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonHistorySink(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	d := newTestDaemon(t, "[history]\nenabled = true\nsinks = [\"sqlite://"+dbPath+"\"]\n")

	if _, err := d.RequestBuild(context.Background(), BuildParams{Branch: "main", Commit: "abc123"}); err != nil {
		t.Fatalf("request: %v", err)
	}
	d.RecordUpdate(Notification{Commit: "abc123", Status: "success"})
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("history database missing: %v", err)
	}
}

func TestNewHandlerServesAPI(t *testing.T) {
	d := newTestDaemon(t, "")
	srv := httptest.NewServer(NewHandler("/api", d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestConfigHelpers(t *testing.T) {
	p := writeConfig(t, `
[artifact]
root = "artifacts"
prefix = "game-builds"

[server]
listen = ":9090"
base_path = "/api"

[bus]
kind = "memory"
`)
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Server.Listen != ":9090" || c.Server.BasePath != "/api" {
		t.Fatalf("server config: %+v", c.Server)
	}
	if c.Bus.Kind != "memory" || c.Bus.RequestTopic != "build-requests" {
		t.Fatalf("bus config: %+v", c.Bus)
	}
	if c.Source.Mode != "none" {
		t.Fatalf("source mode: %q", c.Source.Mode)
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}

	d := newTestDaemon(t, "[metrics]\nenabled = true\n\n[metrics.listener]\nenabled = true\ninterval = \"50ms\"\n")
	if err := d.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("daemon RegisterMetrics: %v", err)
	}
}

func TestNewTLSServer(t *testing.T) {
	d := newTestDaemon(t, "")

	sc := cfg.ServerConfig{
		Listen: "127.0.0.1:0",
		TLS: &tlsconf.Config{
			Enabled:      true,
			Dir:          t.TempDir(),
			AutoGenerate: true,
		},
	}
	srv, err := NewTLSServer(sc, d)
	if err != nil {
		t.Fatalf("NewTLSServer: %v", err)
	}
	defer func() { _ = srv.Close() }()
	if srv.TLSConfig == nil || srv.TLSConfig.GetCertificate == nil {
		t.Fatalf("server missing tls config")
	}

	if _, err := NewTLSServer(cfg.ServerConfig{Listen: "127.0.0.1:0"}, d); err == nil {
		t.Fatal("expected error when tls is not enabled")
	}
}
