package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "buildgate.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_Minimal(t *testing.T) {
	file := writeTOML(t, `
[artifact]
root = "/tmp/artifacts"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Artifact.Root != "/tmp/artifacts" {
		t.Fatalf("unexpected artifact root: %q", cfg.Artifact.Root)
	}
	// Defaults fill in the rest.
	if cfg.Server == nil || cfg.Server.Listen != ":8080" {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Bus.Kind != BusMemory || cfg.Bus.RequestTopic != "build-requests" {
		t.Fatalf("unexpected bus: %+v", cfg.Bus)
	}
	if cfg.Source.Mode != SourceModeNone {
		t.Fatalf("expected source mode none, got %q", cfg.Source.Mode)
	}
}

func TestLoad_Full(t *testing.T) {
	file := writeTOML(t, `
env = ["TOP=1"]

[log]
level = "debug"
dir = "/var/log/buildgate"
max_size_mb = 32

[server]
listen = "127.0.0.1:9090"
base_path = "/api"

[metrics]
enabled = true
listen = ":9100"
  [metrics.listener]
  enabled = true
  interval = "10s"

[artifact]
root = "/srv/artifacts"
prefix = "builds"
ext = "tar.gz"

[signer]
secret = "hunter2"
base_url = "https://gate.example.com"
url_ttl = "30m"

[gate]
command = "start_build"

[bus]
kind = "kafka"
brokers = "localhost:9092"
request_topic = "requests"

[source]
command = "python listener.py"
workdir = "/opt/listener"
env = ["PYTHONUNBUFFERED=1"]
stop_grace = "3s"

[history]
enabled = true
sinks = ["sqlite:///tmp/history.db"]

[vc]
repo = "owner/game-repo"
token = "ghp_x"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Dir != "/var/log/buildgate" {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
	lc := cfg.Log.LoggerConfig()
	if lc.File.Dir != "/var/log/buildgate" || lc.File.MaxSizeMB != 32 {
		t.Fatalf("unexpected logger config: %+v", lc)
	}
	if cfg.Server.Listen != "127.0.0.1:9090" || cfg.Server.BasePath != "/api" {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Metrics == nil || !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9100" {
		t.Fatalf("unexpected metrics: %+v", cfg.Metrics)
	}
	if cfg.Metrics.Listener == nil || cfg.Metrics.Listener.Interval != 10*time.Second {
		t.Fatalf("unexpected listener sampler: %+v", cfg.Metrics.Listener)
	}
	layout := cfg.Artifact.Layout()
	if layout.Prefix != "builds" || layout.Ext != "tar.gz" {
		t.Fatalf("unexpected layout: %+v", layout)
	}
	if layout.UploadPrefix == "" {
		t.Fatalf("layout defaults not applied: %+v", layout)
	}
	if cfg.Signer.Secret != "hunter2" || cfg.Signer.URLTTL != 30*time.Minute {
		t.Fatalf("unexpected signer: %+v", cfg.Signer)
	}
	if cfg.Gate.Command != "start_build" {
		t.Fatalf("unexpected gate: %+v", cfg.Gate)
	}
	if cfg.Bus.Kind != BusKafka || cfg.Bus.Brokers != "localhost:9092" || cfg.Bus.RequestTopic != "requests" {
		t.Fatalf("unexpected bus: %+v", cfg.Bus)
	}
	// Command set, so mode defaults to subprocess even on a kafka bus.
	if cfg.Source.Mode != SourceModeSubprocess || cfg.Source.StopGrace != 3*time.Second {
		t.Fatalf("unexpected source: %+v", cfg.Source)
	}
	if got := cfg.HistorySinks(); len(got) != 1 || got[0] != "sqlite:///tmp/history.db" {
		t.Fatalf("unexpected history sinks: %v", got)
	}
	if cfg.VC == nil || cfg.VC.Repo != "owner/game-repo" {
		t.Fatalf("unexpected vc: %+v", cfg.VC)
	}
}

func TestLoad_KafkaSourceDefault(t *testing.T) {
	file := writeTOML(t, `
[bus]
kind = "kafka"
brokers = "broker-1:9092,broker-2:9092"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.Mode != SourceModeKafka {
		t.Fatalf("expected source mode kafka, got %q", cfg.Source.Mode)
	}
	if cfg.Source.StatusTopic != "build-status" || cfg.Source.GroupID != "buildgate" {
		t.Fatalf("unexpected source defaults: %+v", cfg.Source)
	}
}

func TestSourceProcConfig_MergesEnv(t *testing.T) {
	sc := SourceConfig{
		Command: "python listener.py",
		Env:     []string{"LOCAL=1"},
		Name:    "listener",
	}
	pc := sc.ProcConfig(LogConfig{Dir: "/var/log"}.LoggerConfig(), []string{"GLOBAL=1"})
	if len(pc.Env) != 2 || pc.Env[0] != "GLOBAL=1" || pc.Env[1] != "LOCAL=1" {
		t.Fatalf("unexpected env merge: %v", pc.Env)
	}
	if pc.Log.File.Dir != "/var/log" {
		t.Fatalf("log config not carried: %+v", pc.Log)
	}
}

func TestHistorySinks_DisabledOrAbsent(t *testing.T) {
	var c Config
	if got := c.HistorySinks(); got != nil {
		t.Fatalf("expected nil sinks for absent history, got %v", got)
	}
	c.History = &HistoryConfig{Enabled: false, Sinks: []string{"sqlite::memory:"}}
	if got := c.HistorySinks(); got != nil {
		t.Fatalf("expected nil sinks for disabled history, got %v", got)
	}
}

func TestLoad_ServerTLS(t *testing.T) {
	file := writeTOML(t, `
[artifact]
root = "/tmp/artifacts"

[server]
listen = ":8443"

[server.tls]
enabled = true
dir = "/etc/buildgate/certs"
auto_generate = true
min_version = "1.2"

[server.tls.auto_gen]
common_name = "gate.internal"
dns_names = ["gate.internal", "localhost"]
valid_days = 90
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := cfg.Server.TLS
	if tc == nil || !tc.Enabled {
		t.Fatalf("expected enabled tls config, got %+v", tc)
	}
	if tc.Dir != "/etc/buildgate/certs" || !tc.AutoGenerate {
		t.Fatalf("unexpected tls config: %+v", tc)
	}
	if tc.MinVersion != "1.2" {
		t.Fatalf("unexpected min version: %q", tc.MinVersion)
	}
	if tc.AutoGen == nil || tc.AutoGen.CommonName != "gate.internal" || len(tc.AutoGen.DNSNames) != 2 {
		t.Fatalf("unexpected auto_gen: %+v", tc.AutoGen)
	}
	if tc.AutoGen.ValidDays != 90 {
		t.Fatalf("unexpected valid_days: %d", tc.AutoGen.ValidDays)
	}
}
