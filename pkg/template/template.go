package template

import (
	"fmt"
	"strings"
)

// Kind represents the deployment shape a starter config is generated for
type Kind string

const (
	KindSubprocess Kind = "subprocess"
	KindListener   Kind = "listener"
	KindKafka      Kind = "kafka"
	KindStdin      Kind = "stdin"
	KindPipe       Kind = "pipe"
	KindMinimal    Kind = "minimal"
	KindBasic      Kind = "basic"
)

// Generator produces commented starter TOML configs
type Generator struct{}

// NewGenerator creates a new config generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a starter config for the given kind. The output is a
// complete TOML document that the daemon can load as-is.
func (g *Generator) Generate(kind Kind) (string, error) {
	switch kind {
	case KindSubprocess, KindListener:
		return g.generateSubprocessConfig(), nil
	case KindKafka:
		return g.generateKafkaConfig(), nil
	case KindStdin, KindPipe:
		return g.generateStdinConfig(), nil
	case KindMinimal, KindBasic:
		return g.generateMinimalConfig(), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s (supported: subprocess, kafka, stdin, minimal)", kind)
	}
}

// SupportedKinds returns a list of all supported config kinds
func (g *Generator) SupportedKinds() []string {
	return []string{
		string(KindSubprocess),
		string(KindKafka),
		string(KindStdin),
		string(KindMinimal),
	}
}

func (g *Generator) generateSubprocessConfig() string {
	return join(
		header("build status arrives from a listener subprocess"),
		coreSections(),
		`[source]
mode = "subprocess"
# Command is run through the shell; each stdout line is parsed as a
# status notification JSON object.
command = "python listener.py"
name = "listener"
# workdir = "/opt/listener"
# env = ["LISTENER_MODE=live"]
stop_grace = "5s"
`,
		metricsSections(true),
		optionalSections(),
	)
}

func (g *Generator) generateKafkaConfig() string {
	return join(
		header("build requests and status notifications flow over Kafka"),
		coreSections(),
		`[bus]
kind = "kafka"
brokers = "localhost:9092"
request_topic = "build-requests"

[source]
mode = "kafka"
status_topic = "build-status"
group_id = "buildgate"
`,
		metricsSections(false),
		optionalSections(),
	)
}

func (g *Generator) generateStdinConfig() string {
	return join(
		header("status notifications are piped into the daemon's stdin"),
		coreSections(),
		`[source]
mode = "stdin"
`,
		metricsSections(false),
		optionalSections(),
	)
}

func (g *Generator) generateMinimalConfig() string {
	return join(
		header("API-only daemon; notifications arrive via POST"),
		`[artifact]
root = "/var/lib/buildgate/artifacts"

[server]
listen = ":8080"
`,
	)
}

func header(text string) string {
	return "# buildgate configuration: " + text + "\n"
}

func coreSections() string {
	return `[log]
level = "info"
# dir = "/var/log/buildgate"

[server]
listen = ":8080"
base_path = ""
# [server.tls]
# enabled = true
# dir = "/etc/buildgate/certs"
# auto_generate = true

[artifact]
root = "/var/lib/buildgate/artifacts"
prefix = "builds"
ext = "tar.gz"

[signer]
# Secret enables signed download/upload URLs.
secret = "change-me"
base_url = "http://localhost:8080"
url_ttl = "15m"

[gate]
command = "checkout_and_build"
`
}

func metricsSections(withListener bool) string {
	s := `[metrics]
enabled = true
listen = ":9090"
`
	if withListener {
		s += `  [metrics.listener]
  enabled = true
  interval = "10s"
`
	}
	return s
}

func optionalSections() string {
	return `# [history]
# enabled = true
# sinks = ["sqlite:///var/lib/buildgate/history.db"]

# [vc]
# token = ""
# repo = "owner/repo"
`
}

func join(sections ...string) string {
	return strings.Join(sections, "\n")
}
