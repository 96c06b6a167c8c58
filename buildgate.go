package buildgate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/buildgate/buildgate/internal/artifact"
	"github.com/buildgate/buildgate/internal/bus"
	buskafka "github.com/buildgate/buildgate/internal/bus/kafka"
	cfg "github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/gate"
	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/history/factory"
	"github.com/buildgate/buildgate/internal/message"
	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/queue"
	iapi "github.com/buildgate/buildgate/internal/server"
	"github.com/buildgate/buildgate/internal/source"
	tlsconf "github.com/buildgate/buildgate/internal/tls"
	"github.com/buildgate/buildgate/internal/tracker"
	"github.com/buildgate/buildgate/internal/vc"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Notification = message.Notification

type Result = tracker.Result

type Decision = gate.Decision

type BuildParams = gate.BuildParams

type AssetParams = gate.AssetParams

type Layout = artifact.Layout

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Commit = vc.Commit

// Daemon owns every component of one gate instance: the artifact store
// and signer, the request bus, the status tracker with its notification
// queue, the cache gate, and the configured status source. All
// dependencies are constructed in New and carried explicitly; nothing
// lives in package globals.

type Daemon struct {
	cfg     *cfg.Config
	store   *artifact.FSStore
	layout  artifact.Layout
	signer  *artifact.Signer
	pub     bus.Publisher
	queue   *queue.Queue
	tracker *tracker.Tracker
	gate    *gate.Gate
	vc      *vc.Client
	src     source.Source
	sampler *metrics.ListenerSampler
	sinks   []history.Sink
}

// New builds a Daemon from configuration. The config must already be
// validated; Load does both. New does not start the status source, so
// a Daemon is usable for request/query traffic immediately and begins
// ingesting notifications only after Start.
func New(c *cfg.Config) (*Daemon, error) {
	if c == nil {
		return nil, fmt.Errorf("nil config")
	}

	store, err := artifact.NewFSStore(c.Artifact.Root)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	layout := c.Artifact.Layout()

	var signer *artifact.Signer
	if c.Signer.Secret != "" {
		signer, err = artifact.NewSigner(c.Signer.Secret, c.Signer.BaseURL, c.Signer.URLTTL)
		if err != nil {
			return nil, fmt.Errorf("url signer: %w", err)
		}
	}

	var pub bus.Publisher
	switch c.Bus.Kind {
	case cfg.BusKafka:
		pub, err = buskafka.NewProducer(c.Bus.Brokers, c.Bus.RequestTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
	default:
		pub = bus.NewMemory()
	}

	q := queue.New()
	trk := tracker.New(q)
	g := gate.New(store, layout, signer, pub)
	g.SetDefaultCommand(c.Gate.Command)

	var sinks []history.Sink
	for _, dsn := range c.HistorySinks() {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}
	trk.SetHistorySinks(sinks...)
	g.SetHistorySinks(sinks...)

	var vcClient *vc.Client
	if c.VC != nil {
		token := c.VC.Token
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		vcClient, err = vc.NewClient(token, c.VC.Repo)
		if err != nil {
			return nil, fmt.Errorf("version control client: %w", err)
		}
	}

	var src source.Source
	switch c.Source.Mode {
	case cfg.SourceModeSubprocess:
		env, err := c.GlobalEnv()
		if err != nil {
			return nil, fmt.Errorf("source environment: %w", err)
		}
		src = source.NewProcSource(c.Source.ProcConfig(c.Log.LoggerConfig(), env), q)
	case cfg.SourceModeKafka:
		consumer, err := buskafka.NewConsumer(c.Bus.Brokers, c.Source.GroupID, c.Source.StatusTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		src = source.NewKafkaSource(consumer, q)
	case cfg.SourceModeStdin:
		src = source.NewPipeSource(os.Stdin, q)
	}

	var sampler *metrics.ListenerSampler
	if c.Metrics != nil && c.Metrics.Listener != nil {
		sampler = metrics.NewListenerSampler(*c.Metrics.Listener)
	}

	return &Daemon{
		cfg:     c,
		store:   store,
		layout:  layout,
		signer:  signer,
		pub:     pub,
		queue:   q,
		tracker: trk,
		gate:    g,
		vc:      vcClient,
		src:     src,
		sampler: sampler,
		sinks:   sinks,
	}, nil
}

// Start begins ingesting status notifications from the configured
// source. With no source configured it is a no-op.
func (d *Daemon) Start(ctx context.Context) error {
	if d.src == nil {
		return nil
	}
	if err := d.src.Start(ctx); err != nil {
		return fmt.Errorf("start status source: %w", err)
	}
	if d.sampler != nil {
		if ps, ok := d.src.(*source.ProcSource); ok {
			d.sampler.Start(ctx, ps.PID)
		}
	}
	return nil
}

// Stop shuts the daemon down: the source stops within its grace
// period, queued notifications are drained into the tracker so history
// sinks see them, and the publisher and sinks are released. The first
// error wins; shutdown continues regardless.
func (d *Daemon) Stop() error {
	var firstErr error
	if d.sampler != nil {
		d.sampler.Stop()
	}
	if d.src != nil {
		if err := d.src.Stop(d.cfg.Source.StopGrace); err != nil {
			firstErr = err
		}
	}
	d.tracker.Drain()
	d.pub.Close()
	for _, s := range d.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RequestBuild answers one build request from the cache, publishing a
// build request on a miss. A command configured under [gate] fills in
// for requests that name none.
func (d *Daemon) RequestBuild(ctx context.Context, p BuildParams) (Decision, error) {
	return d.gate.RequestBuild(ctx, p)
}

// RequestAssetBuild publishes an asset bundle build for one session.
func (d *Daemon) RequestAssetBuild(ctx context.Context, p AssetParams) (Decision, error) {
	return d.gate.RequestAssetBuild(ctx, p)
}

func (d *Daemon) Query(key string) Result     { return d.tracker.Query(key) }
func (d *Daemon) RecordUpdate(n Notification) { d.tracker.RecordUpdate(n) }
func (d *Daemon) Drain() int                  { return d.tracker.Drain() }
func (d *Daemon) Layout() Layout              { return d.layout }
func (d *Daemon) Store() artifact.Store       { return d.store }
func (d *Daemon) VC() *vc.Client              { return d.vc }

func (d *Daemon) ArtifactURL(ctx context.Context, branch, commit string) string {
	return d.gate.ArtifactURL(ctx, branch, commit)
}

func (d *Daemon) UploadURL(sessionID, filename string) string {
	return d.gate.UploadURL(sessionID, filename)
}

// RegisterMetrics registers the gate counters and, when a listener
// sampler is configured, its resource gauges on r.
func (d *Daemon) RegisterMetrics(r prometheus.Registerer) error {
	if err := metrics.Register(r); err != nil {
		return err
	}
	if d.sampler != nil {
		return d.sampler.RegisterMetrics(r)
	}
	return nil
}

func (d *Daemon) RegisterMetricsDefault() error {
	return d.RegisterMetrics(prometheus.DefaultRegisterer)
}

func (d *Daemon) deps() iapi.Deps {
	return iapi.Deps{
		Gate:    d.gate,
		Tracker: d.tracker,
		Store:   d.store,
		Signer:  d.signer,
		VC:      d.vc,
	}
}

func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the gate API backed by
// the given daemon.
func NewHTTPServer(addr, basePath string, d *Daemon) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, d.deps())
}

// NewTLSServer starts an HTTPS server exposing the gate API. The server
// config must enable TLS; certificates are loaded from the configured
// files or auto-generated into the configured directory.
func NewTLSServer(sc cfg.ServerConfig, d *Daemon) (*http.Server, error) {
	tc, err := tlsconf.Setup(sc.TLS)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return nil, fmt.Errorf("tls is not enabled in server config")
	}
	return iapi.NewTLSServer(sc.Listen, sc.BasePath, d.deps(), tc)
}

// NewHandler returns the gate API as an http.Handler for mounting in
// an existing server.
func NewHandler(basePath string, d *Daemon) http.Handler {
	return iapi.NewRouter(d.deps(), basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
