package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buildgate/buildgate"
	"github.com/buildgate/buildgate/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string // Only config path for CLI commands
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	requestFlags := &RequestFlags{}
	assetFlags := &AssetFlags{}
	statusFlags := &StatusFlags{}
	notifyFlags := &NotifyFlags{}
	urlFlags := &URLFlags{}
	uploadURLFlags := &UploadURLFlags{}
	branchFlags := &BranchFlags{}
	commitFlags := &CommitFlags{}
	initFlags := &InitFlags{}

	gateCommand := command{}

	root := createRootCommand(globalFlags)

	// Add subcommands
	root.AddCommand(
		createServeCommand(globalFlags),
		createInitCommand(gateCommand, initFlags),
		createRequestCommand(gateCommand, requestFlags),
		createAssetCommand(gateCommand, assetFlags),
		createStatusCommand(gateCommand, statusFlags),
		createNotifyCommand(gateCommand, notifyFlags),
		createURLCommand(gateCommand, urlFlags),
		createUploadURLCommand(gateCommand, uploadURLFlags),
		createBranchesCommand(gateCommand, branchFlags),
		createCommitsCommand(gateCommand, commitFlags),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "buildgate",
		Short: "Build cache gate and status tracking daemon",
		Long: `Buildgate answers build requests from an artifact cache, publishes
build requests to the workers on cache misses, and tracks the status
notifications the workers send back.

Examples:
  buildgate serve --config=buildgate.toml
  buildgate request --branch=main --commit=a1b2c3d
  buildgate status --key=a1b2c3d
  buildgate status --api-url=http://remote:8080  # Remote status`,
	}

	// Only essential flags for CLI commands
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the buildgate daemon",
		Long: `Start the buildgate daemon: the HTTP API, the configured status
source, and the metrics endpoint.
All configuration is loaded from a TOML config file.

Examples:
  buildgate serve                     # Start daemon (uses --config)
  buildgate serve buildgate.toml      # Start with specific config file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=buildgate.toml or provide as argument")
	}

	cfg, err := buildgate.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger.Setup(cfg.Log.LoggerConfig())

	d, err := buildgate.New(cfg)
	if err != nil {
		return err
	}

	// Setup metrics from config
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := d.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := buildgate.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start status source: %w", err)
	}

	// Create and start HTTP/HTTPS server
	protocol := "HTTP"
	var server *http.Server

	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		protocol = "HTTPS"
		server, err = buildgate.NewTLSServer(*cfg.Server, d)
		if err != nil {
			_ = d.Stop()
			return fmt.Errorf("failed to create HTTPS server: %w", err)
		}
	} else {
		server, err = buildgate.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, d)
		if err != nil {
			_ = d.Stop()
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
	}

	fmt.Printf("Starting buildgate %s server on %s%s\n", protocol, cfg.Server.Listen, cfg.Server.BasePath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	_ = server.Close()
	return d.Stop()
}

// createInitCommand creates the init subcommand
func createInitCommand(gateCommand command, initFlags *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a commented starter config for a common deployment shape.
Edit the generated file and pass it to 'buildgate serve'.

Supported config kinds:
  subprocess - status notifications from a listener subprocess
  kafka      - requests and notifications over Kafka topics
  stdin      - notifications piped into the daemon
  minimal    - API-only daemon

Examples:
  buildgate init --kind=subprocess
  buildgate init --kind=kafka --output=./kafka-gate.toml
  buildgate init --kind=minimal --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Init(*initFlags)
		},
	}

	cmd.Flags().StringVar(&initFlags.Kind, "kind", "", "config kind (required): subprocess, kafka, stdin, minimal")
	cmd.Flags().StringVar(&initFlags.Output, "output", "", "output file path (defaults to buildgate.toml)")
	cmd.Flags().BoolVar(&initFlags.Force, "force", false, "overwrite existing config file")

	// Mark required flags
	if err := cmd.MarkFlagRequired("kind"); err != nil {
		panic(err)
	}

	return cmd
}

// createRequestCommand creates the request subcommand
func createRequestCommand(gateCommand command, requestFlags *RequestFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a build for a branch and commit",
		Long: `Request a build for one commit. A cached artifact answers
immediately with a download URL; otherwise a build request is published
to the workers and the new build id is printed. Without --commit the
daemon resolves the branch's latest commit (requires [vc] configured).

Examples:
  buildgate request --branch=main --commit=a1b2c3d
  buildgate request --branch=main
  buildgate request --branch=main --commit=a1b2c3d --test
  buildgate request --branch=main --commit=a1b2c3d --api-url=http://remote:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Request(*requestFlags)
		},
	}

	cmd.Flags().StringVar(&requestFlags.Branch, "branch", "", "branch name (required)")
	cmd.Flags().StringVar(&requestFlags.Commit, "commit", "", "commit hash (defaults to the branch's latest)")
	cmd.Flags().StringVar(&requestFlags.Command, "command", "", "build command override")
	cmd.Flags().BoolVar(&requestFlags.IsTest, "test", false, "mark as a test build")

	// Remote daemon connection
	cmd.Flags().StringVar(&requestFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&requestFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("branch"); err != nil {
		panic(err)
	}

	return cmd
}

// createAssetCommand creates the asset subcommand
func createAssetCommand(gateCommand command, assetFlags *AssetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Request an asset bundle build for a session",
		Long: `Request an asset bundle build over the files a session has
uploaded. Asset builds are never cached; every request publishes.

Examples:
  buildgate asset --session=sess-42
  buildgate asset --session=sess-42 --api-url=http://remote:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Asset(*assetFlags)
		},
	}

	cmd.Flags().StringVar(&assetFlags.SessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&assetFlags.Command, "command", "", "build command override")

	// Remote daemon connection
	cmd.Flags().StringVar(&assetFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&assetFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(gateCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query tracked build status",
		Long: `Query the status record for a commit hash or session id. With no
key the latest record across all builds is returned.

Examples:
  buildgate status --key=a1b2c3d
  buildgate status                  # Latest build status
  buildgate status --api-url=http://remote:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.Key, "key", "", "commit hash or session id")

	// Remote daemon connection
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createNotifyCommand creates the notify subcommand
func createNotifyCommand(gateCommand command, notifyFlags *NotifyFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Record a build status notification",
		Long: `Record one status notification the way a build worker would.
Useful for testing the tracker and for manual corrections.

Examples:
  buildgate notify --commit=a1b2c3d --status=building
  buildgate notify --commit=a1b2c3d --status=success --artifact=gs://bucket/main/a1b2c3d.zip
  buildgate notify --session=sess-42 --status=failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Notify(*notifyFlags)
		},
	}

	cmd.Flags().StringVar(&notifyFlags.Commit, "commit", "", "commit hash key")
	cmd.Flags().StringVar(&notifyFlags.SessionID, "session", "", "session id key")
	cmd.Flags().StringVar(&notifyFlags.Status, "status", "", "build status (required)")
	cmd.Flags().StringVar(&notifyFlags.Artifact, "artifact", "", "artifact location")
	cmd.Flags().StringVar(&notifyFlags.BuildID, "build-id", "", "build id")
	cmd.Flags().StringVar(&notifyFlags.Timestamp, "timestamp", "", "status timestamp (default now)")

	// Remote daemon connection
	cmd.Flags().StringVar(&notifyFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&notifyFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("status"); err != nil {
		panic(err)
	}

	return cmd
}

// createURLCommand creates the url subcommand
func createURLCommand(gateCommand command, urlFlags *URLFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Get a download URL for a cached artifact",
		Long: `Print a signed download URL for the cached artifact of one commit.
Failures are reported as an "Error: ..." line, matching what the API
returns.

Examples:
  buildgate url --branch=main --commit=a1b2c3d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.URL(*urlFlags)
		},
	}

	cmd.Flags().StringVar(&urlFlags.Branch, "branch", "", "branch name (required)")
	cmd.Flags().StringVar(&urlFlags.Commit, "commit", "", "commit hash (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&urlFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&urlFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("branch"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("commit"); err != nil {
		panic(err)
	}

	return cmd
}

// createUploadURLCommand creates the upload-url subcommand
func createUploadURLCommand(gateCommand command, uploadURLFlags *UploadURLFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload-url",
		Short: "Get an upload URL for a session's asset file",
		Long: `Print a signed upload URL for a session's asset file slot.

Examples:
  buildgate upload-url --session=sess-42
  buildgate upload-url --session=sess-42 --filename=scene.glb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.UploadURL(*uploadURLFlags)
		},
	}

	cmd.Flags().StringVar(&uploadURLFlags.SessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&uploadURLFlags.Filename, "filename", "", "asset filename (default slot if empty)")

	// Remote daemon connection
	cmd.Flags().StringVar(&uploadURLFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&uploadURLFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	// Mark required flags
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}

	return cmd
}

// createBranchesCommand creates the branches subcommand
func createBranchesCommand(gateCommand command, branchFlags *BranchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branches",
		Short: "List or resolve repository branches",
		Long: `List the branches of the configured game repository, or resolve a
free-form branch query ("the main branch", "dev") to an exact name.

Examples:
  buildgate branches
  buildgate branches --resolve="the main branch"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Branches(*branchFlags)
		},
	}

	cmd.Flags().StringVar(&branchFlags.Resolve, "resolve", "", "resolve a branch query to an exact name")

	// Remote daemon connection
	cmd.Flags().StringVar(&branchFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&branchFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createCommitsCommand creates the commits subcommand
func createCommitsCommand(gateCommand command, commitFlags *CommitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commits",
		Short: "List commits on a branch",
		Long: `List recent commits on a branch, show a single commit with --ref,
or the newest commit with --latest.

Examples:
  buildgate commits --branch=main
  buildgate commits --branch=main --author=alice -n 10
  buildgate commits --branch=main --latest
  buildgate commits --ref=a1b2c3d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateCommand.Commits(*commitFlags)
		},
	}

	cmd.Flags().StringVar(&commitFlags.Branch, "branch", "", "branch name")
	cmd.Flags().StringVar(&commitFlags.Author, "author", "", "filter by author")
	cmd.Flags().IntVarP(&commitFlags.Count, "count", "n", 0, "number of commits (default 5)")
	cmd.Flags().BoolVar(&commitFlags.Latest, "latest", false, "show only the newest commit")
	cmd.Flags().StringVar(&commitFlags.Ref, "ref", "", "show one commit by hash (partial hashes allowed)")

	// Remote daemon connection
	cmd.Flags().StringVar(&commitFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&commitFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}
