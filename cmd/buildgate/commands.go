package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/buildgate/buildgate/pkg/client"
	"github.com/buildgate/buildgate/pkg/template"
)

// command binds the CLI verbs to the daemon API.
type command struct{}

// apiClient builds a client for the daemon, defaulting to the local one,
// and verifies the daemon is actually up before any command talks to it.
func apiClient(apiURL string, timeout time.Duration) (*client.Client, error) {
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080" // Default local daemon
	}
	c := client.New(client.Config{BaseURL: apiURL, Timeout: timeout})
	if !c.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'buildgate serve'", apiURL)
	}
	return c, nil
}

// Request asks the daemon for a build of one commit and prints the
// decision. Without --commit the daemon resolves the branch's latest.
func (c *command) Request(f RequestFlags) error {
	if f.Branch == "" {
		return fmt.Errorf("request requires --branch")
	}

	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	dec, err := api.RequestBuild(context.Background(), client.BuildRequest{
		Branch:      f.Branch,
		Commit:      f.Commit,
		Command:     f.Command,
		IsTestBuild: f.IsTest,
	})
	if err != nil {
		return err
	}
	printJSON(dec)
	return nil
}

// Asset asks the daemon for an asset bundle build over a session's uploads.
func (c *command) Asset(f AssetFlags) error {
	if f.SessionID == "" {
		return fmt.Errorf("asset requires --session")
	}

	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	dec, err := api.RequestAssetBuild(context.Background(), client.AssetBuildRequest{
		SessionID: f.SessionID,
		Command:   f.Command,
	})
	if err != nil {
		return err
	}
	printJSON(dec)
	return nil
}

// Status prints the tracked status for a key, or the latest record when
// no key is given.
func (c *command) Status(f StatusFlags) error {
	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := api.Status(context.Background(), f.Key)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Notify records one status notification, the way a build worker would.
func (c *command) Notify(f NotifyFlags) error {
	if f.Commit == "" && f.SessionID == "" {
		return fmt.Errorf("notify requires --commit or --session")
	}
	if f.Status == "" {
		return fmt.Errorf("notify requires --status")
	}

	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	n := client.StatusNotification{
		Commit:    f.Commit,
		SessionID: f.SessionID,
		Status:    f.Status,
		GCSPath:   f.Artifact,
		BuildID:   f.BuildID,
		Timestamp: f.Timestamp,
	}
	if n.Timestamp == "" {
		n.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if err := api.Notify(context.Background(), n); err != nil {
		return err
	}
	fmt.Println("notification recorded")
	return nil
}

// URL prints a signed download URL for a cached artifact.
func (c *command) URL(f URLFlags) error {
	if f.Branch == "" || f.Commit == "" {
		return fmt.Errorf("url requires --branch and --commit")
	}

	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	u, err := api.ArtifactURL(context.Background(), f.Branch, f.Commit)
	if err != nil {
		return err
	}
	fmt.Println(u)
	return nil
}

// UploadURL prints a signed upload URL for a session's asset file.
func (c *command) UploadURL(f UploadURLFlags) error {
	if f.SessionID == "" {
		return fmt.Errorf("upload-url requires --session")
	}

	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	u, err := api.UploadURL(context.Background(), client.UploadURLRequest{
		SessionID: f.SessionID,
		Filename:  f.Filename,
	})
	if err != nil {
		return err
	}
	fmt.Println(u)
	return nil
}

// Branches lists the repository branches, or resolves a free-form branch
// query to an exact name when --resolve is given.
func (c *command) Branches(f BranchFlags) error {
	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if f.Resolve != "" {
		name, err := api.ResolveBranch(context.Background(), f.Resolve)
		if err != nil {
			return err
		}
		fmt.Println(name)
		return nil
	}
	names, err := api.Branches(context.Background())
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// Commits lists recent commits on a branch, shows one commit with --ref,
// or the newest one with --latest.
func (c *command) Commits(f CommitFlags) error {
	if f.Ref == "" && f.Branch == "" {
		return fmt.Errorf("commits requires --branch or --ref")
	}

	api, err := apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}

	switch {
	case f.Ref != "":
		commit, err := api.CommitDetails(context.Background(), f.Ref)
		if err != nil {
			return err
		}
		printJSON(commit)
	case f.Latest:
		commit, err := api.LatestCommit(context.Background(), f.Branch, f.Author)
		if err != nil {
			return err
		}
		printJSON(commit)
	default:
		commits, err := api.Commits(context.Background(), f.Branch, f.Author, f.Count)
		if err != nil {
			return err
		}
		printJSON(commits)
	}
	return nil
}

// Init writes a starter config file. It runs offline and never touches
// the daemon.
func (c *command) Init(f InitFlags) error {
	outputPath := f.Output
	if outputPath == "" {
		outputPath = "buildgate.toml"
	}

	// Check if file already exists and force flag not set
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}

	generator := template.NewGenerator()
	body, err := generator.Generate(template.Kind(f.Kind))
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Starter config created: %s\n", outputPath)
	fmt.Printf("Edit the config and start the daemon with: buildgate serve --config=%s\n", outputPath)
	return nil
}
