// Package client is the public HTTP client for a buildgate daemon.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client provides HTTP client functionality to communicate with a buildgate daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns default TLS client configuration
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://localhost:8080",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// InsecureConfig returns insecure client configuration (skip TLS verification)
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://localhost:8080",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates a new buildgate API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// RequestBuild asks the gate for req's commit, answering from cache or
// publishing a fresh build request.
func (c *Client) RequestBuild(ctx context.Context, req BuildRequest) (BuildDecision, error) {
	c.logger.Debug("Requesting build", "branch", req.Branch, "commit", req.Commit)
	var d BuildDecision
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/builds", req, &d)
	return d, err
}

// RequestAssetBuild asks the gate to build a session's uploaded assets.
func (c *Client) RequestAssetBuild(ctx context.Context, req AssetBuildRequest) (BuildDecision, error) {
	c.logger.Debug("Requesting asset build", "session_id", req.SessionID)
	var d BuildDecision
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/assets/builds", req, &d)
	return d, err
}

// Status queries the status of one key, or of the most recent record
// when key is empty.
func (c *Client) Status(ctx context.Context, key string) (StatusResult, error) {
	u := c.baseURL + "/status"
	if key != "" {
		u += "?key=" + url.QueryEscape(key)
	}
	var res StatusResult
	err := c.doJSON(ctx, http.MethodGet, u, nil, &res)
	return res, err
}

// Notify injects one status notification directly.
func (c *Client) Notify(ctx context.Context, n StatusNotification) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/notifications", n, nil)
}

// ArtifactURL asks for a signed download URL for a cached artifact. The
// returned string may be an "Error: ..." message instead of a URL.
func (c *Client) ArtifactURL(ctx context.Context, branch, commit string) (string, error) {
	u := fmt.Sprintf("%s/artifacts/url?branch=%s&commit=%s", c.baseURL, url.QueryEscape(branch), url.QueryEscape(commit))
	var res URLResponse
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// UploadURL asks for a signed upload URL for a session asset file.
func (c *Client) UploadURL(ctx context.Context, req UploadURLRequest) (string, error) {
	var res URLResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/uploads", req, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// Download fetches a signed URL. The caller owns the returned body.
func (c *Client) Download(ctx context.Context, signedURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := c.errorFrom(resp)
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Upload sends r to a signed upload URL.
func (c *Client) Upload(ctx context.Context, signedURL string, r io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	return nil
}

// Branches lists the configured repository's branches.
func (c *Client) Branches(ctx context.Context) ([]string, error) {
	var res struct {
		Branches []string `json:"branches"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/vc/branches", nil, &res)
	return res.Branches, err
}

// ResolveBranch maps a loose branch reference to a real branch name.
func (c *Client) ResolveBranch(ctx context.Context, query string) (string, error) {
	var res struct {
		Branch string `json:"branch"`
	}
	u := c.baseURL + "/vc/branches/resolve?q=" + url.QueryEscape(query)
	err := c.doJSON(ctx, http.MethodGet, u, nil, &res)
	return res.Branch, err
}

// Commits lists up to n recent commits on branch, optionally filtered
// by author.
func (c *Client) Commits(ctx context.Context, branch, author string, n int) ([]Commit, error) {
	var res struct {
		Commits []Commit `json:"commits"`
	}
	u := fmt.Sprintf("%s/vc/commits?branch=%s", c.baseURL, url.QueryEscape(branch))
	if author != "" {
		u += "&author=" + url.QueryEscape(author)
	}
	if n > 0 {
		u += fmt.Sprintf("&n=%d", n)
	}
	err := c.doJSON(ctx, http.MethodGet, u, nil, &res)
	return res.Commits, err
}

// CommitDetails resolves a full or partial commit hash.
func (c *Client) CommitDetails(ctx context.Context, ref string) (Commit, error) {
	var commit Commit
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/vc/commits/"+url.PathEscape(ref), nil, &commit)
	return commit, err
}

// LatestCommit returns the newest commit on branch, optionally only
// counting commits by author.
func (c *Client) LatestCommit(ctx context.Context, branch, author string) (Commit, error) {
	u := c.baseURL + "/vc/latest?branch=" + url.QueryEscape(branch)
	if author != "" {
		u += "&author=" + url.QueryEscape(author)
	}
	var commit Commit
	err := c.doJSON(ctx, http.MethodGet, u, nil, &commit)
	return commit, err
}

// doJSON performs an HTTP request with common error handling, encoding
// in as the JSON body when non-nil and decoding the response into out
// when non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFrom turns a non-200 response into an error.
func (c *Client) errorFrom(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}
