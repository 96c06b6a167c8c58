// Package vc reads the game repository's branches and commits from
// GitHub, so build requests can be pinned to real refs.
package vc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
)

// DefaultCommitCount is how many commits a log query returns when the
// caller does not say.
const DefaultCommitCount = 5

// Commit is one commit as the rest of the pipeline sees it.
type Commit struct {
	Hash      string `json:"hash"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Client queries a single GitHub repository.
type Client struct {
	gh    *gh.Client
	owner string
	repo  string
}

// NewClient creates a GitHub client for repoFullName ("owner/repo")
// with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// An empty token leaves the client unauthenticated, which is enough for
// public repositories.
func NewClient(token, repoFullName string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and
// base URL. This constructor is intended for testing, allowing injection
// of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, repoFullName string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	client := gh.NewClient(httpClient)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u
	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// Repo returns the "owner/repo" name this client is pinned to.
func (c *Client) Repo() string { return c.owner + "/" + c.repo }

// ListBranches returns the repository's branch names, sorted. It
// handles pagination automatically.
func (c *Client) ListBranches(ctx context.Context) ([]string, error) {
	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{PerPage: 100}}

	var names []string
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing branches for %s (page %d): %w", c.Repo(), opts.Page, err)
		}
		logRateLimit(resp, c.Repo()+"/branches", opts.Page, len(branches))
		for _, b := range branches {
			names = append(names, b.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.Strings(names)
	return names, nil
}

// ResolveBranch maps a loose branch reference to a real branch name:
// an exact (case-insensitive) match wins, then the main/master and
// develop/dev aliases, then a unique substring match in either
// direction. Anything else is an error naming the available branches.
func (c *Client) ResolveBranch(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty branch query")
	}
	names, err := c.ListBranches(ctx)
	if err != nil {
		return "", err
	}

	queryLower := strings.ToLower(query)
	byLower := make(map[string]string, len(names))
	for _, n := range names {
		byLower[strings.ToLower(n)] = n
	}

	if n, ok := byLower[queryLower]; ok {
		return n, nil
	}

	if strings.Contains(queryLower, "main") || strings.Contains(queryLower, "master") {
		for _, alias := range []string{"main", "master"} {
			if n, ok := byLower[alias]; ok {
				return n, nil
			}
		}
	}
	if strings.Contains(queryLower, "develop") || strings.Contains(queryLower, "dev") {
		for _, alias := range []string{"develop", "dev"} {
			if n, ok := byLower[alias]; ok {
				return n, nil
			}
		}
	}

	var matches []string
	for lower, n := range byLower {
		if strings.Contains(queryLower, lower) || strings.Contains(lower, queryLower) {
			matches = append(matches, n)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("branch %q not found; available: %s", query, strings.Join(names, ", "))
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("branch %q is ambiguous between: %s", query, strings.Join(matches, ", "))
	}
}

// ListCommits returns up to n recent commits from the head of branch,
// newest first, optionally filtered to one author login. n falls back
// to DefaultCommitCount.
func (c *Client) ListCommits(ctx context.Context, branch, author string, n int) ([]Commit, error) {
	if n <= 0 {
		n = DefaultCommitCount
	}
	opts := &gh.CommitsListOptions{
		SHA:         branch,
		Author:      author,
		ListOptions: gh.ListOptions{PerPage: n},
	}
	commits, resp, err := c.gh.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, fmt.Errorf("listing commits for %s@%s: %w", c.Repo(), branch, err)
	}
	logRateLimit(resp, c.Repo()+"/commits", 0, len(commits))

	out := make([]Commit, 0, min(n, len(commits)))
	for _, rc := range commits {
		out = append(out, mapCommit(rc))
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// LatestCommit returns the newest commit on branch, optionally only
// counting commits by author.
func (c *Client) LatestCommit(ctx context.Context, branch, author string) (Commit, error) {
	commits, err := c.ListCommits(ctx, branch, author, 1)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) == 0 {
		if author != "" {
			return Commit{}, fmt.Errorf("no commits by %q on branch %q", author, branch)
		}
		return Commit{}, fmt.Errorf("no commits on branch %q", branch)
	}
	return commits[0], nil
}

// CommitDetails resolves a full or partial commit hash to its details.
func (c *Client) CommitDetails(ctx context.Context, ref string) (Commit, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Commit{}, fmt.Errorf("empty commit ref")
	}
	rc, resp, err := c.gh.Repositories.GetCommit(ctx, c.owner, c.repo, ref, nil)
	if err != nil {
		return Commit{}, fmt.Errorf("commit %q not found in %s: %w", ref, c.Repo(), err)
	}
	logRateLimit(resp, c.Repo()+"/commit-detail", 0, 1)
	return mapCommit(rc), nil
}

func mapCommit(rc *gh.RepositoryCommit) Commit {
	author := "Unknown"
	if login := rc.GetAuthor().GetLogin(); login != "" {
		author = login
	} else if name := rc.GetCommit().GetAuthor().GetName(); name != "" {
		author = name
	}
	ts := ""
	if d := rc.GetCommit().GetAuthor().GetDate(); !d.IsZero() {
		ts = d.UTC().Format(time.RFC3339)
	}
	return Commit{
		Hash:      rc.GetSHA(),
		Author:    author,
		Message:   rc.GetCommit().GetMessage(),
		Timestamp: ts,
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
