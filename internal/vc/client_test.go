package vc_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildgate/buildgate/internal/vc"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) (*vc.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := vc.NewClientWithHTTPClient(server.Client(), server.URL+"/", "owner/game-repo")
	require.NoError(t, err)

	return client, server
}

// branchJSON is a helper struct for building GitHub API branch responses.
type branchJSON struct {
	Name string `json:"name"`
}

// commitJSON is a helper struct for building GitHub API commit responses.
type commitJSON struct {
	SHA    string        `json:"sha"`
	Commit gitCommitJSON `json:"commit"`
	Author *userJSON     `json:"author,omitempty"`
}

type gitCommitJSON struct {
	Message string        `json:"message"`
	Author  gitAuthorJSON `json:"author"`
}

type gitAuthorJSON struct {
	Name string `json:"name"`
	Date string `json:"date,omitempty"`
}

type userJSON struct {
	Login string `json:"login"`
}

func branchHandler(names ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		branches := make([]branchJSON, 0, len(names))
		for _, n := range names {
			branches = append(branches, branchJSON{Name: n})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(branches)
	})
}

func TestListBranches_SortedAcrossPages(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/owner/game-repo/branches", r.URL.Path)

		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")

		if page == "" || page == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			json.NewEncoder(w).Encode([]branchJSON{{Name: "main"}, {Name: "feature/signup"}})
			return
		}
		json.NewEncoder(w).Encode([]branchJSON{{Name: "develop"}})
	})

	client, _ := newTestClient(t, handler)
	names, err := client.ListBranches(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"develop", "feature/signup", "main"}, names)
}

func TestResolveBranch(t *testing.T) {
	client, _ := newTestClient(t, branchHandler("main", "develop", "feature/login", "feature/signup"))
	ctx := context.Background()

	tests := []struct {
		query string
		want  string
	}{
		{"main", "main"},
		{"MAIN", "main"},
		{"the main branch", "main"},
		{"master", "main"},
		{"dev", "develop"},
		{"development", "develop"},
		{"login", "feature/login"},
	}
	for _, tc := range tests {
		got, err := client.ResolveBranch(ctx, tc.query)
		require.NoError(t, err, "query %q", tc.query)
		assert.Equal(t, tc.want, got, "query %q", tc.query)
	}
}

func TestResolveBranch_Errors(t *testing.T) {
	client, _ := newTestClient(t, branchHandler("main", "feature/login", "feature/signup"))
	ctx := context.Background()

	_, err := client.ResolveBranch(ctx, "release-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "feature/login")

	_, err = client.ResolveBranch(ctx, "feature")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = client.ResolveBranch(ctx, "  ")
	require.Error(t, err)
}

func TestListCommits_MapsFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/owner/game-repo/commits", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "alice", r.URL.Query().Get("author"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]commitJSON{
			{
				SHA: "abc123",
				Commit: gitCommitJSON{
					Message: "Tune jump physics",
					Author:  gitAuthorJSON{Name: "Alice Dev", Date: "2026-02-01T09:30:00Z"},
				},
				Author: &userJSON{Login: "alice"},
			},
			{
				SHA: "def456",
				Commit: gitCommitJSON{
					Message: "Fix collision mesh",
					Author:  gitAuthorJSON{Name: "Alice Dev", Date: "2026-01-31T18:00:00Z"},
				},
			},
			{
				SHA:    "0a1b2c",
				Commit: gitCommitJSON{Message: "Initial import"},
			},
		})
	})

	client, _ := newTestClient(t, handler)
	commits, err := client.ListCommits(context.Background(), "main", "alice", 5)

	require.NoError(t, err)
	require.Len(t, commits, 3)

	assert.Equal(t, "abc123", commits[0].Hash)
	assert.Equal(t, "alice", commits[0].Author)
	assert.Equal(t, "Tune jump physics", commits[0].Message)
	assert.Equal(t, "2026-02-01T09:30:00Z", commits[0].Timestamp)

	// No user object: fall back to the git author name.
	assert.Equal(t, "Alice Dev", commits[1].Author)

	// No author of any kind, no date.
	assert.Equal(t, "Unknown", commits[2].Author)
	assert.Equal(t, "", commits[2].Timestamp)
}

func TestListCommits_TruncatesToCount(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]commitJSON{
			{SHA: "aaa", Commit: gitCommitJSON{Message: "one"}},
			{SHA: "bbb", Commit: gitCommitJSON{Message: "two"}},
			{SHA: "ccc", Commit: gitCommitJSON{Message: "three"}},
		})
	})

	client, _ := newTestClient(t, handler)
	commits, err := client.ListCommits(context.Background(), "main", "", 2)

	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "aaa", commits[0].Hash)
	assert.Equal(t, "bbb", commits[1].Hash)
}

func TestLatestCommit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]commitJSON{
			{SHA: "head01", Commit: gitCommitJSON{Message: "newest", Author: gitAuthorJSON{Name: "Bob"}}},
		})
	})

	client, _ := newTestClient(t, handler)
	commit, err := client.LatestCommit(context.Background(), "main", "")

	require.NoError(t, err)
	assert.Equal(t, "head01", commit.Hash)
	assert.Equal(t, "newest", commit.Message)
}

func TestLatestCommit_Empty(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]commitJSON{})
	})

	client, _ := newTestClient(t, handler)

	_, err := client.LatestCommit(context.Background(), "main", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `branch "main"`)

	_, err = client.LatestCommit(context.Background(), "main", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestCommitDetails_PartialHash(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/owner/game-repo/commits/abc1", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(commitJSON{
			SHA: "abc123f00d",
			Commit: gitCommitJSON{
				Message: "Tune jump physics",
				Author:  gitAuthorJSON{Name: "Alice Dev", Date: "2026-02-01T09:30:00Z"},
			},
			Author: &userJSON{Login: "alice"},
		})
	})

	client, _ := newTestClient(t, handler)
	commit, err := client.CommitDetails(context.Background(), "abc1")

	require.NoError(t, err)
	assert.Equal(t, "abc123f00d", commit.Hash)
	assert.Equal(t, "alice", commit.Author)
}

func TestCommitDetails_NotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "No commit found"}`)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.CommitDetails(context.Background(), "beef99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"beef99" not found`)

	_, err = client.CommitDetails(context.Background(), "")
	require.Error(t, err)
}

func TestNewClient_RepoValidation(t *testing.T) {
	for _, bad := range []string{"", "norepo", "/repo", "owner/"} {
		_, err := vc.NewClient("", bad)
		assert.Error(t, err, "repo %q", bad)
	}

	client, err := vc.NewClient("", "owner/game-repo")
	require.NoError(t, err)
	assert.Equal(t, "owner/game-repo", client.Repo())
}
