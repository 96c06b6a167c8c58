package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/buildgate/buildgate/internal/artifact"
	"github.com/buildgate/buildgate/internal/gate"
	"github.com/buildgate/buildgate/internal/message"
	"github.com/buildgate/buildgate/internal/tracker"
	"github.com/buildgate/buildgate/internal/vc"
)

// Router provides embeddable HTTP handlers for the build gate.
// Endpoints:
//
//	POST {basePath}/builds           body: {branch, commit, command?, is_test_build?}
//	POST {basePath}/assets/builds    body: {session_id, command?}
//	GET  {basePath}/status           query: key=... (empty key answers with the latest record)
//	POST {basePath}/notifications    body: status notification JSON
//	GET  {basePath}/artifacts/url    query: branch=...&commit=...
//	POST {basePath}/uploads          body: {session_id, filename?}
//	GET  {basePath}/download/*key    query: token=...
//	PUT  {basePath}/upload/*key      query: token=...
//	GET  {basePath}/vc/branches
//	GET  {basePath}/vc/branches/resolve  query: q=...
//	GET  {basePath}/vc/commits       query: branch=...&author=...&n=...
//	GET  {basePath}/vc/commits/:ref
//	GET  {basePath}/vc/latest        query: branch=...&author=...
//	GET  {basePath}/healthz
//
// Status answers are always 200: not_found and "no information
// available" are results, not errors. Version-control endpoints answer
// 503 until a repository is configured.
// basePath may be empty or start with '/'; no trailing slash.

// Deps carries the router's collaborators. Store and Signer may be nil
// only together with the routes that need them going unused.
type Deps struct {
	Gate    *gate.Gate
	Tracker *tracker.Tracker
	Store   artifact.Store
	Signer  *artifact.Signer
	VC      *vc.Client
}

type Router struct {
	deps     Deps
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/builds, /api/status, ...
func NewRouter(d Deps, basePath string) *Router {
	return &Router{deps: d, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.POST("/builds", r.handleRequestBuild)
	group.POST("/assets/builds", r.handleRequestAssetBuild)
	group.GET("/status", r.handleStatus)
	group.POST("/notifications", r.handleNotification)
	group.GET("/artifacts/url", r.handleArtifactURL)
	group.POST("/uploads", r.handleUploadURL)
	group.GET("/download/*key", r.handleDownload)
	group.PUT("/upload/*key", r.handleUpload)
	group.GET("/vc/branches", r.handleBranches)
	group.GET("/vc/branches/resolve", r.handleResolveBranch)
	group.GET("/vc/commits", r.handleCommits)
	group.GET("/vc/commits/:ref", r.handleCommitDetails)
	group.GET("/vc/latest", r.handleLatestCommit)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The returned function can be called to shutdown the server immediately
// by closing the listener via http.Server's Close.
func NewServer(addr, basePath string, d Deps) (*http.Server, error) {
	r := NewRouter(d, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewTLSServer starts a standalone HTTPS server on addr using this
// router. Certificates are looked up through tlsConf on every
// handshake, so the files can be rotated without a restart.
func NewTLSServer(addr, basePath string, d Deps, tlsConf *tls.Config) (*http.Server, error) {
	if tlsConf == nil {
		return nil, fmt.Errorf("tls configuration is required for HTTPS server")
	}
	r := NewRouter(d, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type urlResp struct {
	URL string `json:"url"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRequestBuild(c *gin.Context) {
	var p gate.BuildParams
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	p.Branch = strings.TrimSpace(p.Branch)
	p.Commit = strings.TrimSpace(p.Commit)
	if p.Branch == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "branch required"})
		return
	}
	if !isSafeBranch(p.Branch) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid branch name"})
		return
	}
	// A branch-only request builds the branch's latest commit.
	if p.Commit == "" {
		if r.deps.VC == nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "commit required (no version control configured)"})
			return
		}
		latest, err := r.deps.VC.LatestCommit(c.Request.Context(), p.Branch, "")
		if err != nil {
			writeJSON(c, http.StatusBadGateway, errorResp{Error: "resolve latest commit: " + err.Error()})
			return
		}
		p.Commit = latest.Hash
	} else if !isHexCommit(p.Commit) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid commit hash"})
		return
	}
	d, err := r.deps.Gate.RequestBuild(c.Request.Context(), p)
	if err != nil {
		// Validation passed above, so this is the publish path failing.
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleRequestAssetBuild(c *gin.Context) {
	var p gate.AssetParams
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(p.SessionID) == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "session_id required"})
		return
	}
	d, err := r.deps.Gate.RequestAssetBuild(c.Request.Context(), p)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleStatus(c *gin.Context) {
	res := r.deps.Tracker.Query(c.Query("key"))
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleNotification(c *gin.Context) {
	var n message.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if n.Key() == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "commit or session_id required"})
		return
	}
	r.deps.Tracker.RecordUpdate(n)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleArtifactURL(c *gin.Context) {
	url := r.deps.Gate.ArtifactURL(c.Request.Context(), c.Query("branch"), c.Query("commit"))
	writeJSON(c, http.StatusOK, urlResp{URL: url})
}

func (r *Router) handleUploadURL(c *gin.Context) {
	var p struct {
		SessionID string `json:"session_id"`
		Filename  string `json:"filename"`
	}
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	url := r.deps.Gate.UploadURL(p.SessionID, p.Filename)
	writeJSON(c, http.StatusOK, urlResp{URL: url})
}

// verifyToken resolves the signed token for key, answering the request
// itself on failure.
func (r *Router) verifyToken(c *gin.Context, key string, want artifact.Scope) bool {
	if r.deps.Signer == nil || r.deps.Store == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "artifact serving is not configured"})
		return false
	}
	if !isSafeKey(key) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid artifact key"})
		return false
	}
	claimKey, scope, err := r.deps.Signer.Verify(c.Query("token"))
	if err != nil {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid or expired token"})
		return false
	}
	if scope != want || claimKey != key {
		writeJSON(c, http.StatusForbidden, errorResp{Error: "token does not match artifact"})
		return false
	}
	return true
}

func (r *Router) handleDownload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !r.verifyToken(c, key, artifact.ScopeDownload) {
		return
	}
	rc, err := r.deps.Store.Open(c.Request.Context(), key)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "artifact not found"})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	defer func() { _ = rc.Close() }()
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

func (r *Router) handleUpload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !r.verifyToken(c, key, artifact.ScopeUpload) {
		return
	}
	if err := r.deps.Store.Put(c.Request.Context(), key, c.Request.Body); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// --- Version control ---

// vcClient answers nil-guarded; endpoints stay mounted so the API shape
// does not depend on configuration.
func (r *Router) vcClient(c *gin.Context) *vc.Client {
	if r.deps.VC == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "version control is not configured"})
		return nil
	}
	return r.deps.VC
}

func (r *Router) handleBranches(c *gin.Context) {
	client := r.vcClient(c)
	if client == nil {
		return
	}
	branches, err := client.ListBranches(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"branches": branches})
}

func (r *Router) handleResolveBranch(c *gin.Context) {
	client := r.vcClient(c)
	if client == nil {
		return
	}
	q := c.Query("q")
	if q == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "q query param required"})
		return
	}
	branch, err := client.ResolveBranch(c.Request.Context(), q)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"branch": branch})
}

func (r *Router) handleCommits(c *gin.Context) {
	client := r.vcClient(c)
	if client == nil {
		return
	}
	branch := c.Query("branch")
	if branch == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "branch query param required"})
		return
	}
	n := 0
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "n must be a non-negative integer"})
			return
		}
		n = v
	}
	commits, err := client.ListCommits(c.Request.Context(), branch, c.Query("author"), n)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"commits": commits})
}

func (r *Router) handleCommitDetails(c *gin.Context) {
	client := r.vcClient(c)
	if client == nil {
		return
	}
	commit, err := client.CommitDetails(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, commit)
}

func (r *Router) handleLatestCommit(c *gin.Context) {
	client := r.vcClient(c)
	if client == nil {
		return
	}
	branch := c.Query("branch")
	if branch == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "branch query param required"})
		return
	}
	commit, err := client.LatestCommit(c.Request.Context(), branch, c.Query("author"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, commit)
}
