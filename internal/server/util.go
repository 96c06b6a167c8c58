package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeKey validates artifact keys taken from URL paths: non-empty,
// slash-separated segments with no traversal, backslashes or leading
// slash. The store re-checks before touching the filesystem.
func isSafeKey(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") || strings.ContainsRune(s, '\\') {
		return false
	}
	if strings.HasPrefix(s, "/") {
		return false
	}
	return true
}

// isHexCommit accepts full or abbreviated git hashes (4 to 64 hex
// digits) before they become artifact key segments.
func isHexCommit(s string) bool {
	if len(s) < 4 || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// isSafeBranch restricts branch names to path-safe characters. Slashes
// are allowed (release/1.2) but traversal and absolute segments are not.
func isSafeBranch(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
