package artifact

import "fmt"

// Default namespaces mirror the build pipeline's bucket layout.
const (
	DefaultPrefix       = "game-builds/universal"
	DefaultExt          = "zip"
	DefaultUploadPrefix = "user-asset-files"
)

// Layout derives deterministic object keys for build artifacts. The
// same (branch, commit) pair always yields the same key, which is what
// makes the cache probe meaningful.
type Layout struct {
	Prefix       string // namespace for finished build artifacts
	Ext          string // artifact extension, without the dot
	UploadPrefix string // namespace for user-uploaded session assets
}

// WithDefaults fills empty fields with the standard namespaces.
func (l Layout) WithDefaults() Layout {
	if l.Prefix == "" {
		l.Prefix = DefaultPrefix
	}
	if l.Ext == "" {
		l.Ext = DefaultExt
	}
	if l.UploadPrefix == "" {
		l.UploadPrefix = DefaultUploadPrefix
	}
	return l
}

// ObjectKey returns the canonical location of a finished build:
// {prefix}/{branch}/{commit}/{commit}.{ext}.
func (l Layout) ObjectKey(branch, commit string) string {
	l = l.WithDefaults()
	return fmt.Sprintf("%s/%s/%s/%s.%s", l.Prefix, branch, commit, commit, l.Ext)
}

// UploadKey returns the location of one uploaded session asset:
// {uploadPrefix}/{sessionID}/assets/{filename}.
func (l Layout) UploadKey(sessionID, filename string) string {
	l = l.WithDefaults()
	return fmt.Sprintf("%s/%s/assets/%s", l.UploadPrefix, sessionID, filename)
}

// AssetDir returns the key prefix holding a session's uploaded assets,
// with a trailing slash so workers read it as a directory.
func (l Layout) AssetDir(sessionID string) string {
	l = l.WithDefaults()
	return fmt.Sprintf("%s/%s/assets/", l.UploadPrefix, sessionID)
}
