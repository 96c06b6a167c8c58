package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store is a key-value blob store holding build artifacts. Keys are
// slash-separated paths as produced by Layout.
type Store interface {
	// Exists probes whether an artifact is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores the contents of r at key, replacing any previous object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Open returns the artifact at key for reading. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// FSStore keeps artifacts under a root directory, one file per key.
type FSStore struct {
	root string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates the root directory if needed and returns a store
// rooted there.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("empty artifact root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (s *FSStore) Root() string { return s.root }

// path maps a slash-separated key to a file below the root. Keys that
// would escape the root are rejected.
func (s *FSStore) path(key string) (string, error) {
	k := path.Clean(strings.TrimSpace(key))
	if k == "" || k == "." || k == ".." || strings.HasPrefix(k, "/") || strings.HasPrefix(k, "../") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	p := filepath.Join(s.root, filepath.FromSlash(k))
	if !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return p, nil
}

func (s *FSStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (s *FSStore) Put(_ context.Context, key string, r io.Reader) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	// Write to a temp file and rename so a concurrent Exists probe
	// never observes a partially written artifact.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create artifact temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close artifact temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

func (s *FSStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}
