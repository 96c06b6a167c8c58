package artifact

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
)

func TestFSStorePutExistsOpen(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	key := "game-builds/universal/main/abc123/abc123.zip"

	ok, err := st.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists before put: %v", err)
	}
	if ok {
		t.Fatal("Exists = true before put")
	}

	if err := st.Put(ctx, key, strings.NewReader("artifact-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err = st.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists after put: %v", err)
	}
	if !ok {
		t.Fatal("Exists = false after put")
	}

	rc, err := st.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(b) != "artifact-bytes" {
		t.Errorf("artifact content = %q, want %q", b, "artifact-bytes")
	}
}

func TestFSStorePutOverwrites(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	key := "builds/dev/c1/c1.zip"

	if err := st.Put(ctx, key, strings.NewReader("first")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := st.Put(ctx, key, strings.NewReader("second")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	rc, err := st.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "second" {
		t.Errorf("artifact content = %q, want %q", b, "second")
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "../outside", "/etc/passwd", "a/../../b"} {
		if _, err := st.Exists(ctx, key); err == nil {
			t.Errorf("Exists(%q) accepted an escaping key", key)
		}
		if err := st.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) accepted an escaping key", key)
		}
		if _, err := st.Open(ctx, key); err == nil {
			t.Errorf("Open(%q) accepted an escaping key", key)
		}
	}
}

func TestFSStoreOpenMissing(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	_, err = st.Open(context.Background(), "no/such/artifact.zip")
	if err == nil {
		t.Fatal("Open of missing artifact succeeded")
	}
	if !os.IsNotExist(err) {
		t.Errorf("Open error = %v, want not-exist", err)
	}
}

func TestFSStoreEmptyRoot(t *testing.T) {
	if _, err := NewFSStore("  "); err == nil {
		t.Fatal("NewFSStore accepted a blank root")
	}
}
