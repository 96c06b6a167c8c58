package artifact

import "testing"

func TestLayoutDefaults(t *testing.T) {
	l := Layout{}.WithDefaults()
	if l.Prefix != DefaultPrefix {
		t.Errorf("Prefix = %q, want %q", l.Prefix, DefaultPrefix)
	}
	if l.Ext != DefaultExt {
		t.Errorf("Ext = %q, want %q", l.Ext, DefaultExt)
	}
	if l.UploadPrefix != DefaultUploadPrefix {
		t.Errorf("UploadPrefix = %q, want %q", l.UploadPrefix, DefaultUploadPrefix)
	}
}

func TestLayoutObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		branch string
		commit string
		want   string
	}{
		{
			name:   "defaults",
			layout: Layout{}.WithDefaults(),
			branch: "main",
			commit: "abc123",
			want:   "game-builds/universal/main/abc123/abc123.zip",
		},
		{
			name:   "custom prefix and ext",
			layout: Layout{Prefix: "builds", Ext: "tar.gz"},
			branch: "release/1.2",
			commit: "deadbeef",
			want:   "builds/release/1.2/deadbeef/deadbeef.tar.gz",
		},
		{
			name:   "commit repeated as dir and file",
			layout: Layout{Prefix: "p", Ext: "zip"},
			branch: "dev",
			commit: "c0ffee",
			want:   "p/dev/c0ffee/c0ffee.zip",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.layout.ObjectKey(tt.branch, tt.commit)
			if got != tt.want {
				t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.branch, tt.commit, got, tt.want)
			}
		})
	}
}

func TestLayoutUploadKey(t *testing.T) {
	l := Layout{}.WithDefaults()
	got := l.UploadKey("sess-42", "scene.bin")
	want := "user-asset-files/sess-42/assets/scene.bin"
	if got != want {
		t.Errorf("UploadKey = %q, want %q", got, want)
	}
}
