package message

import (
	"testing"
	"time"
)

func TestStatusFromString(t *testing.T) {
	cases := []struct {
		in    string
		known bool
	}{
		{"pending", true},
		{"success", true},
		{"failed", true},
		{"not_found", true},
		{"half-baked", false},
		{"", false},
	}
	for _, tc := range cases {
		st, known := StatusFromString(tc.in)
		if string(st) != tc.in {
			t.Errorf("StatusFromString(%q) changed the value to %q", tc.in, st)
		}
		if known != tc.known {
			t.Errorf("StatusFromString(%q) known=%v, want %v", tc.in, known, tc.known)
		}
	}
}

func TestNotificationKey(t *testing.T) {
	cases := []struct {
		name string
		n    Notification
		want string
	}{
		{"commit wins", Notification{Commit: "abc123", SessionID: "s-1"}, "abc123"},
		{"session fallback", Notification{SessionID: "s-1"}, "s-1"},
		{"neither", Notification{Status: StatusPending}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.n.Key(); got != tc.want {
				t.Errorf("Key() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseNotification(t *testing.T) {
	line := []byte(`{"commit":"c1","status":"success","gcs_path":"g://x","timestamp":"2025-01-01T00:00:00Z"}`)
	n, err := ParseNotification(line)
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.Commit != "c1" || n.Status != StatusSuccess || n.GCSPath != "g://x" {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Key() != "c1" {
		t.Errorf("Key() = %q, want c1", n.Key())
	}
}

func TestParseNotificationMalformed(t *testing.T) {
	if _, err := ParseNotification([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestParseNotificationUnknownStatusPreserved(t *testing.T) {
	n, err := ParseNotification([]byte(`{"commit":"c1","status":"canceled"}`))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.Status != Status("canceled") {
		t.Errorf("unknown status mangled: %q", n.Status)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"2025-01-01T00:00:00Z", true, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-01-01T00:00:00.123456789Z", true, time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.UTC)},
		{"2025-01-01T09:30:00+09:00", true, time.Date(2025, 1, 1, 9, 30, 0, 0, time.FixedZone("", 9*3600))},
		{"2025-01-01T00:00:00", true, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-06-10T14:23:45.123456", true, time.Date(2025, 6, 10, 14, 23, 45, 123456000, time.UTC)},
		{"yesterday", false, time.Time{}},
		{"", false, time.Time{}},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("ParseTimestamp(%q) should fail", tc.in)
			}
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNowTimestampParses(t *testing.T) {
	ts := NowTimestamp()
	if _, err := ParseTimestamp(ts); err != nil {
		t.Fatalf("NowTimestamp produced unparseable %q: %v", ts, err)
	}
}
