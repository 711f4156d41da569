package fileio

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleJSON = `{"userId":"u1","exportDate":"2023-01-01T00:00:00Z","conversations":[{"id":"c:1","displayName":"Alice","MessageList":[{"id":"m1","originalarrivaltime":"2023-01-01T00:00:01Z","from":"u2","content":"hi","messagetype":"RichText"}]}]}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestRead(t *testing.T) {
	t.Run("parses bare JSON export", func(t *testing.T) {
		path := writeTemp(t, "export.json", sampleJSON)
		doc, err := Read(path)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if doc.Export.UserID != "u1" {
			t.Errorf("UserID = %q, want u1", doc.Export.UserID)
		}
		if len(doc.Export.Conversations) != 1 {
			t.Fatalf("got %d conversations, want 1", len(doc.Export.Conversations))
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		path := writeTemp(t, "bad.json", `{not json`)
		if _, err := Read(path); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})
}

func TestGuardPath(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "messages.json", false},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../../etc/passwd", true},
		{"nested traversal", "a/../../b.json", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := guardPath(tc.path)
			if (err != nil) != tc.wantErr {
				t.Errorf("guardPath(%q) err=%v, wantErr=%v", tc.path, err, tc.wantErr)
			}
		})
	}
}
