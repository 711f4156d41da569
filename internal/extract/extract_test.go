package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
)

const sampleJSON = `{"userId":"u1","exportDate":"2023-01-01T00:00:00Z","conversations":[{"id":"c:1","displayName":"Alice","MessageList":[]}]}`

func TestExtract_HappyPath(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "export.json")
	if err := os.WriteFile(inputPath, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := etlcontext.New(etlcontext.Params{TaskID: "t1", OutputDir: filepath.Join(dir, "out")})
	ex := New(zerolog.Nop())

	raw, err := ex.Extract(ctx, inputPath)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if raw.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", raw.UserID)
	}
	if ctx.Metrics.ConversationCount != 1 {
		t.Errorf("ConversationCount = %d, want 1", ctx.Metrics.ConversationCount)
	}

	rawPath := filepath.Join(dir, "out", "raw_data.json")
	if _, err := os.Stat(rawPath); err != nil {
		t.Errorf("expected raw_data.json to be written: %v", err)
	}
}

func TestExtract_MissingUserID(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(inputPath, []byte(`{"exportDate":"2023-01-01T00:00:00Z","conversations":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := etlcontext.New(etlcontext.Params{TaskID: "t1"})
	ex := New(zerolog.Nop())

	if _, err := ex.Extract(ctx, inputPath); err == nil {
		t.Fatal("expected error for missing userId")
	}
}
