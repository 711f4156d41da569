package load

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
)

func TestNormalizeFilePath(t *testing.T) {
	t.Run("verbatim when already .tar", func(t *testing.T) {
		ctx := etlcontext.New(etlcontext.Params{FilePath: "/tmp/export.tar"})
		path, _, err := normalizeFilePath(ctx, zerolog.Nop())
		if err != nil {
			t.Fatalf("normalizeFilePath: %v", err)
		}
		if path != "/tmp/export.tar" {
			t.Errorf("path = %q, want /tmp/export.tar", path)
		}
	})

	t.Run("replaces extension with .tar", func(t *testing.T) {
		ctx := etlcontext.New(etlcontext.Params{FilePath: "/tmp/export.json"})
		path, _, err := normalizeFilePath(ctx, zerolog.Nop())
		if err != nil {
			t.Fatalf("normalizeFilePath: %v", err)
		}
		if path != "/tmp/export.tar" {
			t.Errorf("path = %q, want /tmp/export.tar", path)
		}
	})

	t.Run("appends .tar when there is no extension", func(t *testing.T) {
		ctx := etlcontext.New(etlcontext.Params{FilePath: "/tmp/export"})
		path, _, err := normalizeFilePath(ctx, zerolog.Nop())
		if err != nil {
			t.Fatalf("normalizeFilePath: %v", err)
		}
		if path != "/tmp/export.tar" {
			t.Errorf("path = %q, want /tmp/export.tar", path)
		}
	})

	t.Run("synthesizes a name when no path is available", func(t *testing.T) {
		ctx := etlcontext.New(etlcontext.Params{})
		path, blob, err := normalizeFilePath(ctx, zerolog.Nop())
		if err != nil {
			t.Fatalf("normalizeFilePath: %v", err)
		}
		if !unknownExportPattern.MatchString(path) {
			t.Errorf("path = %q, does not match unknown_export pattern", path)
		}
		if blob != nil {
			t.Errorf("expected nil blob for synthesized path, got %d bytes", len(blob))
		}
	})
}

func TestAllPlain(t *testing.T) {
	if !allPlain(nil) {
		t.Error("empty slice should be considered plain")
	}
}

func TestIsConnectionError(t *testing.T) {
	t.Run("connection-class errors match", func(t *testing.T) {
		for _, err := range []error{
			errors.New("conn closed"),
			fmt.Errorf("insert message 3: %w", errors.New("unexpected EOF")),
			errors.New("read tcp: i/o timeout"),
		} {
			if !isConnectionError(err) {
				t.Errorf("isConnectionError(%v) = false, want true", err)
			}
		}
	})

	t.Run("query/constraint errors do not match", func(t *testing.T) {
		for _, err := range []error{
			errors.New("duplicate key value violates unique constraint"),
			errors.New("null value in column violates not-null constraint"),
		} {
			if isConnectionError(err) {
				t.Errorf("isConnectionError(%v) = true, want false", err)
			}
		}
	})

	if isConnectionError(nil) {
		t.Error("isConnectionError(nil) should be false")
	}
}
