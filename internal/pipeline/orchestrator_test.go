package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/model"
)

func TestWriteAtomicAndLoadFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ctx := etlcontext.New(etlcontext.Params{TaskID: "abc", OutputDir: dir})
	ctx.StartPhase(etlcontext.PhaseExtract, nil)
	ctx.EndPhase()
	ctx.RawData = &model.RawExport{UserID: "u1"}
	ctx.CreateCheckpoint(etlcontext.PhaseExtract)

	data, err := ctx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	path := checkpointPath(dir, "abc")
	if err := writeAtomic(path, data); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}

	loaded, err := LoadFromCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadFromCheckpoint: %v", err)
	}
	if loaded.TaskID != "abc" {
		t.Errorf("TaskID = %q, want abc", loaded.TaskID)
	}
	if !loaded.CanResumeFrom(etlcontext.PhaseTransform) {
		t.Error("expected resumable from transform after an extract checkpoint")
	}
}

func TestAvailableCheckpoints_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "etl_checkpoint_old.json")
	newer := filepath.Join(dir, "etl_checkpoint_new.json")

	if err := os.WriteFile(older, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Ensure deterministic mtimes regardless of filesystem timestamp
	// granularity.
	pastTime := mustStat(t, older).ModTime()
	if err := os.Chtimes(newer, pastTime, pastTime.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}

	files, err := AvailableCheckpoints(dir)
	if err != nil {
		t.Fatalf("AvailableCheckpoints: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if filepath.Base(files[0]) != "etl_checkpoint_new.json" {
		t.Errorf("newest file = %q, want etl_checkpoint_new.json", filepath.Base(files[0]))
	}
}

func mustStat(t *testing.T, path string) os.FileInfo {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi
}
