package etlcontext

import (
	"testing"

	"github.com/skypearchive/etl-engine/internal/model"
)

func TestStartPhase_RejectsDoubleStart(t *testing.T) {
	ctx := New(Params{TaskID: "t1"})
	if err := ctx.StartPhase(PhaseExtract, nil); err != nil {
		t.Fatalf("first StartPhase: %v", err)
	}
	if err := ctx.StartPhase(PhaseTransform, nil); err == nil {
		t.Fatal("expected InvalidStateError on double start")
	}
}

func TestEndPhase_ZeroDurationGuard(t *testing.T) {
	ctx := New(Params{TaskID: "t1"})
	ctx.StartPhase(PhaseExtract, nil)
	result := ctx.EndPhase()
	if result.MessagesPerSecond < 0 {
		t.Errorf("MessagesPerSecond = %f, want >= 0", result.MessagesPerSecond)
	}
	if ctx.CurrentPhase != PhaseIdle {
		t.Errorf("CurrentPhase = %q, want idle after EndPhase", ctx.CurrentPhase)
	}
}

func TestCanResumeFrom(t *testing.T) {
	ctx := New(Params{TaskID: "t1"})

	if ctx.CanResumeFrom(PhaseTransform) {
		t.Error("should not be resumable before any checkpoint exists")
	}

	ctx.RawData = nil
	ctx.CreateCheckpoint(PhaseExtract)
	if ctx.CanResumeFrom(PhaseTransform) {
		t.Error("should not be resumable from transform without raw data")
	}
}

func TestCanResumeFrom_Load(t *testing.T) {
	ctx := New(Params{TaskID: "t1"})
	ctx.RawData = &model.RawExport{UserID: "u1"}
	ctx.CreateCheckpoint(PhaseExtract)

	if ctx.CanResumeFrom(PhaseLoad) {
		t.Error("should not be resumable from load without a transform checkpoint")
	}

	ctx.TransformedData = &model.TransformedExport{}
	ctx.CreateCheckpoint(PhaseTransform)
	if !ctx.CanResumeFrom(PhaseLoad) {
		t.Error("expected resumable from load once extract and transform checkpoints both carry their artifacts")
	}
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	ctx := New(Params{TaskID: "t1", OutputDir: "/tmp/out", ChunkSize: 10, BatchSize: 50, MaxWorkers: 2})
	ctx.StartPhase(PhaseExtract, nil)
	ctx.EndPhase()
	ctx.RawData = &model.RawExport{UserID: "u1"}
	ctx.CreateCheckpoint(PhaseExtract)

	data, err := ctx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if restored.TaskID != ctx.TaskID {
		t.Errorf("TaskID = %q, want %q", restored.TaskID, ctx.TaskID)
	}
	if restored.ChunkSize != 10 || restored.BatchSize != 50 {
		t.Errorf("budgets not preserved: chunk=%d batch=%d", restored.ChunkSize, restored.BatchSize)
	}
	if !restored.CanResumeFrom(PhaseTransform) {
		t.Error("expected restored context to be resumable from transform")
	}
}

func TestDeserialize_RejectsUnknownVersion(t *testing.T) {
	_, err := Deserialize([]byte(`{"checkpoint_version":"9.9","context":{}}`))
	if err == nil {
		t.Fatal("expected error for unsupported checkpoint version")
	}
}

func TestDeserialize_PreservesUnknownFields(t *testing.T) {
	doc := `{"checkpoint_version":"1.0","serialized_at":"2023-01-01T00:00:00Z","context":{"task_id":"t1","future_field":"keep-me"}}`
	ctx, err := Deserialize([]byte(doc))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	out, err := ctx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !contains(out, `"future_field":"keep-me"`) {
		t.Errorf("expected unknown field to round-trip, got %s", out)
	}
}

func contains(haystack []byte, needle string) bool {
	return len(needle) > 0 && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if string(haystack[i:i+len(needle)]) == needle {
				return true
			}
		}
		return false
	})()
}

func TestIdentitySetAndLookup(t *testing.T) {
	ctx := New(Params{TaskID: "t1"})
	if _, ok := ctx.IdentityLookup("u1"); ok {
		t.Error("expected no identity before IdentitySet")
	}
	ctx.IdentitySet("u1", "Alice")
	name, ok := ctx.IdentityLookup("u1")
	if !ok || name != "Alice" {
		t.Errorf("IdentityLookup = (%q, %v), want (Alice, true)", name, ok)
	}
}
