package transform

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/model"
)

func newTestContext() *etlcontext.Context {
	return etlcontext.New(etlcontext.Params{TaskID: "t1", MaxWorkers: 2})
}

func strPtr(s string) *string { return &s }

func TestTransformConversation_EditDetection(t *testing.T) {
	tr := New(1, zerolog.Nop())
	ctx := newTestContext()

	rc := model.RawConversation{
		ID:          "8:alice",
		DisplayName: strPtr("Alice"),
		MessageList: []model.RawMessage{
			{ID: "m1", From: "u2", OriginalArrivalTime: "2023-01-01T00:00:01Z", Content: "hello <e_m foo>", MessageType: "RichText"},
			{ID: "m2", From: "u2", OriginalArrivalTime: "2023-01-01T00:00:02Z", Content: "hello <e_m foo>", MessageType: "RichText"},
		},
	}

	tc, err := tr.transformConversation(ctx, rc)
	if err != nil {
		t.Fatalf("transformConversation: %v", err)
	}
	if len(tc.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(tc.Messages))
	}
	if tc.Messages[0].IsEdited {
		t.Error("first message should not be marked edited")
	}
	if !tc.Messages[1].IsEdited {
		t.Error("second duplicate message should be marked edited")
	}
	if tc.Messages[1].EditNote == "" {
		t.Error("expected edit note on the edited message")
	}
}

func TestTransformConversation_NullDisplayNameRetained(t *testing.T) {
	tr := New(1, zerolog.Nop())
	ctx := newTestContext()

	rc := model.RawConversation{ID: "8:bob.smith", DisplayName: nil}
	tc, err := tr.transformConversation(ctx, rc)
	if err != nil {
		t.Fatalf("transformConversation: %v", err)
	}
	if tc.DisplayName != "bob.smith" {
		t.Errorf("DisplayName = %q, want %q", tc.DisplayName, "bob.smith")
	}
}

func TestTransformConversation_EmptyMessageList(t *testing.T) {
	tr := New(1, zerolog.Nop())
	ctx := newTestContext()

	rc := model.RawConversation{ID: "19:group", DisplayName: strPtr("Group Chat")}
	tc, err := tr.transformConversation(ctx, rc)
	if err != nil {
		t.Fatalf("transformConversation: %v", err)
	}
	if tc.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", tc.MessageCount)
	}
	if tc.FirstMessageTime != nil || tc.LastMessageTime != nil {
		t.Error("expected nil first/last message times for empty conversation")
	}
}

func TestTransformConversation_UnparseableTimestampsSortLast(t *testing.T) {
	tr := New(1, zerolog.Nop())
	ctx := newTestContext()

	rc := model.RawConversation{
		ID:          "8:carol",
		DisplayName: strPtr("Carol"),
		MessageList: []model.RawMessage{
			{ID: "m1", OriginalArrivalTime: "not-a-time", Content: "first", MessageType: "RichText"},
			{ID: "m2", OriginalArrivalTime: "2023-01-01T00:00:05Z", Content: "second", MessageType: "RichText"},
			{ID: "m3", OriginalArrivalTime: "2023-01-01T00:00:01Z", Content: "third", MessageType: "RichText"},
		},
	}

	tc, err := tr.transformConversation(ctx, rc)
	if err != nil {
		t.Fatalf("transformConversation: %v", err)
	}
	if len(tc.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(tc.Messages))
	}
	if tc.Messages[0].RawContent != "third" || tc.Messages[1].RawContent != "second" {
		t.Errorf("expected parseable messages ordered ascending first, got %q, %q", tc.Messages[0].RawContent, tc.Messages[1].RawContent)
	}
	if tc.Messages[2].RawContent != "first" {
		t.Errorf("expected unparseable message last, got %q", tc.Messages[2].RawContent)
	}
}

func TestPlaceholderFor(t *testing.T) {
	cases := map[string]string{
		"Event/Call":     "***A call started/ended***",
		"SomeNewType":    "***Sent a SomeNewType***",
		"RichText/Media_Video": "***Sent a video message***",
	}
	for msgType, want := range cases {
		if got := placeholderFor(msgType); got != want {
			t.Errorf("placeholderFor(%q) = %q, want %q", msgType, got, want)
		}
	}
}

func TestSanitizeDisplayName(t *testing.T) {
	got := sanitizeDisplayName(`a/b\c:d*e?f"g<h>i|j`)
	if got != "abcdefghij" {
		t.Errorf("sanitizeDisplayName = %q, want %q", got, "abcdefghij")
	}
}
