package load

import "testing"

func TestRowBuffer(t *testing.T) {
	t.Run("reports_ready_at_threshold", func(t *testing.T) {
		b := NewRowBuffer[int](3)
		if b.Add(1) {
			t.Fatal("should not be ready after 1 item")
		}
		if b.Add(2) {
			t.Fatal("should not be ready after 2 items")
		}
		if !b.Add(3) {
			t.Fatal("should be ready after 3 items")
		}
	})

	t.Run("drain_resets_buffer", func(t *testing.T) {
		b := NewRowBuffer[string](10)
		b.Add("a")
		b.Add("b")

		got := b.Drain()
		if len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Fatalf("drained = %v, want [a b]", got)
		}
		if b.Len() != 0 {
			t.Fatalf("buffer should be empty after drain, got len=%d", b.Len())
		}
		if d := b.Drain(); d != nil {
			t.Fatalf("drain of empty buffer should return nil, got %v", d)
		}
	})

	t.Run("zero_max_size_treated_as_one", func(t *testing.T) {
		b := NewRowBuffer[int](0)
		if !b.Add(1) {
			t.Fatal("maxSize<=0 should behave as threshold 1")
		}
	})
}
