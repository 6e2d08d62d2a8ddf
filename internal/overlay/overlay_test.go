package overlay

import (
	"testing"
	"time"

	"github.com/lobahq/loba/pkg/subtitle"
)

func texts(f Frame) []string {
	out := make([]string, len(f.Lines))
	for i, l := range f.Lines {
		out[i] = l.Text
	}
	return out
}

func TestApply_FinalsEvictOldestBeyondMaxLines(t *testing.T) {
	r := NewRenderer(2, time.Minute)

	for _, text := range []string{"A", "B", "C"} {
		r.Apply(subtitle.Final(text, "pt", "", 1))
	}

	got := texts(r.Snapshot())
	if len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("lines = %v, want [B C]", got)
	}
}

func TestApply_FinalClearsActivePartial(t *testing.T) {
	r := NewRenderer(2, time.Minute)

	r.Apply(subtitle.Partial("hel", "en", "", 1))
	if f := r.Snapshot(); f.Partial != "hel" {
		t.Fatalf("partial = %q, want %q", f.Partial, "hel")
	}

	r.Apply(subtitle.Final("olá", "pt", "", 1))
	f := r.Snapshot()
	if f.Partial != "" {
		t.Errorf("partial = %q after final, want empty", f.Partial)
	}
	if len(f.Lines) != 1 || f.Lines[0].Text != "olá" {
		t.Errorf("lines = %v, want [olá]", texts(f))
	}
}

func TestApply_PartialReplacesPartial(t *testing.T) {
	r := NewRenderer(2, time.Minute)
	r.Apply(subtitle.Partial("he", "en", "", 1))
	r.Apply(subtitle.Partial("hello wor", "en", "", 1))

	if f := r.Snapshot(); f.Partial != "hello wor" {
		t.Errorf("partial = %q, want latest", f.Partial)
	}
}

func TestApply_ClearEmptiesEverything(t *testing.T) {
	r := NewRenderer(2, time.Minute)
	r.Apply(subtitle.Final("A", "pt", "", 1))
	r.Apply(subtitle.Partial("B", "en", "", 2))
	r.Apply(subtitle.Clear())

	f := r.Snapshot()
	if len(f.Lines) != 0 || f.Partial != "" {
		t.Errorf("frame = %+v, want empty after clear", f)
	}

	// A second clear is harmless.
	r.Apply(subtitle.Clear())
	if f := r.Snapshot(); len(f.Lines) != 0 {
		t.Errorf("frame = %+v after repeated clear, want empty", f)
	}
}

func TestSnapshot_PrunesExpiredLines(t *testing.T) {
	r := NewRenderer(2, 4500*time.Millisecond)
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Apply(subtitle.Final("old", "pt", "", 1))

	base = base.Add(3 * time.Second)
	r.Apply(subtitle.Final("fresh", "pt", "", 2))

	base = base.Add(2 * time.Second) // "old" is now 5s old, "fresh" 2s
	got := texts(r.Snapshot())
	if len(got) != 1 || got[0] != "fresh" {
		t.Errorf("lines = %v, want [fresh]", got)
	}
}
