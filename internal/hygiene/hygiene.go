// Package hygiene cleans raw transcripts before they become subtitles. Two
// stages: a filler filter that drops hallucinated stock phrases whisper
// models produce on near-silent audio, and a merger that holds very short
// fragments briefly so they can join the following transcript instead of
// flashing as a one-word caption.
package hygiene

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// DefaultFillers are stock phrases whisper hallucinates on silence or noise.
// Matching is fuzzy, so punctuation and casing variants are caught too.
var DefaultFillers = []string{
	"thank you",
	"thanks for watching",
	"thank you for watching",
	"you",
	"bye",
	"subtitles by the amara.org community",
	"subscribe",
}

const defaultSimilarity = 0.92

// Filter drops transcripts that fuzzily match a known filler phrase.
type Filter struct {
	fillers    []string
	similarity float64
}

// NewFilter creates a Filter. Empty fillers falls back to DefaultFillers;
// similarity outside (0,1] falls back to the default threshold.
func NewFilter(fillers []string, similarity float64) *Filter {
	if len(fillers) == 0 {
		fillers = DefaultFillers
	}
	if similarity <= 0 || similarity > 1 {
		similarity = defaultSimilarity
	}
	normalized := make([]string, len(fillers))
	for i, f := range fillers {
		normalized[i] = normalize(f)
	}
	return &Filter{fillers: normalized, similarity: similarity}
}

// Clean trims text and reports whether it should be kept. Empty text and
// filler matches return ok=false.
func (f *Filter) Clean(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	norm := normalize(text)
	for _, filler := range f.fillers {
		if matchr.JaroWinkler(norm, filler, true) >= f.similarity {
			return "", false
		}
	}
	return text, true
}

// normalize lowercases and strips punctuation so fuzzy matching compares
// words, not typography.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Merger holds transcripts shorter than minWords so they merge with the next
// one. A held fragment is released on its own after maxHold; callers poll
// Deadline to schedule the flush.
//
// Not safe for concurrent use; drive it from the pipeline worker only.
type Merger struct {
	minWords int
	maxHold  time.Duration

	pending string
	heldAt  time.Time

	now func() time.Time
}

// NewMerger creates a Merger. minWords <= 1 disables holding entirely.
func NewMerger(minWords int, maxHold time.Duration) *Merger {
	if maxHold <= 0 {
		maxHold = 2 * time.Second
	}
	return &Merger{
		minWords: minWords,
		maxHold:  maxHold,
		now:      time.Now,
	}
}

// Add offers a cleaned transcript. The result is the text ready to emit,
// possibly with a previously held fragment prepended; ok=false means the
// text is being held.
func (m *Merger) Add(text string) (string, bool) {
	if m.pending != "" {
		text = m.pending + " " + text
		m.pending = ""
	}
	if m.minWords > 1 && len(strings.Fields(text)) < m.minWords {
		m.pending = text
		m.heldAt = m.now()
		return "", false
	}
	return text, true
}

// Flush releases the held fragment, if any.
func (m *Merger) Flush() (string, bool) {
	if m.pending == "" {
		return "", false
	}
	text := m.pending
	m.pending = ""
	return text, true
}

// Deadline returns when the held fragment must be flushed. ok=false when
// nothing is held.
func (m *Merger) Deadline() (time.Time, bool) {
	if m.pending == "" {
		return time.Time{}, false
	}
	return m.heldAt.Add(m.maxHold), true
}
