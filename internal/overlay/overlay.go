// Package overlay mirrors the caption state a browser overlay derives from
// the event stream: committed lines with a fade-out TTL, plus the current
// interim partial. The server exposes a snapshot of this renderer so an
// operator can check what the audience sees without opening the overlay, and
// its transition rules are the reference the browser-side script follows.
package overlay

import (
	"sync"
	"time"

	"github.com/lobahq/loba/pkg/subtitle"
)

const (
	defaultMaxLines = 2
	defaultTTL      = 4500 * time.Millisecond
)

// Line is one committed caption line.
type Line struct {
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// Frame is a point-in-time view of the overlay.
type Frame struct {
	// Lines are the visible committed captions, oldest first.
	Lines []Line `json:"lines"`

	// Partial is the interim text shown below the committed lines, empty
	// when none is active.
	Partial string `json:"partial,omitempty"`

	// PartialLanguage tags Partial.
	PartialLanguage string `json:"partial_language,omitempty"`
}

// Renderer applies subtitle events to an overlay model. Safe for concurrent
// use: the hub's writer goroutine applies events while HTTP handlers read
// snapshots.
type Renderer struct {
	mu       sync.Mutex
	maxLines int
	ttl      time.Duration

	lines       []Line
	partial     string
	partialLang string

	now func() time.Time
}

// NewRenderer creates a Renderer. Non-positive arguments take the defaults
// (2 lines, 4.5 s TTL).
func NewRenderer(maxLines int, ttl time.Duration) *Renderer {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Renderer{
		maxLines: maxLines,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Apply advances the overlay by one event. Finals commit a line (evicting the
// oldest beyond the line budget) and clear any active partial; partials
// replace the interim text; clears empty everything at once.
func (r *Renderer) Apply(ev subtitle.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case subtitle.TypeFinal:
		r.lines = append(r.lines, Line{
			Text:        ev.Text,
			Language:    ev.Language,
			CommittedAt: r.now(),
		})
		if len(r.lines) > r.maxLines {
			r.lines = r.lines[len(r.lines)-r.maxLines:]
		}
		r.partial = ""
		r.partialLang = ""
	case subtitle.TypePartial:
		r.partial = ev.Text
		r.partialLang = ev.Language
	case subtitle.TypeClear:
		r.lines = nil
		r.partial = ""
		r.partialLang = ""
	}
}

// Snapshot returns the current visible state, pruning lines past their TTL.
func (r *Renderer) Snapshot() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	visible := r.lines[:0]
	for _, l := range r.lines {
		if l.CommittedAt.After(cutoff) {
			visible = append(visible, l)
		}
	}
	r.lines = visible

	frame := Frame{
		Lines:           append([]Line(nil), visible...),
		Partial:         r.partial,
		PartialLanguage: r.partialLang,
	}
	return frame
}
