// Package subtitle defines the event contract between the caption pipeline
// and overlay subscribers.
//
// Three event types flow over the wire:
//
//   - partial — best-effort interim text in the source language. Partials may
//     be superseded or dropped and must never be treated as authoritative.
//   - final   — authoritative caption text, monotonically ordered by the
//     segment that produced it.
//   - clear   — carries no text; instructs subscribers to discard all
//     buffered lines immediately. Clears are the only forced state reset.
//
// Each event is serialised as one JSON object per WebSocket text frame.
package subtitle

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type enumerates the subtitle event kinds.
type Type string

const (
	// TypePartial is interim, unstable text (source language).
	TypePartial Type = "partial"

	// TypeFinal is authoritative caption text.
	TypeFinal Type = "final"

	// TypeClear instructs subscribers to drop all buffered lines.
	TypeClear Type = "clear"
)

// IsValid reports whether t is a recognised event type.
func (t Type) IsValid() bool {
	switch t {
	case TypePartial, TypeFinal, TypeClear:
		return true
	}
	return false
}

// Event is the atomic unit of information delivered to overlay subscribers.
//
// The wire format is a flat JSON object:
//
//	{"type":"final","text":"Olá","language":"pt","microphone":"desk-mic"}
//
// Text and Language are omitted for clear events. SegmentID and EmittedAt are
// pipeline-internal bookkeeping and never serialised.
type Event struct {
	// Type is one of partial, final, or clear.
	Type Type `json:"type"`

	// Text is the caption content. Empty for clear events.
	Text string `json:"text,omitempty"`

	// Language is the ISO 639-1 code of Text (e.g. "pt" for a translated
	// final, "en" for a partial or an untranslated fallback final).
	Language string `json:"language,omitempty"`

	// Microphone is an optional label of the audio source.
	Microphone string `json:"microphone,omitempty"`

	// SegmentID identifies the audio segment this event was derived from.
	// Zero for clear events. Not part of the wire format.
	SegmentID uint64 `json:"-"`

	// EmittedAt is when the orchestrator emitted the event. Not part of the
	// wire format.
	EmittedAt time.Time `json:"-"`
}

// Partial creates an interim subtitle event showing source-language text.
func Partial(text, language, microphone string, segmentID uint64) Event {
	return Event{
		Type:       TypePartial,
		Text:       text,
		Language:   language,
		Microphone: microphone,
		SegmentID:  segmentID,
		EmittedAt:  time.Now(),
	}
}

// Final creates an authoritative subtitle event.
func Final(text, language, microphone string, segmentID uint64) Event {
	return Event{
		Type:       TypeFinal,
		Text:       text,
		Language:   language,
		Microphone: microphone,
		SegmentID:  segmentID,
		EmittedAt:  time.Now(),
	}
}

// Clear creates a clear event. It carries no text or language.
func Clear() Event {
	return Event{Type: TypeClear, EmittedAt: time.Now()}
}

// Encode serialises the event to its wire JSON form.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("subtitle: encode event: %w", err)
	}
	return data, nil
}

// Decode parses a wire JSON message into an Event. Returns an error for
// malformed JSON or an unknown event type.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("subtitle: decode event: %w", err)
	}
	if !e.Type.IsValid() {
		return Event{}, fmt.Errorf("subtitle: unknown event type %q", e.Type)
	}
	return e, nil
}
