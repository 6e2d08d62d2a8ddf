// Package vad defines the Detector interface for frame-level voice activity
// detection.
//
// A detector classifies each fixed-duration PCM frame as speech or silence
// and tracks speech-start hysteresis internally, so the segmenter can make
// finalisation decisions purely from the event stream plus frame timing.
//
// ProcessFrame returns immediately; the capture loop calling it must never
// block on downstream stages.
//
// A Detector instance maintains per-stream state and must not be shared
// across goroutines.
package vad

// EventType enumerates per-frame detection states.
type EventType int

const (
	// Silence indicates no speech in this frame (and none in progress).
	Silence EventType = iota

	// SpeechStart indicates the frame completed the configured run of
	// consecutive voiced frames and speech has just begun.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechPause indicates a quiet frame while speech is in progress. The
	// caller decides whether the pause is long enough to end the segment.
	SpeechPause
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech-start"
	case SpeechContinue:
		return "speech-continue"
	case SpeechPause:
		return "speech-pause"
	default:
		return "unknown"
	}
}

// Event is the detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the normalised RMS energy of the frame in [0.0, 1.0].
	Energy float64
}

// Detector classifies audio frames. Implementations maintain internal
// hysteresis state; Reset clears it when a segment is finalised so stale
// state from the previous utterance cannot leak into the next one.
type Detector interface {
	// ProcessFrame analyses one frame of raw 16-bit little-endian PCM and
	// returns the detection result. It must not block.
	ProcessFrame(frame []byte) Event

	// Reset clears accumulated detection state without discarding
	// configuration.
	Reset()
}
