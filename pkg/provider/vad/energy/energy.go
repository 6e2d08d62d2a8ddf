// Package energy implements vad.Detector using normalised RMS energy with a
// consecutive-frame speech-start requirement.
//
// A frame is voiced when its RMS energy exceeds the configured threshold.
// Speech starts only after StartFrames consecutive voiced frames, which
// suppresses single-frame pops and keyboard clicks. Once speaking, every
// voiced frame reports SpeechContinue and every quiet frame reports
// SpeechPause; the caller accumulates pause time to decide speech-end.
package energy

import (
	"github.com/lobahq/loba/pkg/audio"
	"github.com/lobahq/loba/pkg/provider/vad"
)

const (
	// defaultThreshold is the normalised RMS level above which a frame is
	// voiced. 0.01 suits a close desk microphone at typical gain.
	defaultThreshold = 0.01

	// defaultStartFrames is the number of consecutive voiced frames required
	// before speech is considered started.
	defaultStartFrames = 2
)

// Compile-time assertion that Detector implements vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithThreshold sets the normalised RMS energy threshold in [0.0, 1.0] above
// which a frame counts as voiced. Defaults to 0.01.
func WithThreshold(threshold float64) Option {
	return func(d *Detector) { d.threshold = threshold }
}

// WithStartFrames sets how many consecutive voiced frames are required to
// enter the speaking state. Defaults to 2.
func WithStartFrames(n int) Option {
	return func(d *Detector) { d.startFrames = n }
}

// Detector is an energy-based vad.Detector. It is not safe for concurrent
// use; confine each instance to one audio stream's processing goroutine.
type Detector struct {
	threshold   float64
	startFrames int

	voicedRun int
	speaking  bool
}

// New returns a Detector configured with the supplied options.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:   defaultThreshold,
		startFrames: defaultStartFrames,
	}
	for _, o := range opts {
		o(d)
	}
	if d.startFrames < 1 {
		d.startFrames = 1
	}
	return d
}

// ProcessFrame classifies one PCM frame.
func (d *Detector) ProcessFrame(frame []byte) vad.Event {
	rms := audio.RMS(frame)
	voiced := rms > d.threshold

	switch {
	case d.speaking && voiced:
		return vad.Event{Type: vad.SpeechContinue, Energy: rms}

	case d.speaking && !voiced:
		return vad.Event{Type: vad.SpeechPause, Energy: rms}

	case voiced:
		d.voicedRun++
		if d.voicedRun >= d.startFrames {
			d.speaking = true
			return vad.Event{Type: vad.SpeechStart, Energy: rms}
		}
		// Not enough consecutive voiced frames yet; the caller keeps these
		// frames in its pre-roll so the utterance onset is not lost.
		return vad.Event{Type: vad.Silence, Energy: rms}

	default:
		d.voicedRun = 0
		return vad.Event{Type: vad.Silence, Energy: rms}
	}
}

// Reset clears the speaking state and the voiced-frame run counter.
func (d *Detector) Reset() {
	d.voicedRun = 0
	d.speaking = false
}
