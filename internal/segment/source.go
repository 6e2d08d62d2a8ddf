package segment

import (
	"github.com/lobahq/loba/internal/mode"
	"github.com/lobahq/loba/pkg/audio"
)

// Source adapts one audio connection to the pipeline: frames in, finalized
// segments onto the shared queue. Each connection owns its Source, so the
// underlying Segmenter needs no locking.
//
// The source watches the subtitle mode between frames: when the operator
// disables subtitles mid-utterance, the open segment is flushed with
// ReasonModeDisabled so the pipeline can account for it without ever
// captioning it.
type Source struct {
	seg   *Segmenter
	queue *Queue
	modes *mode.Controller

	sampleRate  int
	channels    int
	lastEnabled bool
}

// NewSource creates a Source feeding queue. modes may be nil for tests.
func NewSource(seg *Segmenter, queue *Queue, modes *mode.Controller, sampleRate, channels int) *Source {
	s := &Source{
		seg:         seg,
		queue:       queue,
		modes:       modes,
		sampleRate:  sampleRate,
		channels:    channels,
		lastEnabled: true,
	}
	if modes != nil {
		s.lastEnabled = modes.Enabled()
	}
	return s
}

// ProcessFrame consumes one PCM frame from the connection.
func (s *Source) ProcessFrame(pcm []byte) {
	if s.modes != nil {
		enabled := s.modes.Enabled()
		if !enabled && s.lastEnabled {
			if seg, ok := s.seg.Flush(ReasonModeDisabled); ok {
				s.queue.Push(seg)
			}
		}
		s.lastEnabled = enabled
	}

	frame := audio.Frame{PCM: pcm, SampleRate: s.sampleRate, Channels: s.channels}
	if seg, ok := s.seg.Process(frame); ok {
		s.queue.Push(seg)
	}
}

// Close flushes any open segment when the connection ends.
func (s *Source) Close() {
	if seg, ok := s.seg.Flush(ReasonShutdown); ok {
		s.queue.Push(seg)
	}
}
