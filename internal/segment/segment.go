// Package segment turns a continuous PCM frame stream into discrete speech
// segments using a VAD detector. A segment opens on speech onset (with a
// short pre-roll so the first syllable is not clipped), and closes on
// sustained silence, on the maximum-length cap, or on an external flush.
package segment

import (
	"log/slog"
	"time"

	"github.com/lobahq/loba/pkg/audio"
	"github.com/lobahq/loba/pkg/provider/vad"
)

// TerminationReason records why a segment was closed.
type TerminationReason string

const (
	// ReasonSilence means the trailing-silence threshold was reached.
	ReasonSilence TerminationReason = "silence_timeout"

	// ReasonMaxDuration means the segment hit the hard length cap.
	ReasonMaxDuration TerminationReason = "max_duration_reached"

	// ReasonModeDisabled means the operator turned subtitles off while a
	// segment was open. Such segments are finalized for accounting but
	// must not produce subtitle events.
	ReasonModeDisabled TerminationReason = "mode_disabled_flush"

	// ReasonShutdown means the pipeline is stopping.
	ReasonShutdown TerminationReason = "shutdown"
)

// Segment is a finalized stretch of speech audio.
type Segment struct {
	// ID is a monotonically increasing sequence number, unique per
	// Segmenter. Downstream ordering guarantees are stated in terms of it.
	ID uint64

	// PCM is 16-bit little-endian mono audio including the pre-roll and
	// any trailing silence up to the threshold.
	PCM []byte

	SampleRate int
	Channels   int

	// Start and End are stream-relative positions.
	Start time.Duration
	End   time.Duration

	Reason TerminationReason

	// Microphone labels the source the audio arrived from.
	Microphone string
}

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	return audio.PCMDuration(len(s.PCM), s.SampleRate, s.Channels)
}

// Config bounds segment formation. Zero fields take the defaults, which
// match 100 ms frames at 16 kHz mono.
type Config struct {
	// SilenceThreshold is how much trailing silence closes a segment.
	SilenceThreshold time.Duration

	// MaxSegmentLength is the hard cap on segment duration.
	MaxSegmentLength time.Duration

	// MinSpeechDuration discards segments with less voiced audio than
	// this (coughs, keyboard noise).
	MinSpeechDuration time.Duration

	// Overlap carries this much trailing audio into the next segment when
	// the length cap splits continuous speech. Zero disables carryover.
	Overlap time.Duration

	// PreRollFrames is how many pre-onset frames to prepend.
	PreRollFrames int
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 300 * time.Millisecond
	}
	if c.MaxSegmentLength <= 0 {
		c.MaxSegmentLength = 12 * time.Second
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 200 * time.Millisecond
	}
	if c.PreRollFrames <= 0 {
		c.PreRollFrames = 2
	}
	return c
}

// Segmenter accumulates frames into segments. It is not safe for concurrent
// use; drive it from a single goroutine per audio source.
type Segmenter struct {
	det        vad.Detector
	cfg        Config
	log        *slog.Logger
	microphone string

	pos        time.Duration // stream position before the current frame
	preRoll    []audio.Frame
	collecting bool
	buf        []byte
	start      time.Duration
	carried    time.Duration // overlap audio inherited from a capped predecessor
	voiced     time.Duration
	silence    time.Duration
	sampleRate int
	channels   int
	nextID     uint64
	discarded  uint64
}

// New creates a Segmenter for one audio source. microphone labels segments
// with their origin.
func New(det vad.Detector, microphone string, cfg Config, log *slog.Logger) *Segmenter {
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{
		det:        det,
		cfg:        cfg.withDefaults(),
		log:        log,
		microphone: microphone,
		nextID:     1,
	}
}

// Discarded returns how many segments were dropped for being shorter than
// the minimum speech duration.
func (s *Segmenter) Discarded() uint64 { return s.discarded }

// Process feeds one frame through the detector and returns a finalized
// segment when one closes on this frame.
func (s *Segmenter) Process(frame audio.Frame) (Segment, bool) {
	ev := s.det.ProcessFrame(frame.PCM)
	dur := frame.Duration()

	if !s.collecting {
		if ev.Type == vad.SpeechStart {
			s.begin(frame, dur)
		} else {
			s.pushPreRoll(frame)
		}
		s.pos += dur
		return Segment{}, false
	}

	s.buf = append(s.buf, frame.PCM...)
	switch ev.Type {
	case vad.SpeechStart, vad.SpeechContinue:
		s.voiced += dur
		s.silence = 0
	default:
		s.silence += dur
	}
	s.pos += dur

	if s.silence >= s.cfg.SilenceThreshold {
		return s.finalize(ReasonSilence)
	}
	// Carried overlap is context from the previous segment, not new audio;
	// it does not count toward the cap.
	if s.bufferedDuration()-s.carried >= s.cfg.MaxSegmentLength {
		return s.finalize(ReasonMaxDuration)
	}
	return Segment{}, false
}

// Flush closes the open segment, if any, with the given reason. Used on mode
// disable and shutdown.
func (s *Segmenter) Flush(reason TerminationReason) (Segment, bool) {
	if !s.collecting {
		return Segment{}, false
	}
	return s.finalize(reason)
}

func (s *Segmenter) begin(frame audio.Frame, dur time.Duration) {
	s.sampleRate = frame.SampleRate
	s.channels = frame.Channels

	var preDur time.Duration
	s.buf = s.buf[:0]
	for _, f := range s.preRoll {
		s.buf = append(s.buf, f.PCM...)
		preDur += f.Duration()
	}
	s.buf = append(s.buf, frame.PCM...)
	s.preRoll = s.preRoll[:0]

	s.start = s.pos - preDur
	if s.start < 0 {
		s.start = 0
	}
	s.carried = 0
	s.voiced = dur
	s.silence = 0
	s.collecting = true
}

func (s *Segmenter) pushPreRoll(frame audio.Frame) {
	// Copy the PCM: callers are free to reuse frame buffers.
	f := frame
	f.PCM = append([]byte(nil), frame.PCM...)
	s.preRoll = append(s.preRoll, f)
	if len(s.preRoll) > s.cfg.PreRollFrames {
		s.preRoll = s.preRoll[1:]
	}
}

func (s *Segmenter) finalize(reason TerminationReason) (Segment, bool) {
	pcm := append([]byte(nil), s.buf...)
	seg := Segment{
		ID:         s.nextID,
		PCM:        pcm,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Start:      s.start,
		End:        s.pos,
		Reason:     reason,
		Microphone: s.microphone,
	}

	carryOverlap := reason == ReasonMaxDuration && s.cfg.Overlap > 0
	voiced := s.voiced

	s.buf = s.buf[:0]
	s.collecting = false
	s.carried = 0
	s.voiced = 0
	s.silence = 0

	if carryOverlap {
		// Continuous speech was split by the cap; keep the tail so the
		// next transcription has context across the cut.
		tail := audio.BytesPerMs(s.sampleRate, s.channels) * int(s.cfg.Overlap.Milliseconds())
		if tail > 0 && tail < len(pcm) {
			s.buf = append(s.buf, pcm[len(pcm)-tail:]...)
			s.start = s.pos - s.cfg.Overlap
			s.carried = s.cfg.Overlap
			s.voiced = s.cfg.Overlap
			s.collecting = true
		}
	} else {
		s.det.Reset()
	}

	if voiced < s.cfg.MinSpeechDuration {
		s.discarded++
		s.log.Debug("segment discarded below minimum speech duration",
			"voiced", voiced, "reason", reason, "microphone", s.microphone)
		return Segment{}, false
	}

	s.nextID++
	return seg, true
}

func (s *Segmenter) bufferedDuration() time.Duration {
	return audio.PCMDuration(len(s.buf), s.sampleRate, s.channels)
}
