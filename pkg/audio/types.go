// Package audio provides the frame type and PCM helpers shared by the
// capture boundary, the segmenter, and the transcription backends.
package audio

import "time"

// BitsPerSample is fixed at 16 for the signed little-endian PCM audio the
// whole pipeline operates on.
const BitsPerSample = 16

// Frame is a fixed-duration block of mono PCM samples delivered by the
// capture collaborator. Frames are ephemeral: the segmenter either folds them
// into the current segment buffer or discards them as silence.
type Frame struct {
	// PCM is raw 16-bit signed little-endian audio data.
	PCM []byte

	// SampleRate in Hz (16000 for whisper input).
	SampleRate int

	// Channels is the channel count. The capture boundary delivers mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame derived from its PCM length.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.PCM), f.SampleRate, f.Channels)
}

// PCMDuration returns the play time of n bytes of 16-bit PCM audio.
// Returns 0 for invalid sample rates or channel counts.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (BitsPerSample / 8)
	return time.Duration(n) * time.Second / time.Duration(bytesPerSec)
}

// BytesPerMs returns the PCM byte count corresponding to one millisecond of
// audio, or 0 for invalid inputs.
func BytesPerMs(sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return sampleRate * channels * (BitsPerSample / 8) / 1000
}
