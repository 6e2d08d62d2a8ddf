package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// OpusDecoder decodes mono Opus packets from a remote capture client into
// 16-bit little-endian PCM. Each ingest stream gets its own decoder so that
// decoder state carries correctly across consecutive packets.
//
// An OpusDecoder is not safe for concurrent use; confine it to the goroutine
// reading the ingest stream.
type OpusDecoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
	frameSize  int
}

// NewOpusDecoder creates a decoder for the given sample rate, channel count,
// and frame duration in milliseconds (Opus supports 2.5–60 ms frames; capture
// clients send 20 ms by convention).
func NewOpusDecoder(sampleRate, channels, frameMs int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * frameMs / 1000,
	}, nil
}

// Decode decodes a single Opus packet and returns interleaved PCM bytes.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16sToPCM(pcm), nil
}
