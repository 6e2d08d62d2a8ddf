package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/lobahq/loba/internal/hub"
	"github.com/lobahq/loba/pkg/audio"
	"github.com/lobahq/loba/pkg/subtitle"
)

const (
	// wsWriteTimeout caps one event delivery. Longer stalls indicate a
	// dead or hopeless client; the hub drops it.
	wsWriteTimeout = 5 * time.Second

	// ingestMaxFrame bounds one ingest message. A 100 ms frame at 48 kHz
	// stereo PCM is under 20 KiB; anything near the limit is not audio.
	ingestMaxFrame = 1 << 20
)

// wsSink adapts a subscriber WebSocket to hub.Sink.
type wsSink struct {
	conn *websocket.Conn
}

var _ hub.Sink = (*wsSink)(nil)

func (s *wsSink) Deliver(ctx context.Context, ev subtitle.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, data)
}

func (s *wsSink) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// handleSubscribe upgrades the connection and registers it with the hub.
// The read side only services pings and close frames; subscribers never
// send data.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("subscriber upgrade failed", "error", err)
		return
	}

	id := s.hub.Subscribe(&wsSink{conn: conn})
	if id == 0 {
		return // hub closing; sink already closed
	}

	// Block on the read loop; it returns when the client goes away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			s.hub.Unsubscribe(id)
			return
		}
	}
}

// handleIngest upgrades the connection and streams its audio frames into a
// fresh AudioSource. Query parameters:
//
//	mic    — source label carried into subtitle events (default from config)
//	format — "pcm" (default) for 16-bit LE frames, "opus" for Opus packets
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	mic := r.URL.Query().Get("mic")
	if mic == "" {
		mic = s.audioCfg.Microphone
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pcm"
	}

	var decoder *audio.OpusDecoder
	switch format {
	case "pcm":
	case "opus":
		dec, err := audio.NewOpusDecoder(s.audioCfg.SampleRate, s.audioCfg.Channels, s.audioCfg.FrameMs)
		if err != nil {
			http.Error(w, "opus decoder unavailable", http.StatusBadRequest)
			return
		}
		decoder = dec
	default:
		http.Error(w, "unknown format "+format, http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("ingest upgrade failed", "microphone", mic, "error", err)
		return
	}
	conn.SetReadLimit(ingestMaxFrame)

	source := s.newSource(mic)
	defer source.Close()

	s.log.Info("ingest connected", "microphone", mic, "format", format)
	defer s.log.Info("ingest disconnected", "microphone", mic)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return
			}
			s.log.Debug("ingest read ended", "microphone", mic, "error", err)
			return
		}
		if typ != websocket.MessageBinary {
			// Text frames are tolerated as keepalives.
			continue
		}

		pcm := data
		if decoder != nil {
			pcm, err = decoder.Decode(data)
			if err != nil {
				s.log.Warn("dropping undecodable opus packet", "microphone", mic, "error", err)
				continue
			}
		}
		source.ProcessFrame(pcm)
	}
}
