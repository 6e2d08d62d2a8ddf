package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lobahq/loba/internal/config"
	"github.com/lobahq/loba/internal/hub"
	"github.com/lobahq/loba/internal/mode"
	"github.com/lobahq/loba/internal/overlay"
	"github.com/lobahq/loba/pkg/subtitle"
)

type captureSource struct {
	mu     sync.Mutex
	mic    string
	frames [][]byte
	closed bool
}

func (c *captureSource) setMic(mic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mic = mic
}

func (c *captureSource) micLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic
}

func (c *captureSource) ProcessFrame(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), pcm...))
}

func (c *captureSource) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *captureSource) state() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames), c.closed
}

type fixture struct {
	srv      *httptest.Server
	hub      *hub.Hub
	modes    *mode.Controller
	renderer *overlay.Renderer
	source   *captureSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:      hub.New(nil),
		modes:    mode.New(true, nil),
		renderer: overlay.NewRenderer(2, time.Minute),
		source:   &captureSource{},
	}

	cfg := config.Default()
	s := New(Params{
		Config:   cfg.Server,
		Overlay:  cfg.Overlay,
		Audio:    cfg.Audio,
		Hub:      f.hub,
		Mode:     f.modes,
		Renderer: f.renderer,
		NewSource: func(mic string) AudioSource {
			f.source.setMic(mic)
			return f.source
		},
	})

	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		f.hub.Close()
	})
	return f
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestConfigEndpoint(t *testing.T) {
	f := newFixture(t)

	var got struct {
		SubtitleTTLMs int    `json:"subtitle_ttl_ms"`
		MaxLines      int    `json:"max_lines"`
		Microphone    string `json:"microphone"`
	}
	getJSON(t, f.srv.URL+"/config", &got)

	if got.SubtitleTTLMs != 4500 || got.MaxLines != 2 {
		t.Errorf("config = %+v, want ttl 4500 and 2 lines", got)
	}
	if got.Microphone != "default" {
		t.Errorf("microphone = %q, want default", got.Microphone)
	}
}

func TestToggleEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/toggle", "", nil)
	if err != nil {
		t.Fatalf("POST /toggle: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Enabled bool   `json:"enabled"`
		Epoch   uint64 `json:"epoch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Enabled || got.Epoch != 1 {
		t.Errorf("toggle response = %+v, want disabled at epoch 1", got)
	}
	if f.modes.Enabled() {
		t.Error("controller still enabled after toggle")
	}
}

func TestSubscribe_ReceivesBroadcastEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.wsURL("/ws"), nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.After(2 * time.Second)
	for f.hub.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	f.hub.Broadcast(subtitle.Final("olá a todos", "pt", "desk", 7))

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	ev, err := subtitle.Decode(data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != subtitle.TypeFinal || ev.Text != "olá a todos" || ev.Language != "pt" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Microphone != "desk" {
		t.Errorf("microphone = %q, want desk", ev.Microphone)
	}
}

func TestIngest_FramesReachSource(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.wsURL("/ingest?mic=booth"), nil)
	if err != nil {
		t.Fatalf("dial /ingest: %v", err)
	}

	frame := make([]byte, 3200)
	for i := 0; i < 3; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.After(2 * time.Second)
	for {
		n, closed := f.source.state()
		if n == 3 && closed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("source state = (%d frames, closed=%v), want (3, true)", n, closed)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := f.source.micLabel(); got != "booth" {
		t.Errorf("microphone label = %q, want %q", got, "booth")
	}
}

func TestIngest_RejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/ingest?format=flac")
	if err != nil {
		t.Fatalf("GET /ingest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	f := newFixture(t)
	f.renderer.Apply(subtitle.Final("linha um", "pt", "", 1))

	var got overlay.Frame
	getJSON(t, f.srv.URL+"/preview", &got)

	if len(got.Lines) != 1 || got.Lines[0].Text != "linha um" {
		t.Errorf("preview = %+v", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	var got struct {
		Enabled     bool  `json:"enabled"`
		Subscribers int64 `json:"subscribers"`
	}
	getJSON(t, f.srv.URL+"/status", &got)

	if !got.Enabled || got.Subscribers != 0 {
		t.Errorf("status = %+v", got)
	}
}

func TestRootRedirectsToOverlay(t *testing.T) {
	f := newFixture(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/overlay" {
		t.Errorf("location = %q, want /overlay", loc)
	}
}

func TestOverlayPageServed(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/overlay")
	if err != nil {
		t.Fatalf("GET /overlay: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
