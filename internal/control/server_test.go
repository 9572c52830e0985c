package control

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dannycyd/ECE4180-Camera/internal/pipeline"
)

type fakeCommander struct {
	captures   int
	toggles    int
	countdowns int
}

func (f *fakeCommander) RequestCapture()    { f.captures++ }
func (f *fakeCommander) RequestModeToggle() { f.toggles++ }
func (f *fakeCommander) RequestCountdown()  { f.countdowns++ }

type fakeSource struct {
	status pipeline.Status
	frame  []byte
}

func (f *fakeSource) Status() pipeline.Status { return f.status }
func (f *fakeSource) LatestFrame() []byte     { return f.frame }

func newTestServer() (*Server, *fakeCommander, *fakeSource) {
	cmd := &fakeCommander{}
	src := &fakeSource{
		status: pipeline.Status{Mode: "Instant", State: "idle", Photos: 2, SDAvailable: true, CameraAvailable: true},
	}
	return NewServer(cmd, src), cmd, src
}

func TestCommandRoutes(t *testing.T) {
	srv, cmd, _ := newTestServer()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	for _, route := range []string{"/capture", "/toggle", "/countdown_start"} {
		resp, err := http.Get(ts.URL + route)
		if err != nil {
			t.Fatalf("GET %s: %v", route, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", route, resp.StatusCode)
		}
		if string(body) != "OK" {
			t.Errorf("GET %s body = %q, want OK", route, body)
		}
	}

	if cmd.captures != 1 || cmd.toggles != 1 || cmd.countdowns != 1 {
		t.Fatalf("commands = %d/%d/%d, want 1/1/1", cmd.captures, cmd.toggles, cmd.countdowns)
	}
}

func TestStatusRoute(t *testing.T) {
	srv, _, _ := newTestServer()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
	var st pipeline.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Mode != "Instant" || st.State != "idle" || st.Photos != 2 || !st.SDAvailable {
		t.Fatalf("status = %+v", st)
	}
}

func TestFrameRoute(t *testing.T) {
	srv, _, src := newTestServer()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	// No frame yet.
	resp, err := http.Get(ts.URL + "/frame")
	if err != nil {
		t.Fatalf("GET /frame: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("empty frame status = %d, want 503", resp.StatusCode)
	}

	src.frame = []byte{0xFF, 0xD8, 0x10, 0x20}
	resp, err = http.Get(ts.URL + "/frame")
	if err != nil {
		t.Fatalf("GET /frame: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("frame status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	if len(body) != 4 || body[0] != 0xFF || body[1] != 0xD8 {
		t.Fatalf("frame body = % X", body)
	}
}

func TestStreamPushesFrames(t *testing.T) {
	srv, _, src := newTestServer()
	srv.StreamInterval = 5 * time.Millisecond
	src.frame = []byte{0xFF, 0xD8, 0x99}

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", kind)
	}
	if len(msg) != 3 || msg[0] != 0xFF || msg[1] != 0xD8 {
		t.Fatalf("message = % X", msg)
	}
}

func TestStreamStopsOnShutdown(t *testing.T) {
	srv, _, src := newTestServer()
	srv.StreamInterval = 5 * time.Millisecond
	src.frame = []byte{0xFF, 0xD8, 0x01}

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// One frame proves the push loop is running.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read: %v", err)
	}

	close(srv.done)

	// The handler must return and close the connection; a read timing
	// out would mean the stream lingers until process exit.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				t.Fatal("stream still open after shutdown")
			}
			return
		}
	}
}
