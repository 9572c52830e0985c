// Package control exposes the network surface: command routes that post
// requests into the mailbox, a status query, and frame delivery over
// HTTP and WebSocket. Handlers never touch hardware; they only write
// mailbox cells and read snapshots, so they are safe to run on any
// goroutine.
package control

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/Dannycyd/ECE4180-Camera/internal/pipeline"
)

// Commander is the request side of the mailbox.
type Commander interface {
	RequestCapture()
	RequestModeToggle()
	RequestCountdown()
}

// StatusSource provides snapshots of pipeline state and frames.
type StatusSource interface {
	Status() pipeline.Status
	LatestFrame() []byte
}

// Server is the HTTP control surface.
type Server struct {
	cmd      Commander
	src      StatusSource
	upgrader websocket.Upgrader

	// done unblocks long-lived stream handlers on shutdown; Shutdown
	// alone never closes hijacked connections.
	done chan struct{}

	// StreamInterval paces the WebSocket push loop.
	StreamInterval time.Duration
}

// NewServer wires the command and status collaborators.
func NewServer(cmd Commander, src StatusSource) *Server {
	return &Server{
		cmd:  cmd,
		src:  src,
		done: make(chan struct{}),
		upgrader: websocket.Upgrader{
			// The appliance lives on a private network; the browser UI is
			// served from anywhere on it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		StreamInterval: 100 * time.Millisecond,
	}
}

// Routes builds the chi router for the control surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/capture", s.handleCapture)
	r.Get("/toggle", s.handleToggle)
	r.Get("/countdown_start", s.handleCountdown)
	r.Get("/status", s.handleStatus)
	r.Get("/frame", s.handleFrame)
	r.Get("/stream", s.handleStream)

	return r
}

// ListenAndServe runs the control server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		close(s.done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[Control] Listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	s.cmd.RequestCapture()
	w.Write([]byte("OK"))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.cmd.RequestModeToggle()
	w.Write([]byte("OK"))
}

func (s *Server) handleCountdown(w http.ResponseWriter, r *http.Request) {
	s.cmd.RequestCountdown()
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.src.Status())
}

// handleFrame serves the latest validated compressed frame, or 503 when
// no frame has been captured yet.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	payload := s.src.LatestFrame()
	if payload == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(payload)
}

// handleStream upgrades to WebSocket and pushes frames at a fixed pace
// until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Control] Stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[Control] Stream client connected: %s", r.RemoteAddr)

	// Drain reads so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.StreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		payload := s.src.LatestFrame()
		if payload == nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			log.Printf("[Control] Stream client gone: %s", r.RemoteAddr)
			return
		}
	}
}
