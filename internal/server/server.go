package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/luxassist/platform/internal/gate"
	"github.com/luxassist/platform/internal/monitor"
	"github.com/luxassist/platform/internal/trace"
)

// DetectionMessage is pushed to every WebSocket client on an accepted wake
// word.
type DetectionMessage struct {
	Type      string            `json:"type"`
	Detection monitor.Detection `json:"detection"`
}

// OutputStateRequest toggles assistant-output suppression.
type OutputStateRequest struct {
	Active bool `json:"active"`
}

// VerificationRequest toggles phonetic verification.
type VerificationRequest struct {
	Enabled bool `json:"enabled"`
}

// StatsResponse is the full diagnostic snapshot.
type StatsResponse struct {
	Pipeline            monitor.Stats `json:"pipeline"`
	Gate                gate.Snapshot `json:"gate"`
	VerificationEnabled bool          `json:"verification_enabled"`
	TranscriberBreaker  string        `json:"transcriber_breaker"`
	Uptime              string        `json:"uptime"`
}

// Pipeline is the monitor surface the server needs.
type Pipeline interface {
	RegisterCallback(monitor.Callback)
	SetAudioOutputActive(active bool)
	SetVerificationEnabled(enabled bool)
	VerificationEnabled() bool
	Statistics() monitor.Stats
	Gate() gate.Snapshot
	BreakerState() string
}

// Server exposes the detection pipeline over HTTP and pushes detections to
// WebSocket subscribers.
type Server struct {
	mon     Pipeline
	logger  *slog.Logger
	started time.Time

	mu    sync.RWMutex
	conns map[*websocket.Conn]chan DetectionMessage
}

// New creates a server and registers itself as a detection callback.
func New(mon Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mon:     mon,
		logger:  logger.With("component", "server"),
		started: time.Now(),
		conns:   make(map[*websocket.Conn]chan DetectionMessage),
	}
	mon.RegisterCallback(s.broadcast)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/output/active", s.handleOutputState)
	mux.HandleFunc("POST /api/verification", s.handleVerification)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/healthz", s.handleHealth)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// broadcast fans a detection out to every connected client. Runs on the
// monitor's dispatch goroutine, so it never blocks: full client queues
// drop the oldest event.
func (s *Server) broadcast(d monitor.Detection) {
	msg := DetectionMessage{Type: "detection", Detection: d}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.conns {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events := make(chan DetectionMessage, EventQueueSize)
	s.mu.Lock()
	s.conns[conn] = events
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	log := trace.Logger(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Reads are only used to notice disconnects; clients send nothing.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			log.Debug("websocket disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-events:
			ctx, cancel := context.WithTimeout(r.Context(), PushTimeout)
			err := wsjson.Write(ctx, conn, msg)
			cancel()
			if err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) handleOutputState(w http.ResponseWriter, r *http.Request) {
	var req OutputStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mon.SetAudioOutputActive(req.Active)
	trace.Logger(r.Context()).Info("output state set", "active", req.Active)

	status := "output_inactive"
	if req.Active {
		status = "output_active"
	}
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mon.SetVerificationEnabled(req.Enabled)
	json.NewEncoder(w).Encode(map[string]bool{"verification_enabled": req.Enabled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Pipeline:            s.mon.Statistics(),
		Gate:                s.mon.Gate(),
		VerificationEnabled: s.mon.VerificationEnabled(),
		TranscriberBreaker:  s.mon.BreakerState(),
		Uptime:              time.Since(s.started).Round(time.Second).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
