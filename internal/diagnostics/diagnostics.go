// Package diagnostics implements the loopback introspection server (C8):
// a read-only HTTP+WebSocket view of session.State, bound only when
// --diag-addr is configured. It never touches the stream device's write
// mutex; it only reads session.Snapshot, so it cannot interfere with the
// protocol engine's timing (spec SPEC_FULL.md §4.8).
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/session"
)

// pollInterval is how often the WebSocket feed re-reads the snapshot and
// pushes it to subscribers, since session.State has no change-notification
// mechanism of its own (deliberately: it is a plain mutex-guarded struct
// read from the hot path).
const pollInterval = 500 * time.Millisecond

// Server is the diagnostics HTTP server.
type Server struct {
	addr   string
	state  *session.State
	router *mux.Router
	srv    *http.Server

	upgrader websocket.Upgrader
}

// New builds a diagnostics server bound to addr (e.g. "127.0.0.1:3111"),
// reading state snapshots on demand.
func New(addr string, state *session.State) *Server {
	s := &Server{
		addr:   addr,
		state:  state,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWS)
	return s
}

// Start begins serving in the background. It returns once the listener is
// up (or failed to bind, or addr is not a loopback address); errors
// afterward are logged, not returned, since the diagnostics server is
// never allowed to be fatal to the agent (spec SPEC_FULL.md §4.8).
func (s *Server) Start() error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("diagnostics: invalid address %q: %w", s.addr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("diagnostics: %q is not a loopback address", s.addr)
	}
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		logger.WithComponent("diagnostics").Info().Str("addr", s.addr).Msg("diagnostics server listening")
		go func() {
			if err := <-errCh; err != nil && err != http.ErrServerClosed {
				logger.WithComponent("diagnostics").Warn().Err(err).Msg("diagnostics server stopped")
			}
		}()
		return nil
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("diagnostics")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.state.Snapshot()); err != nil {
		return
	}
	for range ticker.C {
		if err := conn.WriteJSON(s.state.Snapshot()); err != nil {
			log.Debug().Err(err).Msg("websocket client disconnected")
			return
		}
	}
}
