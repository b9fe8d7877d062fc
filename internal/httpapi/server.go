// Package httpapi provides the local REST surface the POS UI talks to.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/connectivity"
	"github.com/stagefront/poscore/internal/events"
	"github.com/stagefront/poscore/internal/models"
	"github.com/stagefront/poscore/internal/queue"
	"github.com/stagefront/poscore/internal/syncer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin admits non-browser clients (no Origin header) and pages served
// from the terminal's own loopback. Remote pages pointing their scripts at
// ws://localhost carry their own origin and are rejected.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// Server wires the queue, sync engine and event hub behind HTTP.
type Server struct {
	Router  *mux.Router
	queue   *queue.Queue
	engine  *syncer.Engine
	monitor *connectivity.Monitor
	hub     *events.Hub
	log     *zap.Logger
}

// NewServer builds the router.
func NewServer(q *queue.Queue, engine *syncer.Engine, monitor *connectivity.Monitor, hub *events.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Router:  mux.NewRouter(),
		queue:   q,
		engine:  engine,
		monitor: monitor,
		hub:     hub,
		log:     log,
	}

	r := s.Router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/theaters/{theaterID}/orders", s.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/api/theaters/{theaterID}/orders", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/theaters/{theaterID}/orders", s.handleClear).Methods(http.MethodDelete)
	r.HandleFunc("/api/theaters/{theaterID}/orders/{queueID}", s.handleRemove).Methods(http.MethodDelete)

	r.HandleFunc("/api/theaters/{theaterID}/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/api/theaters/{theaterID}/sync/retry-failed", s.handleRetryFailed).Methods(http.MethodPost)
	r.HandleFunc("/api/theaters/{theaterID}/sync/status", s.handleSyncStatus).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// bearerToken extracts the backend token the UI holds; the core only
// forwards it, it never issues or validates tokens.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.monitor.IsOnline(),
	})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	theaterID := mux.Vars(r)["theaterID"]

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(payload) == 0 {
		http.Error(w, "order payload required", http.StatusBadRequest)
		return
	}
	if !json.Valid(payload) {
		http.Error(w, "order payload must be JSON", http.StatusBadRequest)
		return
	}

	order, persisted := s.queue.Enqueue(theaterID, payload)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order":     order,
		"persisted": persisted,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	theaterID := mux.Vars(r)["theaterID"]
	orders := s.queue.List(theaterID)
	if orders == nil {
		orders = []models.QueuedOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.queue.Remove(vars["theaterID"], vars["queueID"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.queue.Clear(mux.Vars(r)["theaterID"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	theaterID := mux.Vars(r)["theaterID"]
	run := s.engine.SyncPendingOrders(r.Context(), theaterID, bearerToken(r), nil)
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	theaterID := mux.Vars(r)["theaterID"]
	run := s.engine.RetryFailedOrders(r.Context(), theaterID, bearerToken(r), nil)
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	theaterID := mux.Vars(r)["theaterID"]
	report := s.engine.Status(theaterID, s.monitor.IsOnline(), s.monitor.State())
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := s.hub.Register(conn)

	// Reader loop: the UI sends nothing meaningful; we only watch for close.
	go func() {
		defer s.hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
