// Package server exposes the recorder dispatcher to the scripting shell over
// HTTP and streams status events over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/recbridge/internal/bridge"
	"github.com/audiolibrelab/recbridge/internal/recorder"
	"github.com/audiolibrelab/recbridge/internal/status"
)

const writeWait = 5 * time.Second

// Server routes shell commands to the dispatcher
type Server struct {
	dispatcher *bridge.Dispatcher
	reporter   *status.Reporter
	port       string

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	connMutex   sync.Mutex
	connections map[*websocket.Conn]struct{}
	closed      bool
}

// ExecRequest is the body of POST /api/exec
type ExecRequest struct {
	Action string   `json:"action"`
	Args   []string `json:"args"`
}

// ExecResponse is the reply to POST /api/exec
type ExecResponse struct {
	Success bool     `json:"success"`
	Handled bool     `json:"handled"`
	Level   *float64 `json:"level,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// MessageRequest is the body of POST /api/message
type MessageRequest struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	State         string            `json:"state"`
	Session       *recorder.Info    `json:"session,omitempty"`
	PhoneState    bridge.PhoneState `json:"phone_state"`
	LastError     string            `json:"last_error,omitempty"`
	DroppedEvents int64             `json:"dropped_events"`
}

// New creates a server. The dispatcher and reporter are closed by Shutdown.
func New(dispatcher *bridge.Dispatcher, reporter *status.Reporter, port string) *Server {
	s := &Server{
		dispatcher:  dispatcher,
		reporter:    reporter,
		port:        port,
		router:      mux.NewRouter(),
		connections: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// The shell page is served from a local origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/exec", s.handleExec).Methods(http.MethodPost)
	s.router.HandleFunc("/api/message", s.handleMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodPost)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/status/{sessionId}", s.handleStatusSocket).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It returns nil at once if Shutdown
// already ran.
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting recorder bridge server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, force-releases the recorder, stops
// status delivery and closes open status sockets
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
		err = fmt.Errorf("HTTP server shutdown: %w", shutdownErr)
	}

	s.dispatcher.Close()
	s.reporter.Close()

	s.connMutex.Lock()
	s.closed = true
	for conn := range s.connections {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
	}
	s.connMutex.Unlock()

	slog.Info("Server stopped")
	return err
}

// handleExec runs one dispatcher command
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON", "operation", "exec", "error", err)
		return
	}

	result, err := s.dispatcher.Execute(r.Context(), req.Action, req.Args)
	if err != nil {
		s.sendErrorResponse(w, statusCodeFor(err), err.Error(), "operation", "exec", "action", req.Action)
		return
	}

	response := ExecResponse{Success: result.Handled, Handled: result.Handled}
	if result.HasLevel {
		level := result.Level
		response.Level = &level
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Handled {
		w.WriteHeader(http.StatusNotFound)
		response.Error = fmt.Sprintf("action %q not handled", req.Action)
	}
	json.NewEncoder(w).Encode(response)
}

// handleMessage forwards an out-of-band host message to the dispatcher
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON", "operation", "message", "error", err)
		return
	}
	if req.ID == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Message id is required", "operation", "message")
		return
	}

	s.dispatcher.OnMessage(req.ID, req.Data)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}

// handleReset releases the active session
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.Reset()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}

// handleStatus returns the current session
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		PhoneState:    s.dispatcher.PhoneState(),
		LastError:     s.dispatcher.LastError(),
		DroppedEvents: s.reporter.Dropped(),
	}

	info, ok := s.dispatcher.Session()
	response.State = info.State
	if ok {
		response.Session = &info
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStatusSocket registers the connection as the status listener for a
// session id until the client disconnects
func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		slog.Debug("WebSocket upgrade failed", "session", sessionID, "error", err)
		return
	}

	unregister := s.reporter.Register(sessionID, &socketListener{conn: conn})
	if !s.track(conn) {
		unregister()
		conn.Close()
		return
	}
	defer func() {
		unregister()
		s.untrack(conn)
	}()

	slog.Info("Status socket connected", "session", sessionID, "remote", r.RemoteAddr)

	// Client frames are ignored; the read only detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Status socket closed unexpectedly", "session", sessionID, "error", err)
			}
			break
		}
	}

	slog.Info("Status socket disconnected", "session", sessionID)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.closed {
		return false
	}
	s.connections[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	delete(s.connections, conn)
	conn.Close()
}

func (s *Server) connectionCount() int {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	return len(s.connections)
}

// socketListener writes status events as JSON text frames
type socketListener struct {
	mutex sync.Mutex
	conn  *websocket.Conn
}

func (l *socketListener) Deliver(event status.Event) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.conn.WriteJSON(event)
}

// statusCodeFor maps dispatcher error kinds to HTTP status codes
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrNotHandled):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// sendErrorResponse sends a structured JSON error response and logs the error
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"handled": statusCode != http.StatusNotFound,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// No packets are sent; dialing UDP only selects the outbound interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
