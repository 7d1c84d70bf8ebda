package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/capture"
	"github.com/audiolibrelab/sensorcapture/internal/service"
)

const maxRecentEvents = 50

// Server represents the HTTP API for controlling a capture service
type Server struct {
	service service.Service
	port    string

	eventsMu sync.RWMutex
	events   []EventInfo
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status        capture.Status  `json:"status"`
	Message       string          `json:"message,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Modalities    map[string]bool `json:"modalities"`
	ActiveProfile string          `json:"active_profile"`
}

// EventInfo is the JSON form of an orchestrator event
type EventInfo struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Remaining string    `json:"remaining,omitempty"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// ModeRequest changes the capture mode and optionally the countdown
type ModeRequest struct {
	Mode      string `json:"mode"`
	Countdown string `json:"countdown,omitempty"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a server for svc. It subscribes to svc events immediately.
func New(svc service.Service, port string) *Server {
	s := &Server{service: svc, port: port}
	svc.Subscribe(s.recordEvent)
	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/api/modalities", s.handleModalities)
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/storage", s.handleStorage)
	mux.HandleFunc("/api/events", s.handleEvents)
	return mux
}

// Start starts the web server
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting SensorCapture API Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return http.ListenAndServe(":"+s.port, s.Handler())
}

// handleStatus returns the orchestrator status and the modality toggles
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	status, err := s.service.GetStatus()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to read status: %v", err), "operation", "status")
		return
	}

	response := StatusResponse{
		Status:        status,
		Message:       generateStatusMessage(status),
		LastError:     s.service.GetLastError(),
		Modalities:    s.service.GetModalities(),
		ActiveProfile: s.service.GetConfig().Profile,
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleStart arms a session (IDLE -> ARMING)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	slog.Info("Server: Starting capture")
	if err := s.service.Start(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start capture: %v", err), "operation", "start")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Capture armed"})
}

// handleStop cancels a countdown or ends a continuous capture
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.Stop(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to stop capture: %v", err), "operation", "stop")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Stop requested"})
}

// handleMode changes the mode and countdown used by the next session
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "mode", "error", err)
		return
	}
	if req.Mode == "" && req.Countdown == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "mode or countdown is required", "operation", "mode")
		return
	}

	if req.Countdown != "" {
		d, err := time.ParseDuration(req.Countdown)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid countdown '%s'", req.Countdown), "operation", "mode")
			return
		}
		if err := s.service.SetCountdown(d); err != nil {
			s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "mode")
			return
		}
	}
	if req.Mode != "" {
		if err := s.service.SetMode(req.Mode); err != nil {
			s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "mode", "mode", req.Mode)
			return
		}
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Capture settings updated"})
}

// handleModalities reports (GET) or updates (POST) the modality toggles
func (s *Server) handleModalities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.sendJSON(w, http.StatusOK, s.service.GetModalities())
	case http.MethodPost:
		var toggles map[string]bool
		if err := json.NewDecoder(r.Body).Decode(&toggles); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "modalities", "error", err)
			return
		}
		updated, err := s.service.SetModalities(toggles)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "modalities")
			return
		}
		s.sendJSON(w, http.StatusOK, updated)
	default:
		s.sendMethodNotAllowed(w)
	}
}

// handleData deletes every captured file
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodDelete) {
		return
	}

	if err := s.service.DeleteAll(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to delete data: %v", err), "operation", "delete")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Delete all data."})
}

// handleStorage lists what each recorder holds on disk
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	info, err := s.service.GetStorageInfo()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "storage")
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

// handleEvents returns the most recent events, oldest first
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	s.eventsMu.RLock()
	events := append([]EventInfo{}, s.events...)
	s.eventsMu.RUnlock()
	s.sendJSON(w, http.StatusOK, events)
}

func (s *Server) recordEvent(ev capture.Event) {
	info := EventInfo{
		Time:      time.Now(),
		Kind:      string(ev.Kind),
		SessionID: ev.SessionID,
		Phase:     string(ev.Phase),
		Message:   ev.Message,
		Reason:    string(ev.Reason),
	}
	if ev.Phase == capture.PhaseCountdown {
		info.Remaining = ev.Remaining.Round(100 * time.Millisecond).String()
	}

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, info)
	if len(s.events) > maxRecentEvents {
		s.events = s.events[len(s.events)-maxRecentEvents:]
	}
}

// generateStatusMessage creates a user-friendly status message
func generateStatusMessage(st capture.Status) string {
	switch st.State {
	case capture.StateArming:
		return fmt.Sprintf("Starting in %.1fs", st.Remaining.Seconds())
	case capture.StateRecording:
		return "Recording"
	case capture.StateSaving, capture.StateSnapshotSave:
		return "Saving"
	default:
		return strings.TrimSpace(st.LastSummary)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrBusy), errors.Is(err, capture.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	s.sendMethodNotAllowed(w)
	return false
}

func (s *Server) sendMethodNotAllowed(w http.ResponseWriter) {
	s.sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
