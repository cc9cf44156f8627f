package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"i4.energy/across/polectl/dispatch"
	"i4.energy/across/polectl/modem"
	"i4.energy/across/polectl/pole"
)

// Poles is the dispatcher view the server exposes. Nothing here starts a
// modem transaction.
type Poles interface {
	Snapshot() []pole.State
	Phase() dispatch.Phase
	RequestReset(ids ...pole.ID)
}

// ModemStatus reports the session state.
type ModemStatus interface {
	State() modem.State
}

// Server is the local maintenance API of the unit
type Server struct {
	Logger *slog.Logger
	Poles  Poles
	Modem  ModemStatus
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /poles", s.handlePoles)
	mux.HandleFunc("POST /poles/{id}/reset", s.handleReset)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", "error", err)
	}
}

// handleHealth answers 200 while the modem is powered, 503 otherwise
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type HealthResponse struct {
		Modem      string `json:"modem"`
		Dispatcher string `json:"dispatcher"`
	}
	state := s.Modem.State()
	resp := HealthResponse{Modem: state.String(), Dispatcher: s.Poles.Phase().String()}
	code := http.StatusOK
	if state == modem.Off {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, resp, code)
}

func (s *Server) handlePoles(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, s.Poles.Snapshot(), http.StatusOK)
}

// handleReset queues a fault latch reset. The control loop applies it and
// reports the pole healthy again on its next iteration.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("id"))
	id := pole.ID(n)
	if err != nil || !id.Valid() {
		s.sendError(w, "unknown pole "+strconv.Quote(r.PathValue("id")), http.StatusNotFound)
		return
	}

	s.Poles.RequestReset(id)
	s.Logger.Info("Fault reset requested", "pole", id.String(), "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
}
