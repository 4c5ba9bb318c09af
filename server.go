package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/atcommand/at"
	"i4.energy/across/atcommand/modem"
)

// Server handles incoming HTTP requests for interacting with the
// configured modem client
type Server struct {
	Logger *zap.Logger
	Client *modem.Client
}

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Command string `json:"command"`
	// TimeoutMS overrides the client's command timeout when positive.
	TimeoutMS int    `json:"timeout_ms,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
}

// CommandResponse reports the outcome of one command.
type CommandResponse struct {
	Command      string `json:"command"`
	Result       string `json:"result"`
	Info         string `json:"info,omitempty"`
	CRC          string `json:"crc"`
	Noncompliant bool   `json:"noncompliant,omitempty"`
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("GET /urc", s.handleURC)
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
		s.Logger.Debug("Failed to write response", zap.Error(err))
	}
}

// handleCommand sends one AT command and reports its response
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Command == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}

	var opts []modem.SendOption
	if req.TimeoutMS > 0 {
		opts = append(opts, modem.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}
	if req.Prefix != "" {
		opts = append(opts, modem.WithPrefix(req.Prefix))
	}

	resp, err := s.Client.Send(r.Context(), req.Command, opts...)
	if err != nil {
		s.Logger.Error("Failed to send command", zap.Error(err), zap.String("command", req.Command))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Command completed",
		zap.String("command", req.Command),
		zap.Stringer("result", resp.Result))
	s.sendJSON(w, commandResponse(req.Command, resp), http.StatusOK)
}

// handleURC drains the unsolicited result code queue
func (s *Server) handleURC(w http.ResponseWriter, r *http.Request) {
	urcs := []string{}
	for {
		urc, ok := s.Client.URC()
		if !ok {
			break
		}
		urcs = append(urcs, urc)
	}
	s.sendJSON(w, urcs, http.StatusOK)
}

func commandResponse(cmd string, resp at.Response) CommandResponse {
	return CommandResponse{
		Command:      cmd,
		Result:       resp.Result.String(),
		Info:         resp.Info,
		CRC:          resp.CRC.String(),
		Noncompliant: resp.Noncompliant,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrDataModeActive):
		return http.StatusConflict
	case errors.Is(err, modem.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
