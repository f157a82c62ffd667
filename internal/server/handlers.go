package server

import (
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/contexthub/internal/daemon"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// handleContext is the single operation endpoint. The request body selects
// the action; responses carry whatever the action produced.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req daemon.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.adapter.WriteErrorResponse(w,
			ferrors.ValidationError("malformed request body").Build())
		return
	}
	if req.Action == "" {
		s.adapter.WriteErrorResponse(w,
			ferrors.ValidationError("action is required").Build())
		return
	}

	res, err := s.daemon.Engine().Apply(r.Context(), req)
	if err != nil {
		s.adapter.WriteErrorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type healthResponse struct {
	Status      string `json:"status"`
	UptimeSec   int64  `json:"uptime_sec"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		UptimeSec:   int64(time.Since(s.daemon.StartedAt()).Seconds()),
		Connections: s.daemon.Hub().ConnCount(""),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
