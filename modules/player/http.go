package player

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zachfi/streamplay/pkg/progressive"
)

type playRequest struct {
	Src string `json:"src"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterHandlers adds the playback API to r.
//
//	POST   /api/play    load src (form value or JSON body)
//	DELETE /api/play    stop the current session
//	PUT    /api/stream  play the request body as it arrives; src is optional
//	GET    /api/status  current session, 204 when idle
func (p *Player) RegisterHandlers(r *mux.Router) {
	r.HandleFunc("/api/play", p.handlePlay).Methods(http.MethodPost)
	r.HandleFunc("/api/play", p.handleStop).Methods(http.MethodDelete)
	r.HandleFunc("/api/stream", p.handlePush).Methods(http.MethodPut)
	r.HandleFunc("/api/status", p.handleStatus).Methods(http.MethodGet)
}

func (p *Player) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	} else {
		req.Src = r.FormValue("src")
	}

	s, err := p.Play(r.Context(), req.Src)
	if err != nil {
		p.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, s.Status())
}

func (p *Player) handlePush(w http.ResponseWriter, r *http.Request) {
	s, err := p.Push(r.Context(), r.Body, r.URL.Query().Get("src"))
	if err != nil && s == nil {
		p.writeError(w, err)
		return
	}
	if err != nil {
		p.logger.Warn("pushed stream ended early", "err", err, "session", s.ID)
	}

	writeJSON(w, http.StatusOK, s.Status())
}

func (p *Player) handleStop(w http.ResponseWriter, _ *http.Request) {
	p.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (p *Player) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := p.Status()
	if st == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (p *Player) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errInvalidLocator):
		code = http.StatusBadRequest
	case errors.Is(err, progressive.ErrTotalFailure):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, progressive.ErrGuardClosed):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		p.logger.Error("request failed", "err", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
