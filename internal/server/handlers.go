package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/telnet2/winbus/internal/kvstore"
)

// fireRequest is the body of POST /event.
type fireRequest struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// fireEvent handles POST /event: publish an event through the bus.
func (srv *Server) fireEvent(w http.ResponseWriter, r *http.Request) {
	var req fireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}

	if err := srv.bus.Fire(r.Context(), req.Name, req.Payload); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeStoreUnavailable, err.Error())
		return
	}
	writeSuccess(w)
}

// currentEvent handles GET /event/{name}: the latest envelope for a name.
func (srv *Server) currentEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	e, err := srv.bus.Current(r.Context(), name)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "no event fired for "+name)
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}
