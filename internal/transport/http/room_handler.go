package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"go.uber.org/zap"
)

// RoomHandler serves the read-only room endpoints.
type RoomHandler struct {
	service *app.GameService
	log     *zap.Logger
}

func NewRoomHandler(service *app.GameService, log *zap.Logger) *RoomHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomHandler{service: service, log: log}
}

type errorBody struct {
	Error string `json:"error"`
}

// ServeStatus answers GET /rooms/{id} with {roomId,status,playerCount}.
func (h *RoomHandler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	summary, err := h.service.RoomStatus(r.Context(), roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		h.log.Error("room status", zap.String("room_id", roomID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ServeResults answers GET /rooms/{id}/results with the recorded games.
func (h *RoomHandler) ServeResults(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	results, err := h.service.Results(r.Context(), roomID)
	if err != nil {
		h.log.Error("room results", zap.String("room_id", roomID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server error"})
		return
	}
	if results == nil {
		results = []domain.GameResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// NewMux wires the websocket endpoint and the HTTP surface.
func NewMux(ws *WSHandler, rooms *RoomHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	mux.HandleFunc("GET /rooms/{id}", rooms.ServeStatus)
	mux.HandleFunc("GET /rooms/{id}/results", rooms.ServeResults)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
