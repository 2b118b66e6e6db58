package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"codefusion/protocol"
	"codefusion/socket"
)

type RoomHandler struct {
	Hub *socket.Hub
}

type ParticipantsResponse struct {
	RoomID       string                 `json:"roomId"`
	Participants []protocol.Participant `json:"participants"`
}

func (h *RoomHandler) Participants(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(mux.Vars(r)["roomId"])
	if roomID == "" {
		http.Error(w, "Missing roomId", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ParticipantsResponse{RoomID: roomID, Participants: h.Hub.Participants(roomID)})
}
