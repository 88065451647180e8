package handlers

import "net/http"

// RoomsResponse represents the rooms list response.
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// ListRooms handles listing every room in use. "general" is always first.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.relay.Rooms(r.Context())
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, RoomsResponse{Rooms: rooms})
}
