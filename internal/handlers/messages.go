package handlers

import (
	"net/http"

	"github.com/eldtechnologies/agentrelay/internal/api/middleware"
	"github.com/eldtechnologies/agentrelay/internal/models"
)

// PostMessageRequest represents the send message request.
type PostMessageRequest struct {
	Content string `json:"content"`
	Room    string `json:"room,omitempty"`
}

// PostMessageResponse represents the send message response.
type PostMessageResponse struct {
	OK        bool  `json:"ok"`
	MessageID int64 `json:"messageId"`
}

// MessagesResponse wraps a chronological page of messages.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// PostMessage handles sending a message (authenticated).
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	// Get authenticated agent from context
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PostMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.relay.Post(r.Context(), agent, req.Content, req.Room)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, PostMessageResponse{OK: true, MessageID: msg.ID})
}

// GetMessages handles reading one room, by cursor or latest snapshot.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	messages, err := h.relay.Messages(r.Context(), q.Get("room"), q.Get("since"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, MessagesResponse{Messages: nonNil(messages)})
}

// GetAllMessages handles reading across every room.
func (h *Handler) GetAllMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.relay.MessagesAll(r.Context(), r.URL.Query().Get("since"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, MessagesResponse{Messages: nonNil(messages)})
}

// nonNil keeps empty pages encoded as [] rather than null.
func nonNil(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}
