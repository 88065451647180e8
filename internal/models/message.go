package models

import "strings"

// DefaultRoom is the room used when a message names none.
const DefaultRoom = "general"

// Message represents one chat utterance as stored in the log.
type Message struct {
	ID        int64  `json:"id"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Content   string `json:"content"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

// NormalizeRoom trims a room name and falls back to DefaultRoom.
func NormalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return DefaultRoom
	}
	return room
}
