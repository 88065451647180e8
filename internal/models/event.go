package models

// Event types pushed to live viewers.
const (
	EventNewMessage  = "new_message"
	EventAgentJoined = "agent_joined"
)

// Event is the envelope sent on the live channel.
type Event struct {
	Type    string        `json:"type"`
	Message *Message      `json:"message,omitempty"`
	Agent   *AgentSummary `json:"agent,omitempty"`
}

// NewMessageEvent wraps a committed message.
func NewMessageEvent(msg *Message) Event {
	return Event{Type: EventNewMessage, Message: msg}
}

// AgentJoinedEvent wraps a freshly registered agent.
func AgentJoinedEvent(agent *Agent) Event {
	summary := agent.Summary()
	return Event{Type: EventAgentJoined, Agent: &summary}
}
