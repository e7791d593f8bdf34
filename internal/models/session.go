package models

// SessionState tracks where a conversation is in its lifecycle.
type SessionState string

const (
	SessionNew      SessionState = "new"
	SessionActive   SessionState = "active"
	SessionOnFlow   SessionState = "on_flow"
	SessionComplete SessionState = "complete"
)

// Session is one conversation with its flow position and history.
// Version supports optimistic-lock saves.
type Session struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	State       SessionState   `json:"state"`
	FlowID      string         `json:"flow_id,omitempty"`
	CurrentStep string         `json:"current_step,omitempty"`
	FlowState   map[string]any `json:"flow_state,omitempty"`
	Messages    []Message      `json:"messages"`
	Version     int64          `json:"version"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// SessionHistoryResponse returns the stored messages of a session.
type SessionHistoryResponse struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	Count     int       `json:"count"`
}
