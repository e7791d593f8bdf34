package models

// MessageRole is the author of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single conversation turn.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ChatRequest is an inbound chat turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the reply for a chat turn.
type ChatResponse struct {
	Reply     string       `json:"reply"`
	Type      IntentType   `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Session   SessionState `json:"session_state,omitempty"`
	FlowStep  string       `json:"flow_step,omitempty"`
}

// ResolveRequest asks for intent resolution only, no reply generation.
type ResolveRequest struct {
	Message string    `json:"message"`
	History []Message `json:"history,omitempty"`
}

// ReplyRequest asks for reply generation given an already-resolved intent.
type ReplyRequest struct {
	Message string    `json:"message"`
	Intent  string    `json:"intent"`
	FlowID  string    `json:"flow_id,omitempty"`
	History []Message `json:"history,omitempty"`
}

// InterruptCheckRequest asks whether an in-progress flow should be abandoned.
type InterruptCheckRequest struct {
	SessionID   string         `json:"session_id,omitempty"`
	FlowID      string         `json:"flow_id"`
	CurrentStep string         `json:"current_step,omitempty"`
	UserMessage string         `json:"user_message"`
	FlowState   map[string]any `json:"flow_state,omitempty"`
}

// FlowInterruptDecision is the outcome of an interrupt check.
// Produced fresh per request.
type FlowInterruptDecision struct {
	ShouldInterrupt bool    `json:"should_interrupt"`
	Confidence      float64 `json:"confidence"`
	NewIntent       string  `json:"new_intent,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// Ticket is a support ticket. Persistence is an external concern; the
// service fills identifiers and timestamps and echoes the rest.
type Ticket struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Intent      string `json:"intent"`
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// TicketOpen is the status of a freshly created ticket.
const TicketOpen = "open"

// KnowledgeRecord is one knowledge snippet with its metadata. Records are
// stored in a sequence parallel to the knowledge vector index.
type KnowledgeRecord struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
