package models

import (
	"encoding/json"
	"time"
)

// MessageRole is a closed enumeration of conversation participants.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is ordered within a session by CreatedAt. Assistant messages
// become immutable once response.complete fires; user messages are
// immutable on receipt (spec §3).
type Message struct {
	ID                string
	SessionID         string
	Role              MessageRole
	Content           string
	CreatedAt         time.Time
	Citations         []Citation
	ToolCallID        string
	PreviousMessageID string // message this one branches/regenerates from, empty for root
	complete          bool
}

// NewMessage constructs a Message in its mutable (not-yet-complete) state.
func NewMessage(id, sessionID string, role MessageRole, content string, now time.Time) *Message {
	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		complete:  role == RoleUser, // user messages are immutable on receipt
	}
}

// Complete marks an assistant message immutable once response.complete fires.
func (m *Message) Complete(finalContent string, citations []Citation) {
	m.Content = finalContent
	m.Citations = citations
	m.complete = true
}

// IsImmutable reports whether further mutation of this message is forbidden.
func (m *Message) IsImmutable() bool {
	return m.complete
}

// messageJSON mirrors Message but exposes the immutability flag, so
// round-tripping through the context cache doesn't silently make a
// completed message editable again.
type messageJSON struct {
	ID                string      `json:"id"`
	SessionID         string      `json:"session_id"`
	Role              MessageRole `json:"role"`
	Content           string      `json:"content"`
	CreatedAt         time.Time   `json:"created_at"`
	Citations         []Citation  `json:"citations,omitempty"`
	ToolCallID        string      `json:"tool_call_id,omitempty"`
	PreviousMessageID string      `json:"previous_message_id,omitempty"`
	Complete          bool        `json:"complete"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:                m.ID,
		SessionID:         m.SessionID,
		Role:              m.Role,
		Content:           m.Content,
		CreatedAt:         m.CreatedAt,
		Citations:         m.Citations,
		ToolCallID:        m.ToolCallID,
		PreviousMessageID: m.PreviousMessageID,
		Complete:          m.complete,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.SessionID = raw.SessionID
	m.Role = raw.Role
	m.Content = raw.Content
	m.CreatedAt = raw.CreatedAt
	m.Citations = raw.Citations
	m.ToolCallID = raw.ToolCallID
	m.PreviousMessageID = raw.PreviousMessageID
	m.complete = raw.Complete
	return nil
}

// ConversationContext is the bounded, per-session working set the orchestrator
// hands to C2–C9: recent history, pinned clinical context, preferences, and
// clarification state. Derived from Session; mutated only by the
// orchestrator; written through cache then store.
type ConversationContext struct {
	SessionID           string
	History             []*Message // bounded to HistoryLimit, oldest dropped first
	HistoryLimit        int
	PinnedContext       string
	Preferences         *Preferences
	CurrentIntent       *Intent
	PendingClarification bool
	TipMessageID        string
}

const DefaultHistoryLimit = 10

// NewConversationContext creates an empty context bounded to limit (or the
// spec default of 10 when limit <= 0).
func NewConversationContext(sessionID string, limit int) *ConversationContext {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ConversationContext{
		SessionID:    sessionID,
		History:      make([]*Message, 0, limit),
		HistoryLimit: limit,
		Preferences:  &Preferences{},
	}
}

// AppendMessage appends m to history in FIFO-bounded fashion: once the cap
// is reached the oldest entry is dropped before the new one is appended
// (spec §3 invariant).
func (c *ConversationContext) AppendMessage(m *Message) {
	c.History = append(c.History, m)
	if len(c.History) > c.HistoryLimit {
		c.History = c.History[len(c.History)-c.HistoryLimit:]
	}
	c.TipMessageID = m.ID
}

// RecentHistory returns the last n messages (or fewer if history is
// shorter), oldest first — used by the Answer Generator's prompt slice
// (spec §4.7: "last ≤ 5 messages").
func (c *ConversationContext) RecentHistory(n int) []*Message {
	if n <= 0 || n > len(c.History) {
		n = len(c.History)
	}
	return c.History[len(c.History)-n:]
}
