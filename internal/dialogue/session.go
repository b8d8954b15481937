package dialogue

import (
	"maps"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchanged message.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the state of one conversation. It is owned by the caller and
// passed explicitly to the engine; the engine never keeps a reference.
type Session struct {
	ID      string            `json:"id"`
	Stage   string            `json:"stage"`
	History []Turn            `json:"history"`
	Fields  map[string]string `json:"fields"`
	// Topic is the detected service key, empty until one is detected.
	Topic   string `json:"topic,omitempty"`
	Retries int    `json:"retries"`
	// LeadID is set once the collected contact data was submitted.
	LeadID    string    `json:"lead_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session positioned at stage.
func NewSession(id, stage string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Stage:     stage,
		Fields:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.History = append([]Turn(nil), s.History...)
	c.Fields = maps.Clone(s.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	return &c
}

// Field returns a collected value.
func (s *Session) Field(name string) string {
	return s.Fields[name]
}

func (s *Session) record(role Role, text string, at time.Time, limit int) {
	if text == "" {
		return
	}
	s.History = append(s.History, Turn{Role: role, Text: text, At: at})
	if limit > 0 && len(s.History) > limit {
		s.History = append(s.History[:0:0], s.History[len(s.History)-limit:]...)
	}
}

// resetInquiry forgets the topic and collected fields for a new inquiry.
func (s *Session) resetInquiry() {
	s.Topic = ""
	s.Fields = make(map[string]string)
}
