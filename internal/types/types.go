package types

import (
	"time"
)

// User identifies a platform account on the real-time channel. Only the
// fields the gateway needs travel here; the full account record lives in
// the persistence layer.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Conversation is the wire representation of a tenant/landlord thread.
type Conversation struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	PropertyID   string    `json:"property_id,omitempty"`
	SeqID        int       `json:"seq_id"`
	CreatorID    string    `json:"creator_id"`
	Participants []User    `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Message is a persisted conversation message as delivered to clients.
type Message struct {
	SeqID          int       `json:"seq_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}
