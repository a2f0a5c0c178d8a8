package server

import (
	"encoding/json"
	"time"
)

// EventType names one frame kind on the real-time channel. The inbound set
// is closed: dispatch happens through a table keyed by these constants and
// anything else is answered with an error frame.
type EventType string

// Inbound events.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
	EventMarkRead          EventType = "mark_read"
	EventSendMessage       EventType = "send_message"
	EventPing              EventType = "ping"
	EventRequestPresence   EventType = "request_presence"
	EventUpdateStatus      EventType = "update_status"
)

// Outbound events.
const (
	EventConnectionEstablished EventType = "connection_established"
	EventConversationJoined    EventType = "conversation_joined"
	EventConversationLeft      EventType = "conversation_left"
	EventConversationDeleted   EventType = "conversation_deleted"
	EventUserOnline            EventType = "user_online"
	EventUserOffline           EventType = "user_offline"
	EventMessageSent           EventType = "message_sent"
	EventMessageRead           EventType = "message_read"
	EventPresenceState         EventType = "presence_state"
	EventStatusUpdated         EventType = "status_updated"
	EventPong                  EventType = "pong"
	EventError                 EventType = "error"
)

// clientFrame is an inbound frame before its payload is decoded by the
// event's handler.
type clientFrame struct {
	Event   EventType       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Frame is one outbound message. The payload is marshalled by the write
// pump together with the envelope.
type Frame struct {
	Event   EventType `json:"event"`
	Payload any       `json:"payload,omitempty"`
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
	SeqID          int    `json:"seq_id"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type UpdateStatusPayload struct {
	Status string `json:"status"`
}

type ConnectionEstablishedPayload struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	OnlineUsers  []string  `json:"online_users"`
	Timestamp    time.Time `json:"timestamp"`
}

type ConversationJoinedPayload struct {
	ConversationID   string `json:"conversation_id"`
	Subject          string `json:"subject"`
	SeqID            int    `json:"seq_id"`
	ParticipantCount int    `json:"participant_count"`
}

type ConversationLeftPayload struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationPresencePayload announces a user joining or leaving a
// conversation's live fan-out set.
type ConversationPresencePayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username,omitempty"`
}

type UserPresencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type TypingEventPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username,omitempty"`
}

type MessageReadPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	SeqID          int    `json:"seq_id"`
}

type PresenceStatePayload struct {
	OnlineUsers []string `json:"online_users"`
}

type StatusUpdatedPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// errorFrame reports a recoverable failure back to the sender. The
// connection stays open.
func errorFrame(event EventType, msg string) *Frame {
	return &Frame{
		Event: EventError,
		Payload: ErrorPayload{
			Event:   string(event),
			Message: msg,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
