package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// clientEvent carries a decoded inbound frame through the hub and
// conversation channels together with its originating connection.
type clientEvent struct {
	event     EventType
	client    *Client
	timestamp time.Time

	join     *JoinConversationPayload
	typing   *TypingPayload
	markRead *MarkReadPayload
	sendMsg  *SendMessagePayload

	// disconnect marks a leave generated by connection close rather than
	// an explicit leave_conversation frame.
	disconnect bool
}

type eventHandler func(c *Client, payload json.RawMessage) error

// buildDispatchTable binds every inbound event to its handler. The table
// is the single place the inbound event set is defined.
func (cs *ChatServer) buildDispatchTable() map[EventType]eventHandler {
	return map[EventType]eventHandler{
		EventJoinConversation:  cs.handleJoinEvent,
		EventLeaveConversation: cs.handleLeaveEvent,
		EventTypingStart:       cs.typingEventHandler(EventTypingStart),
		EventTypingStop:        cs.typingEventHandler(EventTypingStop),
		EventMarkRead:          cs.handleMarkReadEvent,
		EventSendMessage:       cs.handleSendMessageEvent,
		EventPing:              cs.handlePingEvent,
		EventRequestPresence:   cs.handleRequestPresenceEvent,
		EventUpdateStatus:      cs.handleUpdateStatusEvent,
	}
}

// dispatch decodes one inbound frame and routes it by event name. Every
// failure mode is report-only: the sender gets an error frame and the
// connection stays open.
func (cs *ChatServer) dispatch(c *Client, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.queueFrame(errorFrame("", "invalid frame"))
		return
	}

	cs.registry.touch(context.Background(), c.user.ID)
	cs.stats.Incr(MetricEventsDispatched)

	handler, ok := cs.dispatchTable[frame.Event]
	if !ok {
		c.queueFrame(errorFrame(frame.Event, "unknown event"))
		return
	}

	if err := handler(c, frame.Payload); err != nil {
		cs.log.Warn("event handler failed",
			zap.String("event", string(frame.Event)),
			zap.String("user_id", c.user.ID),
			zap.Error(err))
		c.queueFrame(errorFrame(frame.Event, err.Error()))
	}
}

func (cs *ChatServer) handleJoinEvent(c *Client, payload json.RawMessage) error {
	var p JoinConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid payload")
	}
	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}

	ev := &clientEvent{
		event:     EventJoinConversation,
		client:    c,
		timestamp: Now(),
		join:      &p,
	}

	select {
	case cs.joinChan <- ev:
		return nil
	case <-cs.done:
		return errors.New("server is shutting down")
	default:
		return errors.New("service unavailable")
	}
}

func (cs *ChatServer) handleLeaveEvent(c *Client, payload json.RawMessage) error {
	var p LeaveConversationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid payload")
	}
	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}

	cv := c.getConversation(p.ConversationID)
	if cv == nil {
		return errors.New("conversation not joined")
	}

	ev := &clientEvent{
		event:     EventLeaveConversation,
		client:    c,
		timestamp: Now(),
	}

	select {
	case cv.leaveChan <- ev:
		return nil
	default:
		return errors.New("service unavailable")
	}
}

func (cs *ChatServer) typingEventHandler(event EventType) eventHandler {
	return func(c *Client, payload json.RawMessage) error {
		var p TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.New("invalid payload")
		}
		if p.ConversationID == "" {
			return errors.New("conversation_id is required")
		}

		cv := c.getConversation(p.ConversationID)
		if cv == nil {
			return errors.New("conversation not joined")
		}

		ev := &clientEvent{
			event:     event,
			client:    c,
			timestamp: Now(),
			typing:    &p,
		}

		select {
		case cv.eventChan <- ev:
			return nil
		default:
			return errors.New("service unavailable")
		}
	}
}

func (cs *ChatServer) handleMarkReadEvent(c *Client, payload json.RawMessage) error {
	var p MarkReadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid payload")
	}
	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}

	cv := c.getConversation(p.ConversationID)
	if cv == nil {
		return errors.New("conversation not joined")
	}

	ev := &clientEvent{
		event:     EventMarkRead,
		client:    c,
		timestamp: Now(),
		markRead:  &p,
	}

	select {
	case cv.eventChan <- ev:
		return nil
	default:
		return errors.New("service unavailable")
	}
}

func (cs *ChatServer) handleSendMessageEvent(c *Client, payload json.RawMessage) error {
	var p SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid payload")
	}
	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}

	cv := c.getConversation(p.ConversationID)
	if cv == nil {
		return errors.New("conversation not joined")
	}

	ev := &clientEvent{
		event:     EventSendMessage,
		client:    c,
		timestamp: Now(),
		sendMsg:   &p,
	}

	select {
	case cv.eventChan <- ev:
		return nil
	default:
		return errors.New("service unavailable")
	}
}

func (cs *ChatServer) handlePingEvent(c *Client, _ json.RawMessage) error {
	c.queueFrame(&Frame{
		Event:   EventPong,
		Payload: PongPayload{Timestamp: Now()},
	})

	return nil
}

func (cs *ChatServer) handleRequestPresenceEvent(c *Client, _ json.RawMessage) error {
	online := cs.registry.onlineUsers(context.Background())
	if online == nil {
		online = []string{}
	}

	c.queueFrame(&Frame{
		Event:   EventPresenceState,
		Payload: PresenceStatePayload{OnlineUsers: online},
	})

	return nil
}

func (cs *ChatServer) handleUpdateStatusEvent(c *Client, payload json.RawMessage) error {
	var p UpdateStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid payload")
	}
	if p.Status == "" {
		return errors.New("status is required")
	}

	c.status = p.Status

	cs.broadcastToAll(&Frame{
		Event: EventStatusUpdated,
		Payload: StatusUpdatedPayload{
			UserID: c.user.ID,
			Status: p.Status,
		},
	}, "")

	return nil
}
