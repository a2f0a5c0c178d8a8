package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kelvince01/kaa-realtime/internal/database"
	"github.com/Kelvince01/kaa-realtime/internal/stats"
)

func rawFrame(t *testing.T, event EventType, payload any) []byte {
	t.Helper()

	data, err := json.Marshal(struct {
		Event   EventType `json:"event"`
		Payload any       `json:"payload,omitempty"`
	}{Event: event, Payload: payload})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func TestDispatch_UnknownEvent(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", MetricEventsDispatched).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	c := newTestClient(t, cs, "u1", "alice")

	cs.dispatch(c, rawFrame(t, "launch_rocket", map[string]string{"target": "moon"}))

	frames := drainFrames(c)
	assert.Len(t, frames, 1, "expected exactly one frame for unknown event")
	assert.Equal(t, EventError, frames[0].Event, "expected error frame")
	payload, ok := frames[0].Payload.(ErrorPayload)
	assert.True(t, ok, "expected ErrorPayload")
	assert.Equal(t, "launch_rocket", payload.Event, "expected offending event name echoed")
	assert.Equal(t, "unknown event", payload.Message)

	// connection and membership state are untouched
	assert.Equal(t, 0, cs.registry.numConnections(), "expected registry unchanged")
	assert.Empty(t, c.conversations, "expected no memberships")
}

func TestDispatch_InvalidFrame(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs, "u1", "alice")

	cs.dispatch(c, []byte("{not json"))

	frames := drainFrames(c)
	assert.Len(t, frames, 1, "expected exactly one frame for invalid frame")
	assert.Equal(t, EventError, frames[0].Event, "expected error frame")
	payload, ok := frames[0].Payload.(ErrorPayload)
	assert.True(t, ok, "expected ErrorPayload")
	assert.Equal(t, "invalid frame", payload.Message)
}

func TestDispatch_Ping(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", MetricEventsDispatched).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	c := newTestClient(t, cs, "u1", "alice")

	cs.dispatch(c, rawFrame(t, EventPing, nil))

	frame := waitFrame(t, c, time.Second)
	assert.Equal(t, EventPong, frame.Event, "expected pong frame")
	payload, ok := frame.Payload.(PongPayload)
	assert.True(t, ok, "expected PongPayload")
	assert.False(t, payload.Timestamp.IsZero(), "expected server timestamp")
}

func TestDispatch_RequestPresence(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", MetricEventsDispatched).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	c := newTestClient(t, cs, "u1", "alice")
	cs.registry.add(context.Background(), c)

	cs.dispatch(c, rawFrame(t, EventRequestPresence, nil))

	frame := waitFrame(t, c, time.Second)
	assert.Equal(t, EventPresenceState, frame.Event, "expected presence_state frame")
	payload, ok := frame.Payload.(PresenceStatePayload)
	assert.True(t, ok, "expected PresenceStatePayload")
	assert.Equal(t, []string{"u1"}, payload.OnlineUsers)
}

func TestDispatch_UpdateStatus(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", MetricEventsDispatched).Times(2)
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	ctx := context.Background()

	c1 := newTestClient(t, cs, "u1", "alice")
	c2 := newTestClient(t, cs, "u2", "bob")
	cs.registry.add(ctx, c1)
	cs.registry.add(ctx, c2)

	cs.dispatch(c1, rawFrame(t, EventUpdateStatus, UpdateStatusPayload{Status: "away"}))

	assert.Equal(t, "away", c1.status, "expected status stored on connection")

	frame := waitFrame(t, c2, time.Second)
	assert.Equal(t, EventStatusUpdated, frame.Event, "expected status_updated frame")
	payload, ok := frame.Payload.(StatusUpdatedPayload)
	assert.True(t, ok, "expected StatusUpdatedPayload")
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "away", payload.Status)

	// empty status is rejected
	cs.dispatch(c1, rawFrame(t, EventUpdateStatus, UpdateStatusPayload{}))
	frames := drainFrames(c1)
	if assert.NotEmpty(t, frames, "expected error frame for empty status") {
		last := frames[len(frames)-1]
		assert.Equal(t, EventError, last.Event)
	}
}

func TestDispatch_ValidationErrors(t *testing.T) {
	tcases := []struct {
		name        string
		event       EventType
		payload     any
		expectedMsg string
	}{
		{
			name:        "join without conversation id",
			event:       EventJoinConversation,
			payload:     JoinConversationPayload{},
			expectedMsg: "conversation_id is required",
		},
		{
			name:        "leave without membership",
			event:       EventLeaveConversation,
			payload:     LeaveConversationPayload{ConversationID: "conv1"},
			expectedMsg: "conversation not joined",
		},
		{
			name:        "typing without membership",
			event:       EventTypingStart,
			payload:     TypingPayload{ConversationID: "conv1"},
			expectedMsg: "conversation not joined",
		},
		{
			name:        "mark read without membership",
			event:       EventMarkRead,
			payload:     MarkReadPayload{ConversationID: "conv1", SeqID: 3},
			expectedMsg: "conversation not joined",
		},
		{
			name:        "send message without content",
			event:       EventSendMessage,
			payload:     SendMessagePayload{ConversationID: "conv1"},
			expectedMsg: "content is required",
		},
		{
			name:        "send message without membership",
			event:       EventSendMessage,
			payload:     SendMessagePayload{ConversationID: "conv1", Content: "hi"},
			expectedMsg: "conversation not joined",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			su := &stats.MockStatsUpdater{}
			su.On("Incr", MetricEventsDispatched).Once()
			defer su.AssertExpectations(t)

			cs := newTestChatServer(t, &database.MockRepository{}, su)
			c := newTestClient(t, cs, "u1", "alice")

			cs.dispatch(c, rawFrame(t, tc.event, tc.payload))

			frames := drainFrames(c)
			assert.Len(t, frames, 1, "expected exactly one error frame")
			assert.Equal(t, EventError, frames[0].Event, "expected error frame")
			payload, ok := frames[0].Payload.(ErrorPayload)
			assert.True(t, ok, "expected ErrorPayload")
			assert.Equal(t, string(tc.event), payload.Event)
			assert.Equal(t, tc.expectedMsg, payload.Message)
		})
	}
}

func TestDispatch_RoutesToConversation(t *testing.T) {
	db := &database.MockRepository{}
	db.On("IsParticipant", 1, "u1").Return(true, nil).Once()
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", MetricEventsDispatched).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, db, su)
	cv := newTestConversation(cs, database.Conversation{ID: 1, ExternalID: "conv1"})

	c := newTestClient(t, cs, "u1", "alice")
	cv.handleJoin(joinEvent(c, "conv1"))
	drainFrames(c)

	cs.dispatch(c, rawFrame(t, EventTypingStart, TypingPayload{ConversationID: "conv1"}))

	select {
	case ev := <-cv.eventChan:
		assert.Equal(t, EventTypingStart, ev.event, "expected typing event routed to actor")
		assert.Equal(t, c, ev.client)
	case <-time.After(time.Second):
		t.Fatal("expected event on conversation channel")
	}

	assert.Empty(t, drainFrames(c), "expected no error frames")
}

func TestDispatch_JoinQueuesHubEvent(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", MetricEventsDispatched).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	c := newTestClient(t, cs, "u1", "alice")

	done := make(chan *clientEvent, 1)
	go func() {
		done <- <-cs.joinChan
	}()
	// give the receiver a moment to block on the unbuffered channel
	time.Sleep(50 * time.Millisecond)

	cs.dispatch(c, rawFrame(t, EventJoinConversation, JoinConversationPayload{ConversationID: "conv1"}))

	select {
	case ev := <-done:
		assert.Equal(t, EventJoinConversation, ev.event)
		assert.Equal(t, "conv1", ev.join.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("expected join event on hub channel")
	}

	assert.Empty(t, drainFrames(c), "expected no error frames")
}

func TestBuildDispatchTable(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

	for _, event := range []EventType{
		EventJoinConversation,
		EventLeaveConversation,
		EventTypingStart,
		EventTypingStop,
		EventMarkRead,
		EventSendMessage,
		EventPing,
		EventRequestPresence,
		EventUpdateStatus,
	} {
		_, ok := cs.dispatchTable[event]
		assert.True(t, ok, "expected handler for %s", event)
	}

	for _, event := range []EventType{EventError, EventUserOnline, EventMessageSent} {
		_, ok := cs.dispatchTable[event]
		assert.False(t, ok, "expected no inbound handler for outbound event %s", event)
	}

	assert.Len(t, cs.dispatchTable, 9, "expected a closed inbound event set")
}
