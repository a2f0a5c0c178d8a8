package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kelvince01/kaa-realtime/internal/database"
	"github.com/Kelvince01/kaa-realtime/internal/stats"
	"github.com/Kelvince01/kaa-realtime/internal/testutil"
	"github.com/Kelvince01/kaa-realtime/internal/types"
)

func TestNewClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

	user := types.User{ID: "u1", Username: "alice"}
	c := NewClient(user, nil, cs, testutil.TestLogger(t))

	assert.NotEmpty(t, c.id, "expected connection id to be assigned")
	assert.Equal(t, user, c.user, "expected user to be set")
	assert.Equal(t, cs, c.cs, "expected hub to be set")
	assert.NotNil(t, c.send, "expected send queue to be initialized")
	assert.NotNil(t, c.stop, "expected stop channel to be initialized")
	assert.NotNil(t, c.conversations, "expected conversations map to be initialized")
	assert.False(t, c.connectedAt.IsZero(), "expected connection time to be recorded")

	other := NewClient(user, nil, cs, testutil.TestLogger(t))
	assert.NotEqual(t, c.id, other.id, "expected unique connection ids")
}

func TestQueueFrame_DropsWhenFull(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs, "u1", "alice")

	for range sendQueueSize {
		assert.True(t, c.queueFrame(&Frame{Event: EventPong}), "expected frame to be queued")
	}

	// delivery is at most once: a full queue drops, never blocks
	assert.False(t, c.queueFrame(&Frame{Event: EventPong}), "expected frame to be dropped when queue is full")
	assert.Len(t, drainFrames(c), sendQueueSize, "expected only queued frames")
}

func TestStopClient_Idempotent(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs, "u1", "alice")

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestClientConversationTracking(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs, "u1", "alice")

	cv := newTestConversation(cs, database.Conversation{ID: 1, ExternalID: "conv1"})

	assert.Nil(t, c.getConversation("conv1"), "expected no membership initially")

	c.addConversation(cv)
	assert.Equal(t, cv, c.getConversation("conv1"), "expected membership recorded")

	c.delConversation("conv1")
	assert.Nil(t, c.getConversation("conv1"), "expected membership removed")
}

func TestLeaveAllConversations(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs, "u1", "alice")

	cv := newTestConversation(cs, database.Conversation{ID: 1, ExternalID: "conv1"})
	c.addConversation(cv)

	c.leaveAllConversations()

	select {
	case ev := <-cv.leaveChan:
		assert.Equal(t, EventLeaveConversation, ev.event, "expected leave event")
		assert.True(t, ev.disconnect, "expected disconnect-style leave")
		assert.Equal(t, c, ev.client)
	case <-time.After(time.Second):
		t.Fatal("expected leave event on conversation channel")
	}
}

func TestCleanup_AfterHubStopped(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	close(cs.done)

	c := newTestClient(t, cs, "u1", "alice")

	finished := make(chan struct{})
	go func() {
		c.cleanup()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("expected cleanup to not block after hub stopped")
	}

	select {
	case <-c.stop:
	default:
		t.Error("expected client to be stopped")
	}
}
