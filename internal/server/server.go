package server

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/database"
	"github.com/Kelvince01/kaa-realtime/internal/presence"
	"github.com/Kelvince01/kaa-realtime/internal/stats"
)

// Metrics registered by the hub.
const (
	MetricActiveConnections   = "NumActiveConnections"
	MetricOnlineUsers         = "NumOnlineUsers"
	MetricActiveConversations = "NumActiveConversations"
	MetricEventsDispatched    = "NumEventsDispatched"
	MetricMessagesSent        = "NumMessagesSent"
)

type unloadRequest struct {
	externalID string
	deleted    bool
}

type stopRequest struct {
	done chan struct{}
}

type identityBroadcast struct {
	userIDs []string
	frame   *Frame
	skip    *Client
}

// ServerSnapshot aggregates the hub's live state for the health surface.
type ServerSnapshot struct {
	Connections         int      `json:"connections"`
	OnlineUsers         []string `json:"online_users"`
	ActiveConversations int      `json:"active_conversations"`
	UptimeSeconds       int64    `json:"uptime_seconds"`
}

// ChatServer is the hub: it owns the connection registry and the table of
// loaded conversation actors. All conversation lifecycle runs on the hub
// goroutine; fan-out to individual connections happens through per-client
// send queues.
type ChatServer struct {
	log      *zap.Logger
	db       database.Repository
	stats    stats.Provider
	registry *connRegistry

	conversations map[string]*Conversation
	convLock      sync.RWMutex

	dispatchTable map[EventType]eventHandler

	joinChan       chan *clientEvent
	registerChan   chan *Client
	deregisterChan chan *Client
	unloadChan     chan unloadRequest
	broadcastChan  chan identityBroadcast
	stop           chan stopRequest
	done           chan struct{}

	started time.Time
}

func NewChatServer(log *zap.Logger, db database.Repository, store presence.Store, st stats.Provider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            log,
		db:             db,
		stats:          st,
		registry:       newConnRegistry(store, log),
		conversations:  make(map[string]*Conversation),
		joinChan:       make(chan *clientEvent),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		unloadChan:     make(chan unloadRequest, 32),
		broadcastChan:  make(chan identityBroadcast, 256),
		stop:           make(chan stopRequest),
		done:           make(chan struct{}),
		started:        time.Now(),
	}
	cs.dispatchTable = cs.buildDispatchTable()

	for _, name := range []string{
		MetricActiveConnections,
		MetricOnlineUsers,
		MetricActiveConversations,
		MetricEventsDispatched,
		MetricMessagesSent,
	} {
		st.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.handleRegister(c)
		case c := <-cs.deregisterChan:
			cs.handleDeregister(c)
		case ev := <-cs.joinChan:
			cs.handleJoinRequest(ev)
		case req := <-cs.unloadChan:
			cs.handleUnload(req)
		case b := <-cs.broadcastChan:
			cs.handleIdentityBroadcast(b)
		case req := <-cs.stop:
			cs.handleStop(req)
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the hub.
func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) handleRegister(c *Client) {
	ctx := context.Background()

	first := cs.registry.add(ctx, c)
	cs.stats.Incr(MetricActiveConnections)
	cs.log.Info("connection registered",
		zap.String("connection_id", c.id),
		zap.String("user_id", c.user.ID),
		zap.Bool("first", first))

	if first {
		cs.stats.Incr(MetricOnlineUsers)
		cs.broadcastToAll(&Frame{
			Event: EventUserOnline,
			Payload: UserPresencePayload{
				UserID:   c.user.ID,
				Username: c.user.Username,
			},
		}, c.user.ID)
	}

	c.queueFrame(&Frame{
		Event: EventConnectionEstablished,
		Payload: ConnectionEstablishedPayload{
			ConnectionID: c.id,
			UserID:       c.user.ID,
			OnlineUsers:  cs.registry.onlineUsers(ctx),
			Timestamp:    Now(),
		},
	})
}

func (cs *ChatServer) handleDeregister(c *Client) {
	ctx := context.Background()

	last, existed := cs.registry.remove(ctx, c)
	if !existed {
		return
	}

	cs.stats.Decr(MetricActiveConnections)
	cs.log.Info("connection deregistered",
		zap.String("connection_id", c.id),
		zap.String("user_id", c.user.ID),
		zap.Bool("last", last))

	if last {
		cs.stats.Decr(MetricOnlineUsers)
		cs.broadcastToAll(&Frame{
			Event:   EventUserOffline,
			Payload: UserPresencePayload{UserID: c.user.ID},
		}, c.user.ID)
	}
}

func (cs *ChatServer) handleJoinRequest(ev *clientEvent) {
	externalID := ev.join.ConversationID

	if cv, ok := cs.getConversation(externalID); ok {
		select {
		case cv.joinChan <- ev:
		default:
			cs.log.Warn("join channel full", zap.String("conversation_id", externalID))
			ev.client.queueFrame(errorFrame(EventJoinConversation, "service unavailable"))
		}
		return
	}

	dbConv, err := cs.db.GetConversationByExternalID(externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			ev.client.queueFrame(errorFrame(EventJoinConversation, "conversation not found"))
		} else {
			cs.log.Error("load conversation failed",
				zap.String("conversation_id", externalID), zap.Error(err))
			ev.client.queueFrame(errorFrame(EventJoinConversation, "internal server error"))
		}
		return
	}

	cv := newConversation(cs, dbConv, cs.log)
	cs.addConversation(cv)
	cs.stats.Incr(MetricActiveConversations)

	cv.joinChan <- ev
	go cv.run()
}

func (cs *ChatServer) handleUnload(req unloadRequest) {
	cv, ok := cs.getConversation(req.externalID)
	if !ok {
		return
	}

	cs.removeConversation(req.externalID)
	cv.exit <- exitReq{deleted: req.deleted}
	<-cv.done
	cs.stats.Decr(MetricActiveConversations)
}

func (cs *ChatServer) handleIdentityBroadcast(b identityBroadcast) {
	for _, userID := range b.userIDs {
		for _, c := range cs.registry.clientsForUser(userID) {
			if c == b.skip {
				continue
			}

			c.queueFrame(b.frame)
		}
	}
}

func (cs *ChatServer) handleStop(req stopRequest) {
	cs.log.Info("stopping hub")

	cs.convLock.Lock()
	conversations := cs.conversations
	cs.conversations = make(map[string]*Conversation)
	cs.convLock.Unlock()

	for _, cv := range conversations {
		cv.exit <- exitReq{}
		<-cv.done
		cs.stats.Decr(MetricActiveConversations)
	}

	for _, c := range cs.registry.allClients() {
		c.stopClient()
	}

	close(cs.done)
	if req.done != nil {
		close(req.done)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopRequest{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitToUsers multicasts frame to every connection of the given users,
// best effort: if the hub's broadcast queue is full, the frame is dropped
// and logged.
func (cs *ChatServer) emitToUsers(userIDs []string, frame *Frame) {
	select {
	case cs.broadcastChan <- identityBroadcast{userIDs: userIDs, frame: frame}:
	default:
		cs.log.Warn("broadcast channel full, dropping frame",
			zap.String("event", string(frame.Event)))
	}
}

// broadcastToAll queues frame for every live connection, skipping all of
// skipUserID's connections when set.
func (cs *ChatServer) broadcastToAll(frame *Frame, skipUserID string) {
	for _, c := range cs.registry.allClients() {
		if skipUserID != "" && c.user.ID == skipUserID {
			continue
		}

		c.queueFrame(frame)
	}
}

func (cs *ChatServer) addConversation(cv *Conversation) {
	cs.convLock.Lock()
	defer cs.convLock.Unlock()

	cs.conversations[cv.externalID] = cv
}

func (cs *ChatServer) removeConversation(externalID string) {
	cs.convLock.Lock()
	defer cs.convLock.Unlock()

	delete(cs.conversations, externalID)
}

func (cs *ChatServer) getConversation(externalID string) (*Conversation, bool) {
	cs.convLock.RLock()
	defer cs.convLock.RUnlock()

	cv, ok := cs.conversations[externalID]
	return cv, ok
}

func (cs *ChatServer) numConversations() int {
	cs.convLock.RLock()
	defer cs.convLock.RUnlock()

	return len(cs.conversations)
}

// Snapshot reports the hub's aggregate live state.
func (cs *ChatServer) Snapshot(ctx context.Context) ServerSnapshot {
	online := cs.registry.onlineUsers(ctx)
	if online == nil {
		online = []string{}
	}

	return ServerSnapshot{
		Connections:         cs.registry.numConnections(),
		OnlineUsers:         online,
		ActiveConversations: cs.numConversations(),
		UptimeSeconds:       int64(time.Since(cs.started).Seconds()),
	}
}

// ConversationSnapshot queries a loaded conversation actor for its live
// participant and typing state. ok is false if the conversation is not
// currently loaded.
func (cs *ChatServer) ConversationSnapshot(ctx context.Context, externalID string) (ConversationSnapshot, bool) {
	cv, loaded := cs.getConversation(externalID)
	if !loaded {
		return ConversationSnapshot{}, false
	}

	resp := make(chan ConversationSnapshot, 1)
	select {
	case cv.queryChan <- resp:
	case <-cv.done:
		return ConversationSnapshot{}, false
	case <-ctx.Done():
		return ConversationSnapshot{}, false
	}

	select {
	case snap := <-resp:
		return snap, true
	case <-cv.done:
		return ConversationSnapshot{}, false
	case <-ctx.Done():
		return ConversationSnapshot{}, false
	}
}

// DropConversation unloads a conversation and notifies subscribers it was
// deleted. Used by the REST delete endpoint.
func (cs *ChatServer) DropConversation(externalID string) {
	select {
	case cs.unloadChan <- unloadRequest{externalID: externalID, deleted: true}:
	case <-cs.done:
	}
}

// OnlineUsers reports the ids of users with at least one live connection.
func (cs *ChatServer) OnlineUsers(ctx context.Context) []string {
	return cs.registry.onlineUsers(ctx)
}
