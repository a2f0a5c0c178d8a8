package server

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/database"
	"github.com/Kelvince01/kaa-realtime/internal/types"
)

const (
	// defaultIdleTimeout unloads a conversation actor once no connection
	// is subscribed to it.
	defaultIdleTimeout = 30 * time.Second
	// defaultTypingTTL expires a typing indicator that is not refreshed
	// by another typing_start, so a client that disconnects mid-typing
	// cannot leave stale state behind.
	defaultTypingTTL    = 10 * time.Second
	defaultTypingSweep  = 2 * time.Second
	conversationBufSize = 256
)

type exitReq struct {
	deleted bool
}

type typingEntry struct {
	username string
	expires  time.Time
}

// ConversationSnapshot is a point-in-time view of a conversation's live
// state, served on the HTTP presence endpoints.
type ConversationSnapshot struct {
	ConversationID   string   `json:"conversation_id"`
	ParticipantCount int      `json:"participant_count"`
	TypingUsers      []string `json:"typing_users"`
}

// Conversation is the ephemeral fan-out set for one thread. Each loaded
// conversation runs its own goroutine; all state mutation happens on that
// goroutine, queries arrive over queryChan.
type Conversation struct {
	id           int
	externalID   string
	subject      string
	seqID        int
	participants []types.User

	cs  *ChatServer
	log *zap.Logger

	joinChan  chan *clientEvent
	leaveChan chan *clientEvent
	eventChan chan *clientEvent
	queryChan chan chan ConversationSnapshot
	exit      chan exitReq
	done      chan struct{}

	clients  map[*Client]struct{}
	userMap  map[string]map[*Client]struct{}
	clientMu sync.RWMutex

	typing map[string]typingEntry

	typingTTL     time.Duration
	sweepInterval time.Duration
	idleTimeout   time.Duration
	killTimer     *time.Timer
}

func newConversation(cs *ChatServer, dbConv database.Conversation, log *zap.Logger) *Conversation {
	participants := make([]types.User, len(dbConv.Participants))
	for i, p := range dbConv.Participants {
		participants[i] = types.User{
			ID:       p.AccountID,
			Username: p.Username,
		}
	}

	return &Conversation{
		id:            dbConv.ID,
		externalID:    dbConv.ExternalID,
		subject:       dbConv.Subject,
		seqID:         dbConv.SeqID,
		participants:  participants,
		cs:            cs,
		log:           log,
		joinChan:      make(chan *clientEvent, conversationBufSize),
		leaveChan:     make(chan *clientEvent, conversationBufSize),
		eventChan:     make(chan *clientEvent, conversationBufSize),
		queryChan:     make(chan chan ConversationSnapshot),
		exit:          make(chan exitReq, 1),
		done:          make(chan struct{}),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[string]map[*Client]struct{}),
		typing:        make(map[string]typingEntry),
		typingTTL:     defaultTypingTTL,
		sweepInterval: defaultTypingSweep,
		idleTimeout:   defaultIdleTimeout,
	}
}

func (cv *Conversation) run() {
	cv.log.Debug("starting conversation", zap.String("conversation_id", cv.externalID))
	cv.killTimer = time.NewTimer(cv.idleTimeout)
	cv.killTimer.Stop()

	sweep := time.NewTicker(cv.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case ev := <-cv.joinChan:
			cv.handleJoin(ev)
		case ev := <-cv.leaveChan:
			cv.handleLeave(ev)
		case ev := <-cv.eventChan:
			switch ev.event {
			case EventSendMessage:
				cv.handleSendMessage(ev)
			case EventMarkRead:
				cv.handleMarkRead(ev)
			case EventTypingStart:
				cv.handleTyping(ev, true)
			case EventTypingStop:
				cv.handleTyping(ev, false)
			}
		case resp := <-cv.queryChan:
			resp <- cv.snapshot()
		case <-sweep.C:
			cv.expireTyping()
		case <-cv.killTimer.C:
			cv.handleIdleTimeout()
		case req := <-cv.exit:
			cv.handleExit(req)
			return
		}
	}
}

func (cv *Conversation) handleJoin(ev *clientEvent) {
	cv.killTimer.Stop()
	c := ev.client

	ok, err := cv.cs.db.IsParticipant(cv.id, c.user.ID)
	if err != nil {
		cv.log.Error("participant check failed",
			zap.String("conversation_id", cv.externalID), zap.Error(err))
		c.queueFrame(errorFrame(EventJoinConversation, "internal server error"))
		cv.resetKillTimerIfEmpty()
		return
	}
	if !ok {
		c.queueFrame(errorFrame(EventJoinConversation, "not a participant of this conversation"))
		cv.resetKillTimerIfEmpty()
		return
	}

	firstForUser := cv.addClient(c)

	c.queueFrame(&Frame{
		Event: EventConversationJoined,
		Payload: ConversationJoinedPayload{
			ConversationID:   cv.externalID,
			Subject:          cv.subject,
			SeqID:            cv.seqID,
			ParticipantCount: cv.participantCount(),
		},
	})

	// announce the user only once, not per device
	if firstForUser {
		cv.broadcast(&Frame{
			Event: EventJoinConversation,
			Payload: ConversationPresencePayload{
				ConversationID: cv.externalID,
				UserID:         c.user.ID,
				Username:       c.user.Username,
			},
		}, c.user.ID)
	}
}

func (cv *Conversation) handleLeave(ev *clientEvent) {
	c := ev.client

	lastForUser, existed := cv.removeClient(c)
	if !existed {
		cv.log.Debug("leave for unknown client",
			zap.String("conversation_id", cv.externalID), zap.String("user_id", c.user.ID))
		return
	}

	if !ev.disconnect {
		c.queueFrame(&Frame{
			Event:   EventConversationLeft,
			Payload: ConversationLeftPayload{ConversationID: cv.externalID},
		})
	}

	if lastForUser {
		if _, typing := cv.typing[c.user.ID]; typing {
			delete(cv.typing, c.user.ID)
			cv.broadcast(&Frame{
				Event: EventTypingStop,
				Payload: TypingEventPayload{
					ConversationID: cv.externalID,
					UserID:         c.user.ID,
					Username:       c.user.Username,
				},
			}, c.user.ID)
		}

		cv.broadcast(&Frame{
			Event: EventLeaveConversation,
			Payload: ConversationPresencePayload{
				ConversationID: cv.externalID,
				UserID:         c.user.ID,
				Username:       c.user.Username,
			},
		}, c.user.ID)
	}
}

func (cv *Conversation) handleTyping(ev *clientEvent, start bool) {
	c := ev.client

	if start {
		_, already := cv.typing[c.user.ID]
		cv.typing[c.user.ID] = typingEntry{
			username: c.user.Username,
			expires:  time.Now().Add(cv.typingTTL),
		}
		// a refresh extends the TTL without re-announcing
		if already {
			return
		}

		cv.broadcast(&Frame{
			Event: EventTypingStart,
			Payload: TypingEventPayload{
				ConversationID: cv.externalID,
				UserID:         c.user.ID,
				Username:       c.user.Username,
			},
		}, c.user.ID)
		return
	}

	if _, ok := cv.typing[c.user.ID]; !ok {
		return
	}

	delete(cv.typing, c.user.ID)
	cv.broadcast(&Frame{
		Event: EventTypingStop,
		Payload: TypingEventPayload{
			ConversationID: cv.externalID,
			UserID:         c.user.ID,
			Username:       c.user.Username,
		},
	}, c.user.ID)
}

func (cv *Conversation) expireTyping() {
	now := time.Now()
	for userID, entry := range cv.typing {
		if entry.expires.After(now) {
			continue
		}

		delete(cv.typing, userID)
		cv.broadcast(&Frame{
			Event: EventTypingStop,
			Payload: TypingEventPayload{
				ConversationID: cv.externalID,
				UserID:         userID,
				Username:       entry.username,
			},
		}, "")
	}
}

func (cv *Conversation) handleSendMessage(ev *clientEvent) {
	c := ev.client

	if err := cv.cs.db.CreateMessage(database.Message{
		SeqID:          cv.seqID + 1,
		ConversationID: cv.id,
		AccountID:      c.user.ID,
		Content:        ev.sendMsg.Content,
		CreatedAt:      ev.timestamp,
	}); err != nil {
		cv.log.Error("save message failed",
			zap.String("conversation_id", cv.externalID), zap.Error(err))
		c.queueFrame(errorFrame(EventSendMessage, "internal server error"))
		return
	}
	cv.seqID++

	cv.cs.stats.Incr(MetricMessagesSent)

	// sending a message implies the sender stopped typing
	if _, ok := cv.typing[c.user.ID]; ok {
		delete(cv.typing, c.user.ID)
		cv.broadcast(&Frame{
			Event: EventTypingStop,
			Payload: TypingEventPayload{
				ConversationID: cv.externalID,
				UserID:         c.user.ID,
				Username:       c.user.Username,
			},
		}, c.user.ID)
	}

	frame := &Frame{
		Event: EventMessageSent,
		Payload: types.Message{
			SeqID:          cv.seqID,
			ConversationID: cv.externalID,
			UserID:         c.user.ID,
			Content:        ev.sendMsg.Content,
			Timestamp:      ev.timestamp,
		},
	}

	// everyone subscribed gets the message; the sender's copy doubles as
	// the delivery ack
	cv.broadcast(frame, "")

	// participants without a live client here get notified on their
	// other connections, best effort
	var away []string
	for _, p := range cv.participants {
		if !cv.hasLiveUser(p.ID) {
			away = append(away, p.ID)
		}
	}
	if len(away) > 0 {
		cv.cs.emitToUsers(away, frame)
	}
}

func (cv *Conversation) handleMarkRead(ev *clientEvent) {
	c := ev.client

	if err := cv.cs.db.UpdateLastReadSeqID(c.user.ID, cv.id, ev.markRead.SeqID); err != nil {
		cv.log.Error("update last read failed",
			zap.String("conversation_id", cv.externalID), zap.Error(err))
		c.queueFrame(errorFrame(EventMarkRead, "internal server error"))
		return
	}

	cv.broadcast(&Frame{
		Event: EventMessageRead,
		Payload: MessageReadPayload{
			ConversationID: cv.externalID,
			UserID:         c.user.ID,
			SeqID:          ev.markRead.SeqID,
		},
	}, "")
}

func (cv *Conversation) handleIdleTimeout() {
	cv.log.Debug("conversation idle", zap.String("conversation_id", cv.externalID))
	select {
	case cv.cs.unloadChan <- unloadRequest{externalID: cv.externalID}:
	default:
		cv.log.Warn("unload channel full", zap.String("conversation_id", cv.externalID))
		cv.killTimer.Reset(cv.idleTimeout)
	}
}

func (cv *Conversation) handleExit(req exitReq) {
	cv.log.Debug("conversation exiting",
		zap.String("conversation_id", cv.externalID), zap.Bool("deleted", req.deleted))

	if req.deleted {
		cv.broadcast(&Frame{
			Event:   EventConversationDeleted,
			Payload: ConversationDeletedPayload{ConversationID: cv.externalID},
		}, "")
	}

	cv.clientMu.Lock()
	for c := range cv.clients {
		c.delConversation(cv.externalID)
	}
	cv.clients = make(map[*Client]struct{})
	cv.userMap = make(map[string]map[*Client]struct{})
	cv.clientMu.Unlock()

	close(cv.done)
}

// addClient is idempotent per connection and reports whether this is the
// user's first connection in the conversation.
func (cv *Conversation) addClient(c *Client) bool {
	cv.clientMu.Lock()
	defer cv.clientMu.Unlock()

	if _, ok := cv.clients[c]; ok {
		return false
	}

	cv.clients[c] = struct{}{}
	set := cv.userMap[c.user.ID]
	if set == nil {
		set = make(map[*Client]struct{})
		cv.userMap[c.user.ID] = set
	}
	set[c] = struct{}{}

	c.addConversation(cv)

	return len(set) == 1
}

func (cv *Conversation) removeClient(c *Client) (lastForUser, existed bool) {
	cv.clientMu.Lock()
	defer cv.clientMu.Unlock()

	if _, ok := cv.clients[c]; !ok {
		return false, false
	}

	delete(cv.clients, c)
	c.delConversation(cv.externalID)

	if set, ok := cv.userMap[c.user.ID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(cv.userMap, c.user.ID)
			lastForUser = true
		}
	}

	if len(cv.clients) == 0 {
		cv.killTimer.Reset(cv.idleTimeout)
	}

	return lastForUser, true
}

func (cv *Conversation) resetKillTimerIfEmpty() {
	cv.clientMu.RLock()
	defer cv.clientMu.RUnlock()

	if len(cv.clients) == 0 {
		cv.killTimer.Reset(cv.idleTimeout)
	}
}

// participantCount counts distinct users with a live connection here.
func (cv *Conversation) participantCount() int {
	cv.clientMu.RLock()
	defer cv.clientMu.RUnlock()

	return len(cv.userMap)
}

func (cv *Conversation) hasLiveUser(userID string) bool {
	cv.clientMu.RLock()
	defer cv.clientMu.RUnlock()

	return len(cv.userMap[userID]) > 0
}

func (cv *Conversation) snapshot() ConversationSnapshot {
	typing := make([]string, 0, len(cv.typing))
	now := time.Now()
	for userID, entry := range cv.typing {
		if entry.expires.After(now) {
			typing = append(typing, userID)
		}
	}
	sort.Strings(typing)

	return ConversationSnapshot{
		ConversationID:   cv.externalID,
		ParticipantCount: cv.participantCount(),
		TypingUsers:      typing,
	}
}

// broadcast queues frame on every subscribed connection, skipping all of
// skipUserID's connections when set. Full send queues drop the frame.
func (cv *Conversation) broadcast(frame *Frame, skipUserID string) {
	cv.clientMu.RLock()
	defer cv.clientMu.RUnlock()

	for c := range cv.clients {
		if skipUserID != "" && c.user.ID == skipUserID {
			continue
		}

		c.queueFrame(frame)
	}
}
