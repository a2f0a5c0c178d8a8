package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/types"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = (pongWait * 9) / 10
	maxFrameSize  = 4096
	sendQueueSize = 256
)

// Client is one WebSocket connection. A user may hold several clients at
// once (multi-device); the registry reference-counts them for presence.
type Client struct {
	id          string
	conn        *websocket.Conn
	cs          *ChatServer
	log         *zap.Logger
	user        types.User
	status      string
	connectedAt time.Time

	send chan *Frame
	stop chan struct{}

	conversations map[string]*Conversation
	convLock      sync.RWMutex
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, log *zap.Logger) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		cs:            cs,
		log:           log,
		user:          user,
		connectedAt:   time.Now().UTC(),
		send:          make(chan *Frame, sendQueueSize),
		stop:          make(chan struct{}),
		conversations: make(map[string]*Conversation),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write pump exiting", zap.String("connection_id", c.id))
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				c.log.Error("serialize frame failed",
					zap.String("event", string(frame.Event)), zap.Error(err))
				continue
			}

			if !c.writeMessage(websocket.TextMessage, data) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read pump exiting", zap.String("connection_id", c.id))
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", zap.String("connection_id", c.id), zap.Error(err))
			}
			break
		}

		c.cs.dispatch(c, raw)
	}
}

// queueFrame enqueues frame for delivery, dropping it if the client's send
// queue is full. Delivery is at most once; there is no retry.
func (c *Client) queueFrame(frame *Frame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue full, dropping frame",
			zap.String("connection_id", c.id), zap.String("event", string(frame.Event)))
		return false
	}
}

func (c *Client) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			c.log.Warn("write failed", zap.String("connection_id", c.id), zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Client) cleanup() {
	c.leaveAllConversations()

	select {
	case c.cs.deregisterChan <- c:
	case <-c.cs.done:
		// hub already stopped, nothing to deregister from
	}

	c.stopClient()
}

// leaveAllConversations detaches the connection from every conversation it
// joined, so a closed connection leaves no membership or typing state.
func (c *Client) leaveAllConversations() {
	c.convLock.RLock()
	convs := make([]*Conversation, 0, len(c.conversations))
	for _, cv := range c.conversations {
		convs = append(convs, cv)
	}
	c.convLock.RUnlock()

	for _, cv := range convs {
		ev := &clientEvent{
			event:      EventLeaveConversation,
			client:     c,
			timestamp:  Now(),
			disconnect: true,
		}
		select {
		case cv.leaveChan <- ev:
		default:
			c.log.Warn("leave channel full",
				zap.String("conversation_id", cv.externalID), zap.String("connection_id", c.id))
		}
	}
}

func (c *Client) addConversation(cv *Conversation) {
	c.convLock.Lock()
	defer c.convLock.Unlock()

	c.conversations[cv.externalID] = cv
}

func (c *Client) delConversation(externalID string) {
	c.convLock.Lock()
	defer c.convLock.Unlock()

	delete(c.conversations, externalID)
}

func (c *Client) getConversation(externalID string) *Conversation {
	c.convLock.RLock()
	defer c.convLock.RUnlock()

	return c.conversations[externalID]
}
