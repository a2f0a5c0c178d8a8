package server

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/presence"
)

// connRegistry owns every live connection for the lifetime of the process.
// Online/offline is derived from the presence store's connection refcount,
// never stored independently, so a user with a second device open is not
// marked offline when the first one closes.
type connRegistry struct {
	mu        sync.RWMutex
	conns     map[string]*Client
	userConns map[string]map[*Client]struct{}
	presence  presence.Store
	log       *zap.Logger
}

func newConnRegistry(store presence.Store, log *zap.Logger) *connRegistry {
	return &connRegistry{
		conns:     make(map[string]*Client),
		userConns: make(map[string]map[*Client]struct{}),
		presence:  store,
		log:       log,
	}
}

// add registers c and reports whether it is the user's first live
// connection. Re-adding a handle overwrites the previous registration.
func (r *connRegistry) add(ctx context.Context, c *Client) bool {
	r.mu.Lock()
	if old, ok := r.conns[c.id]; ok && old != c {
		r.detachLocked(old)
	}
	r.conns[c.id] = c

	set := r.userConns[c.user.ID]
	if set == nil {
		set = make(map[*Client]struct{})
		r.userConns[c.user.ID] = set
	}
	set[c] = struct{}{}
	localFirst := len(set) == 1
	r.mu.Unlock()

	first, err := r.presence.Connect(ctx, c.user.ID)
	if err != nil {
		r.log.Warn("presence connect failed, using local state",
			zap.String("user_id", c.user.ID), zap.Error(err))
		return localFirst
	}

	return first
}

// remove deregisters c and reports whether it was the user's last live
// connection. The second return is false if c was not registered.
func (r *connRegistry) remove(ctx context.Context, c *Client) (last, existed bool) {
	r.mu.Lock()
	cur, ok := r.conns[c.id]
	if !ok || cur != c {
		r.mu.Unlock()
		return false, false
	}

	delete(r.conns, c.id)
	r.detachLocked(c)
	localLast := len(r.userConns[c.user.ID]) == 0
	r.mu.Unlock()

	last, err := r.presence.Disconnect(ctx, c.user.ID)
	if err != nil {
		r.log.Warn("presence disconnect failed, using local state",
			zap.String("user_id", c.user.ID), zap.Error(err))
		last = localLast
	}

	return last, true
}

// detachLocked removes c from the per-user connection set. Callers hold r.mu.
func (r *connRegistry) detachLocked(c *Client) {
	if set, ok := r.userConns[c.user.ID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.userConns, c.user.ID)
		}
	}
}

func (r *connRegistry) get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	return c, ok
}

func (r *connRegistry) clientsForUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.userConns[userID]))
	for c := range r.userConns[userID] {
		clients = append(clients, c)
	}

	return clients
}

func (r *connRegistry) allClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		clients = append(clients, c)
	}

	return clients
}

func (r *connRegistry) onlineUsers(ctx context.Context) []string {
	users, err := r.presence.OnlineUsers(ctx)
	if err != nil {
		r.log.Warn("presence online users failed", zap.Error(err))
		return nil
	}

	return users
}

// touch records advisory last-activity for the user. Failures are logged,
// never surfaced: activity tracking must not break dispatch.
func (r *connRegistry) touch(ctx context.Context, userID string) {
	if err := r.presence.Touch(ctx, userID); err != nil {
		r.log.Warn("presence touch failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (r *connRegistry) numConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
