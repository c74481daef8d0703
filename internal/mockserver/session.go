package mockserver

import (
	"sync"

	"sandprobe/internal/protocol"
)

// session = 1 plugin run, watched by the client that started it and any subscribers
type session struct {
	ID       string
	PluginID string
	clients  map[string]*client // map[clientID] -> *client
	mu       sync.RWMutex
}

func newSession(id, pluginID string, owner *client) *session {
	return &session{
		ID:       id,
		PluginID: pluginID,
		clients:  map[string]*client{owner.id: owner},
	}
}

// AddClient: adds a subscriber to the session
func (s *session) AddClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.id] == nil {
		c.logger.Info("client subscribed to session", "session_id", s.ID)
		s.clients[c.id] = c
	}
}

// RemoveClient: removes a client from the session
func (s *session) RemoveClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
}

// Broadcast: queues msg for every client in the session.
// Returns how many clients accepted it.
func (s *session) Broadcast(msg *protocol.Inbound) int {
	delivered := 0
	for _, c := range s.Clients() {
		if c.SendMessage(msg) {
			delivered++
		}
	}
	return delivered
}

func (s *session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Clients: returns a copy of the client list, so sends happen outside the lock
func (s *session) Clients() []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}

// sessionRegistry tracks the plugin runs in flight
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

func (r *sessionRegistry) start(id, pluginID string, owner *client) *session {
	sess := newSession(id, pluginID, owner)
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return sess
}

func (r *sessionRegistry) end(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// join adds c to a running session; false when no such session is running
func (r *sessionRegistry) join(id string, c *client) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	sess.AddClient(c)
	return true
}

// leave drops c from every session, on disconnect
func (r *sessionRegistry) leave(c *client) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.RemoveClient(c)
	}
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
